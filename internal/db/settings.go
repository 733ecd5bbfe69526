package db

import (
	"context"
	"crypto/rsa"

	"github.com/jackc/pgx/v5"

	"github.com/hutchisr/relay/internal/keys"
	"github.com/hutchisr/relay/internal/relayerr"
)

// SettingsOrInit loads the relay's private key, generating and persisting
// one on first boot. The settings table's single-row CHECK constraint
// (spec.md §3 invariant I4) makes this safe under concurrent first-boot
// races: the loser of the INSERT race simply re-reads the winner's row.
func (d *Db) SettingsOrInit(ctx context.Context) (*rsa.PrivateKey, error) {
	if key, err := d.loadSettings(ctx); err == nil {
		return key, nil
	} else if relayerr.KindOf(err) != relayerr.KindNotFound {
		return nil, err
	}

	newKey, err := keys.Generate()
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindInternal, "db.SettingsOrInit: generate", err)
	}
	pemStr, err := keys.EncodePKCS8PEM(newKey)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindInternal, "db.SettingsOrInit: encode", err)
	}

	err = pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO settings (id, private_key_pem) VALUES (true, $1)
			ON CONFLICT (id) DO NOTHING
		`, pemStr)
		return classify("db.SettingsOrInit: insert", err)
	})
	if err != nil {
		return nil, err
	}

	// Either we won the race and inserted newKey, or another replica beat
	// us to it; re-read so every caller converges on the same key.
	return d.loadSettings(ctx)
}

func (d *Db) loadSettings(ctx context.Context) (*rsa.PrivateKey, error) {
	var pemStr string
	err := d.pool.QueryRow(ctx, `SELECT private_key_pem FROM settings WHERE id = true`).Scan(&pemStr)
	if err != nil {
		return nil, classify("db.loadSettings", err)
	}
	key, err := keys.DecodePKCS8PEM(pemStr)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindInternal, "db.loadSettings: decode", err)
	}
	return key, nil
}
