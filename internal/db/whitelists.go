package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ListWhitelists returns every whitelisted host, used to hydrate State.
func (d *Db) ListWhitelists(ctx context.Context) ([]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT host FROM whitelists ORDER BY host`)
	if err != nil {
		return nil, classify("db.ListWhitelists", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var host string
		if err := rows.Scan(&host); err != nil {
			return nil, classify("db.ListWhitelists", err)
		}
		hosts = append(hosts, host)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("db.ListWhitelists", err)
	}
	return hosts, nil
}

// AddWhitelist inserts host into the whitelist and publishes new_whitelists.
func (d *Db) AddWhitelist(ctx context.Context, host string) error {
	host = strings.ToLower(host)
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO whitelists (host) VALUES ($1)
			ON CONFLICT (host) DO NOTHING
		`, host)
		if err != nil {
			return classify("db.AddWhitelist", err)
		}
		return notify(ctx, tx, ChanNewWhitelists, host)
	})
}

// RemoveWhitelist deletes host from the whitelist and publishes rm_whitelists.
func (d *Db) RemoveWhitelist(ctx context.Context, host string) error {
	host = strings.ToLower(host)
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM whitelists WHERE host = $1`, host)
		if err != nil {
			return classify("db.RemoveWhitelist", err)
		}
		return notify(ctx, tx, ChanRmWhitelists, host)
	})
}

// IsWhitelisted reports whether host is currently whitelisted.
func (d *Db) IsWhitelisted(ctx context.Context, host string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM whitelists WHERE host = $1)`, strings.ToLower(host),
	).Scan(&exists)
	if err != nil {
		return false, classify("db.IsWhitelisted", err)
	}
	return exists, nil
}
