package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// CachedActor is the durable record behind ActorCache's in-memory LRU: the
// subset of a remote actor document needed to verify a signature and to
// address deliveries back to it.
type CachedActor struct {
	IRI          string
	Inbox        string
	SharedInbox  string
	PublicKeyID  string
	PublicKeyPEM string
	CachedAt     time.Time
}

// GetActor loads a cached actor row, returning relayerr.KindNotFound if
// absent so ActorCache knows to re-fetch from the network.
func (d *Db) GetActor(ctx context.Context, iri string) (*CachedActor, error) {
	var a CachedActor
	err := d.pool.QueryRow(ctx, `
		SELECT iri, inbox, shared_inbox, public_key_id, public_key_pem, cached_at
		FROM actors WHERE iri = $1
	`, iri).Scan(&a.IRI, &a.Inbox, &a.SharedInbox, &a.PublicKeyID, &a.PublicKeyPEM, &a.CachedAt)
	if err != nil {
		return nil, classify("db.GetActor", err)
	}
	return &a, nil
}

// UpsertActor writes a freshly fetched actor document into the cache table
// and publishes new_actors so other replicas' LRUs pick up the refresh.
func (d *Db) UpsertActor(ctx context.Context, a CachedActor) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO actors (iri, inbox, shared_inbox, public_key_id, public_key_pem, cached_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (iri) DO UPDATE SET
				inbox = EXCLUDED.inbox,
				shared_inbox = EXCLUDED.shared_inbox,
				public_key_id = EXCLUDED.public_key_id,
				public_key_pem = EXCLUDED.public_key_pem,
				cached_at = now()
		`, a.IRI, a.Inbox, a.SharedInbox, a.PublicKeyID, a.PublicKeyPEM)
		if err != nil {
			return classify("db.UpsertActor", err)
		}
		return notify(ctx, tx, ChanNewActors, a.IRI)
	})
}

// BustActor removes a cached actor, forcing the next signature check to
// re-fetch it — used by the signature verifier's key-rotation retry.
func (d *Db) BustActor(ctx context.Context, iri string) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM actors WHERE iri = $1`, iri)
		if err != nil {
			return classify("db.BustActor", err)
		}
		return notify(ctx, tx, ChanRmActors, iri)
	})
}
