package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Listener is a subscribed remote relay follower: an actor whose Follow
// was accepted and whose inbox now receives relayed activities.
type Listener struct {
	IRI       string
	Inbox     string
	CreatedAt time.Time
}

// ListListeners returns every current listener, used to hydrate State and
// to drive fan-out delivery.
func (d *Db) ListListeners(ctx context.Context) ([]Listener, error) {
	rows, err := d.pool.Query(ctx, `SELECT iri, inbox, created_at FROM listeners ORDER BY iri`)
	if err != nil {
		return nil, classify("db.ListListeners", err)
	}
	defer rows.Close()

	var out []Listener
	for rows.Next() {
		var l Listener
		if err := rows.Scan(&l.IRI, &l.Inbox, &l.CreatedAt); err != nil {
			return nil, classify("db.ListListeners", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("db.ListListeners", err)
	}
	return out, nil
}

// GetListener loads a single listener row by IRI.
func (d *Db) GetListener(ctx context.Context, iri string) (*Listener, error) {
	var l Listener
	err := d.pool.QueryRow(ctx, `SELECT iri, inbox, created_at FROM listeners WHERE iri = $1`, iri).
		Scan(&l.IRI, &l.Inbox, &l.CreatedAt)
	if err != nil {
		return nil, classify("db.GetListener", err)
	}
	return &l, nil
}

// AddListener registers iri as a listener with the given inbox URL and
// publishes new_listeners. Accepting a repeat Follow from the same actor
// is idempotent: the inbox URL is refreshed in case the actor moved.
func (d *Db) AddListener(ctx context.Context, iri, inbox string) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO listeners (iri, inbox) VALUES ($1, $2)
			ON CONFLICT (iri) DO UPDATE SET inbox = EXCLUDED.inbox
		`, iri, inbox)
		if err != nil {
			return classify("db.AddListener", err)
		}
		return notify(ctx, tx, ChanNewListeners, iri)
	})
}

// RemoveListener drops iri from the listener set (on Undo(Follow)) and
// publishes rm_listeners. Its nodes row cascades away with it.
func (d *Db) RemoveListener(ctx context.Context, iri string) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM listeners WHERE iri = $1`, iri)
		if err != nil {
			return classify("db.RemoveListener", err)
		}
		return notify(ctx, tx, ChanRmListeners, iri)
	})
}
