package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ListBlocks returns every blocked host, used to hydrate State at startup.
func (d *Db) ListBlocks(ctx context.Context) ([]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT host FROM blocks ORDER BY host`)
	if err != nil {
		return nil, classify("db.ListBlocks", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var host string
		if err := rows.Scan(&host); err != nil {
			return nil, classify("db.ListBlocks", err)
		}
		hosts = append(hosts, host)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("db.ListBlocks", err)
	}
	return hosts, nil
}

// AddBlock inserts host into the blocklist and publishes new_blocks. A
// duplicate insert is treated as success (spec.md §4.1 idempotency note).
func (d *Db) AddBlock(ctx context.Context, host string) error {
	host = strings.ToLower(host)
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO blocks (host) VALUES ($1)
			ON CONFLICT (host) DO NOTHING
		`, host)
		if err != nil {
			return classify("db.AddBlock", err)
		}
		return notify(ctx, tx, ChanNewBlocks, host)
	})
}

// RemoveBlock deletes host from the blocklist and publishes rm_blocks.
func (d *Db) RemoveBlock(ctx context.Context, host string) error {
	host = strings.ToLower(host)
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM blocks WHERE host = $1`, host)
		if err != nil {
			return classify("db.RemoveBlock", err)
		}
		return notify(ctx, tx, ChanRmBlocks, host)
	})
}

// IsBlocked reports whether host is currently blocked, bypassing State's
// in-memory cache and reading the committed row directly.
func (d *Db) IsBlocked(ctx context.Context, host string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM blocks WHERE host = $1)`, strings.ToLower(host),
	).Scan(&exists)
	if err != nil {
		return false, classify("db.IsBlocked", err)
	}
	return exists, nil
}
