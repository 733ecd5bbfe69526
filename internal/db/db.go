// Package db provides typed, transactional access to the relay's
// PostgreSQL-backed state: listeners, nodes, blocks, whitelists, settings,
// and jobs. Every mutating method on blocks, whitelists, listeners, actors
// and nodes commits a NOTIFY on one of the named channels so NotifyBus can
// fan the change out to every replica's in-memory caches (spec.md §4.1);
// job-queue and settings writes publish no notification.
package db

import (
	"context"
	"embed"
	"errors"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hutchisr/relay/internal/relayerr"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Notification channels, per spec.md §4.1.
const (
	ChanNewBlocks     = "new_blocks"
	ChanRmBlocks      = "rm_blocks"
	ChanNewWhitelists = "new_whitelists"
	ChanRmWhitelists  = "rm_whitelists"
	ChanNewListeners  = "new_listeners"
	ChanRmListeners   = "rm_listeners"
	ChanNewActors     = "new_actors"
	ChanRmActors      = "rm_actors"
	ChanNewNodes      = "new_nodes"
	ChanRmNodes       = "rm_nodes"
)

// AllChannels lists every channel NotifyBus must LISTEN on.
var AllChannels = []string{
	ChanNewBlocks, ChanRmBlocks,
	ChanNewWhitelists, ChanRmWhitelists,
	ChanNewListeners, ChanRmListeners,
	ChanNewActors, ChanRmActors,
	ChanNewNodes, ChanRmNodes,
}

// Db wraps a pgxpool.Pool with the relay's typed query surface.
type Db struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Config mirrors a PostgresConfig-style shape: connection string plus
// pool sizing parameters.
type Config struct {
	DatabaseURL     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// New connects to Postgres, runs pending migrations, and returns a ready Db.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Db, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindInternal, "db.New: parse config", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	} else {
		poolConfig.MaxConns = 32
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransientNetwork, "db.New: connect", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, relayerr.Wrap(relayerr.KindTransientNetwork, "db.New: ping", err)
	}

	d := &Db{pool: pool, logger: logger}
	if err := d.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("db connected", slog.String("component", "db"))
	return d, nil
}

// Close releases the underlying connection pool.
func (d *Db) Close() {
	d.pool.Close()
}

// Pool exposes the underlying connection pool. NotifyBus does not use it:
// it opens its own connection with pgx.Connect.
func (d *Db) Pool() *pgxpool.Pool {
	return d.pool
}

func (d *Db) migrate(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    int PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return relayerr.Wrap(relayerr.KindInternal, "db.migrate: create migrations table", err)
	}

	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return relayerr.Wrap(relayerr.KindInternal, "db.migrate: read schema dir", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for i, name := range names {
		version := i + 1
		var applied bool
		err := d.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version,
		).Scan(&applied)
		if err != nil {
			return relayerr.Wrap(relayerr.KindInternal, "db.migrate: check version", err)
		}
		if applied {
			continue
		}

		sqlBytes, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			return relayerr.Wrap(relayerr.KindInternal, "db.migrate: read "+name, err)
		}

		tx, err := d.pool.Begin(ctx)
		if err != nil {
			return relayerr.Wrap(relayerr.KindTransientNetwork, "db.migrate: begin", err)
		}
		if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
			tx.Rollback(ctx)
			return relayerr.Wrap(relayerr.KindInternal, "db.migrate: exec "+name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			tx.Rollback(ctx)
			return relayerr.Wrap(relayerr.KindInternal, "db.migrate: record version", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return relayerr.Wrap(relayerr.KindTransientNetwork, "db.migrate: commit", err)
		}

		d.logger.Info("applied migration", slog.String("file", name))
	}
	return nil
}

// classify maps a pgx/pgconn error to the relay's closed error-kind enum.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == pgx.ErrNoRows {
		return relayerr.Wrap(relayerr.KindNotFound, op, err)
	}
	var pgErr *pgconn.PgError
	if ok := asPgError(err, &pgErr); ok {
		switch {
		case pgErr.Code == "23505": // unique_violation
			return relayerr.Wrap(relayerr.KindConflict, op, err)
		case pgErr.Code == "40001": // serialization_failure
			return relayerr.Wrap(relayerr.KindSerialization, op, err)
		case strings.HasPrefix(pgErr.Code, "08"): // connection exceptions
			return relayerr.Wrap(relayerr.KindTransientNetwork, op, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return relayerr.Wrap(relayerr.KindTransientNetwork, op, err)
	}
	return relayerr.Wrap(relayerr.KindInternal, op, err)
}

func asPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok {
			*target = pgErr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// notify issues NOTIFY <channel>, '<payload>' as the final statement of tx.
func notify(ctx context.Context, tx pgx.Tx, channel, payload string) error {
	// pg_notify avoids hand-quoting the payload for the NOTIFY statement.
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, payload)
	if err != nil {
		return classify("db.notify", err)
	}
	return nil
}
