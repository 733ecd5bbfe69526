package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// NodeInfo is the durable record behind NodeCache: the federation
// software/version metadata fetched from a listener's NodeInfo document.
type NodeInfo struct {
	ID              uuid.UUID
	ListenerIRI     string
	SoftwareName    string
	SoftwareVersion string
	Title           string
	Description     string
	AdminContact    string
	RefreshedAt     time.Time
}

// GetNodeByListener loads the NodeInfo row for a given listener IRI.
func (d *Db) GetNodeByListener(ctx context.Context, listenerIRI string) (*NodeInfo, error) {
	var n NodeInfo
	err := d.pool.QueryRow(ctx, `
		SELECT id, listener_iri, software_name, software_version, title, description, admin_contact, refreshed_at
		FROM nodes WHERE listener_iri = $1
	`, listenerIRI).Scan(&n.ID, &n.ListenerIRI, &n.SoftwareName, &n.SoftwareVersion,
		&n.Title, &n.Description, &n.AdminContact, &n.RefreshedAt)
	if err != nil {
		return nil, classify("db.GetNodeByListener", err)
	}
	return &n, nil
}

// UpsertNode writes a refreshed NodeInfo row and publishes new_nodes.
func (d *Db) UpsertNode(ctx context.Context, n NodeInfo) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO nodes (id, listener_iri, software_name, software_version, title, description, admin_contact, refreshed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (listener_iri) DO UPDATE SET
				software_name = EXCLUDED.software_name,
				software_version = EXCLUDED.software_version,
				title = EXCLUDED.title,
				description = EXCLUDED.description,
				admin_contact = EXCLUDED.admin_contact,
				refreshed_at = now()
		`, n.ID, n.ListenerIRI, n.SoftwareName, n.SoftwareVersion, n.Title, n.Description, n.AdminContact)
		if err != nil {
			return classify("db.UpsertNode", err)
		}
		return notify(ctx, tx, ChanNewNodes, n.ListenerIRI)
	})
}

// RemoveNode deletes the NodeInfo row for listenerIRI and publishes
// rm_nodes; its caller is nodecache.Cache.Bust. A removed listener's node
// row goes with the FK cascade instead.
func (d *Db) RemoveNode(ctx context.Context, listenerIRI string) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM nodes WHERE listener_iri = $1`, listenerIRI)
		if err != nil {
			return classify("db.RemoveNode", err)
		}
		return notify(ctx, tx, ChanRmNodes, listenerIRI)
	})
}

// StaleNodes returns listener IRIs whose NodeInfo hasn't been refreshed
// within maxAge, plus listeners that have no NodeInfo row at all.
func (d *Db) StaleNodes(ctx context.Context, maxAge time.Duration) ([]string, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT listener_iri FROM nodes WHERE refreshed_at < now() - make_interval(secs => $1)
		UNION
		SELECT iri FROM listeners WHERE iri NOT IN (SELECT listener_iri FROM nodes)
	`, maxAge.Seconds())
	if err != nil {
		return nil, classify("db.StaleNodes", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var iri string
		if err := rows.Scan(&iri); err != nil {
			return nil, classify("db.StaleNodes", err)
		}
		out = append(out, iri)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("db.StaleNodes", err)
	}
	return out, nil
}
