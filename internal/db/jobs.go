package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hutchisr/relay/internal/relayerr"
)

// Job variant tags, per spec.md §4.8.
const (
	VariantDeliver       = "Deliver"
	VariantQueryInstance = "QueryInstance"
	VariantQueryNodeinfo = "QueryNodeinfo"
	VariantQueryContact  = "QueryContact"
)

// Job states.
const (
	StatePending = "pending"
	StateRunning = "running"
	StateFailed  = "failed"
)

// MaxAttempts is the attempt cap after which a job transitions to failed
// and stops retrying (spec.md §4.8).
const MaxAttempts = 10

// LeaseTimeout is how long a running job may hold its lease before the
// sweeper assumes its worker crashed and reclaims it (spec.md §4.8).
const LeaseTimeout = 10 * time.Minute

// Job is a durable unit of background work claimed and executed by a
// worker in the JobServer pool.
type Job struct {
	ID         uuid.UUID
	Variant    string
	Payload    json.RawMessage
	State      string
	Attempt    int
	NextRun    time.Time
	LastError  string
	LeasedAt   *time.Time
	Recipient  string
	ActivityID string
}

// DeliverPayload is the JSON payload shape for a VariantDeliver job.
type DeliverPayload struct {
	Inbox    string          `json:"inbox"`
	Activity json.RawMessage `json:"activity"`
}

// ListenerPayload is the JSON payload shape for the QueryInstance,
// QueryNodeinfo, and QueryContact variants, all of which operate on a
// single listener IRI.
type ListenerPayload struct {
	ListenerIRI string `json:"listener_iri"`
}

// Enqueue inserts a new pending job. If recipient and activityID are both
// non-empty, the unique jobs_dedup_idx makes a duplicate enqueue a no-op
// (the insert uses ON CONFLICT DO NOTHING, so no KindConflict error is
// raised, per spec.md §4.7's duplicate-suppression requirement).
func (d *Db) Enqueue(ctx context.Context, variant string, payload any, recipient, activityID string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return relayerr.Wrap(relayerr.KindInternal, "db.Enqueue: marshal", err)
	}

	var recipientArg, activityIDArg any
	if recipient != "" {
		recipientArg = recipient
	}
	if activityID != "" {
		activityIDArg = activityID
	}

	_, err = d.pool.Exec(ctx, `
		INSERT INTO jobs (id, variant, payload, recipient, activity_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (recipient, activity_id) WHERE activity_id IS NOT NULL DO NOTHING
	`, uuid.New(), variant, body, recipientArg, activityIDArg)
	if err != nil {
		return classify("db.Enqueue", err)
	}
	return nil
}

// Claim atomically selects the oldest due pending job, marks it running
// with a fresh lease, and returns it. It returns relayerr.KindNotFound
// when no job is due — not an error condition for a polling worker.
func (d *Db) Claim(ctx context.Context) (*Job, error) {
	var tx pgx.Tx
	var err error
	tx, err = d.pool.Begin(ctx)
	if err != nil {
		return nil, classify("db.Claim: begin", err)
	}
	defer tx.Rollback(ctx)

	var j Job
	err = tx.QueryRow(ctx, `
		SELECT id, variant, payload, state, attempt, next_run, last_error, leased_at,
		       COALESCE(recipient, ''), COALESCE(activity_id, '')
		FROM jobs
		WHERE state = 'pending' AND next_run <= now()
		ORDER BY next_run
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&j.ID, &j.Variant, &j.Payload, &j.State, &j.Attempt, &j.NextRun, &j.LastError,
		&j.LeasedAt, &j.Recipient, &j.ActivityID)
	if err != nil {
		return nil, classify("db.Claim", err)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `UPDATE jobs SET state = 'running', leased_at = $2 WHERE id = $1`, j.ID, now)
	if err != nil {
		return nil, classify("db.Claim: mark running", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify("db.Claim: commit", err)
	}

	j.State = StateRunning
	j.LeasedAt = &now
	return &j, nil
}

// Complete deletes a successfully finished job row.
func (d *Db) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return classify("db.Complete", err)
	}
	return nil
}

// Retry schedules a retryable-failure job for another attempt using the
// spec's backoff formula, or marks it failed once MaxAttempts is reached.
func (d *Db) Retry(ctx context.Context, id uuid.UUID, attempt int, lastErr string, delay time.Duration) error {
	if attempt >= MaxAttempts {
		return d.Fail(ctx, id, lastErr)
	}
	_, err := d.pool.Exec(ctx, `
		UPDATE jobs SET state = 'pending', attempt = $2, next_run = now() + make_interval(secs => $3),
		       last_error = $4, leased_at = NULL
		WHERE id = $1
	`, id, attempt, delay.Seconds(), lastErr)
	if err != nil {
		return classify("db.Retry", err)
	}
	return nil
}

// Fail marks a job permanently failed (attempt cap reached, or a
// non-retryable error).
func (d *Db) Fail(ctx context.Context, id uuid.UUID, lastErr string) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE jobs SET state = 'failed', last_error = $2, leased_at = NULL WHERE id = $1
	`, id, lastErr)
	if err != nil {
		return classify("db.Fail", err)
	}
	return nil
}

// ReclaimStaleLeases resets any running job whose lease has exceeded
// LeaseTimeout back to pending, recovering from a crashed worker.
func (d *Db) ReclaimStaleLeases(ctx context.Context) (int64, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE jobs SET state = 'pending', leased_at = NULL
		WHERE state = 'running' AND leased_at < now() - make_interval(secs => $1)
	`, LeaseTimeout.Seconds())
	if err != nil {
		return 0, classify("db.ReclaimStaleLeases", err)
	}
	return tag.RowsAffected(), nil
}
