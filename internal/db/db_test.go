package db

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcwait "github.com/testcontainers/testcontainers-go/wait"
)

// newTestDb spins up a disposable Postgres container, runs migrations
// against it, and returns a connected Db. Tests that need a real database
// (LISTEN/NOTIFY, unique-constraint races) use this instead of mocking
// pgx, favoring a real integration test over a
// hand-rolled SQL mock.
func newTestDb(t *testing.T) *Db {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("relay_test"),
		postgres.WithUsername("relay"),
		postgres.WithPassword("relay"),
		testcontainers.WithWaitStrategy(
			tcwait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := New(ctx, Config{DatabaseURL: connStr}, logger)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestBlocksRoundTrip(t *testing.T) {
	d := newTestDb(t)
	ctx := context.Background()

	if err := d.AddBlock(ctx, "bad.example"); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	// Idempotent re-add.
	if err := d.AddBlock(ctx, "bad.example"); err != nil {
		t.Fatalf("AddBlock (repeat): %v", err)
	}

	blocked, err := d.IsBlocked(ctx, "bad.example")
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if !blocked {
		t.Fatal("expected bad.example to be blocked")
	}

	if err := d.RemoveBlock(ctx, "bad.example"); err != nil {
		t.Fatalf("RemoveBlock: %v", err)
	}
	blocked, err = d.IsBlocked(ctx, "bad.example")
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if blocked {
		t.Fatal("expected bad.example to be unblocked")
	}
}

func TestJobEnqueueDedup(t *testing.T) {
	d := newTestDb(t)
	ctx := context.Background()

	payload := DeliverPayload{Inbox: "https://a.example/inbox", Activity: []byte(`{"type":"Announce"}`)}
	if err := d.Enqueue(ctx, VariantDeliver, payload, "https://a.example/inbox", "https://relay.test/activities/1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// Same (recipient, activity_id): must be a no-op, not a conflict error.
	if err := d.Enqueue(ctx, VariantDeliver, payload, "https://a.example/inbox", "https://relay.test/activities/1"); err != nil {
		t.Fatalf("Enqueue (dup): %v", err)
	}

	job, err := d.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job.Variant != VariantDeliver {
		t.Errorf("Variant = %q, want %q", job.Variant, VariantDeliver)
	}

	if _, err := d.Claim(ctx); err == nil {
		t.Fatal("expected no second job to claim")
	}

	if err := d.Complete(ctx, job.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestJobRetryAndFail(t *testing.T) {
	d := newTestDb(t)
	ctx := context.Background()

	if err := d.Enqueue(ctx, VariantQueryNodeinfo, ListenerPayload{ListenerIRI: "https://b.example/actor"}, "", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := d.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if err := d.Retry(ctx, job.ID, MaxAttempts, "connection refused", time.Second); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	// At MaxAttempts, Retry must have routed to Fail rather than
	// rescheduling — so there should be nothing left to claim.
	if _, err := d.Claim(ctx); err == nil {
		t.Fatal("expected failed job to no longer be claimable")
	}
}
