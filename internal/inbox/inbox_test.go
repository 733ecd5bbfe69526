package inbox

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcwait "github.com/testcontainers/testcontainers-go/wait"

	"github.com/hutchisr/relay/internal/activitypub"
	"github.com/hutchisr/relay/internal/config"
	"github.com/hutchisr/relay/internal/db"
	"github.com/hutchisr/relay/internal/state"
)

func newTestDb(t *testing.T) *db.Db {
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
	d, err := db.New(ctx, db.Config{DatabaseURL: connStr}, logger)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Hostname = "relay.test"
	cfg.HTTPS = true
	return cfg
}

func principal(iri, inbox string) *db.CachedActor {
	return &db.CachedActor{IRI: iri, Inbox: inbox}
}

func TestHandleFollowAccepted(t *testing.T) {
	d := newTestDb(t)
	ctx := context.Background()
	cfg := testConfig()
	st := state.New(false, cfg.Hostname)
	h := New(d, st, cfg, nil)

	act := activitypub.Activity{
		ID:     "https://a.example/f/1",
		Type:   activitypub.TypeFollow,
		Actor:  "https://a.example/actor",
		Object: json.RawMessage(`"https://relay.test/actor"`),
	}
	p := principal("https://a.example/actor", "https://a.example/inbox")

	if err := h.Dispatch(ctx, act, p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if !st.IsListener(p.IRI) {
		t.Error("expected listener to be recorded in State")
	}
	l, err := d.GetListener(ctx, p.IRI)
	if err != nil {
		t.Fatalf("GetListener: %v", err)
	}
	if l.Inbox != p.Inbox {
		t.Errorf("listener inbox = %q, want %q", l.Inbox, p.Inbox)
	}

	seenVariants := map[string]int{}
	for {
		job, err := d.Claim(ctx)
		if err != nil {
			break
		}
		seenVariants[job.Variant]++
		if err := d.Complete(ctx, job.ID); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}
	for _, v := range []string{db.VariantDeliver, db.VariantQueryInstance, db.VariantQueryNodeinfo} {
		if seenVariants[v] != 1 {
			t.Errorf("variant %s enqueued %d times, want 1", v, seenVariants[v])
		}
	}
}

func TestHandleFollowRejectedByBlocklist(t *testing.T) {
	d := newTestDb(t)
	ctx := context.Background()
	cfg := testConfig()
	st := state.New(false, cfg.Hostname)
	st.CacheBlock("a.example")
	h := New(d, st, cfg, nil)

	act := activitypub.Activity{
		ID:     "https://a.example/f/2",
		Type:   activitypub.TypeFollow,
		Actor:  "https://a.example/actor",
		Object: json.RawMessage(`"https://relay.test/actor"`),
	}
	p := principal("https://a.example/actor", "https://a.example/inbox")

	if err := h.Dispatch(ctx, act, p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if st.IsListener(p.IRI) {
		t.Error("blocked host must not become a listener")
	}
	if _, err := d.GetListener(ctx, p.IRI); err == nil {
		t.Error("expected no listener row for a blocked host")
	}

	job, err := d.Claim(ctx)
	if err != nil {
		t.Fatalf("expected one Reject delivery job, got none: %v", err)
	}
	if job.Variant != db.VariantDeliver {
		t.Errorf("Variant = %q, want %q", job.Variant, db.VariantDeliver)
	}
	var payload db.DeliverPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	var wrapped activitypub.Activity
	if err := json.Unmarshal(payload.Activity, &wrapped); err != nil {
		t.Fatalf("unmarshal activity: %v", err)
	}
	if wrapped.Type != activitypub.TypeReject {
		t.Errorf("wrapped type = %q, want Reject", wrapped.Type)
	}

	if _, err := d.Claim(ctx); err == nil {
		t.Fatal("expected no further jobs for a rejected Follow")
	}
}

func TestHandleAnnounceFanOutExcludesSender(t *testing.T) {
	d := newTestDb(t)
	ctx := context.Background()
	cfg := testConfig()
	st := state.New(false, cfg.Hostname)
	st.CacheListener("https://a.example/actor", "https://a.example/inbox")
	st.CacheListener("https://b.example/actor", "https://b.example/inbox")
	st.CacheListener("https://c.example/actor", "https://c.example/inbox")
	h := New(d, st, cfg, nil)

	act := activitypub.Activity{
		ID:     "https://a.example/n/7",
		Type:   activitypub.TypeAnnounce,
		Actor:  "https://a.example/actor",
		Object: json.RawMessage(`"https://a.example/notes/1"`),
	}
	p := principal("https://a.example/actor", "https://a.example/inbox")

	if err := h.Dispatch(ctx, act, p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	seen := map[string]int{}
	for {
		job, err := d.Claim(ctx)
		if err != nil {
			break
		}
		var payload db.DeliverPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		seen[payload.Inbox]++
		if err := d.Complete(ctx, job.ID); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}

	if seen["https://a.example/inbox"] != 0 {
		t.Error("sender must not receive its own Announce back")
	}
	if seen["https://b.example/inbox"] != 1 || seen["https://c.example/inbox"] != 1 {
		t.Errorf("expected exactly one delivery each to b and c, got %v", seen)
	}

	// Re-delivery of the same activity id must be a no-op.
	if err := h.Dispatch(ctx, act, p); err != nil {
		t.Fatalf("Dispatch (redelivery): %v", err)
	}
	if _, err := d.Claim(ctx); err == nil {
		t.Fatal("expected duplicate Announce to enqueue no further jobs")
	}
}

func TestHandleUndoFollowRemovesListener(t *testing.T) {
	d := newTestDb(t)
	ctx := context.Background()
	cfg := testConfig()
	st := state.New(false, cfg.Hostname)
	h := New(d, st, cfg, nil)

	p := principal("https://a.example/actor", "https://a.example/inbox")
	if err := d.AddListener(ctx, p.IRI, p.Inbox); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	st.CacheListener(p.IRI, p.Inbox)

	innerFollow := activitypub.Activity{
		ID:     "https://a.example/f/1",
		Type:   activitypub.TypeFollow,
		Actor:  p.IRI,
		Object: json.RawMessage(`"https://relay.test/actor"`),
	}
	undo := activitypub.Activity{
		ID:     "https://a.example/u/1",
		Type:   activitypub.TypeUndo,
		Actor:  p.IRI,
		Object: mustMarshal(innerFollow),
	}

	if err := h.Dispatch(ctx, undo, p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if st.IsListener(p.IRI) {
		t.Error("expected listener to be removed after Undo(Follow)")
	}
	if _, err := d.GetListener(ctx, p.IRI); err == nil {
		t.Error("expected listener row to be deleted")
	}
}
