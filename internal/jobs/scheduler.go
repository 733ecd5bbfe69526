package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hutchisr/relay/internal/db"
	"github.com/hutchisr/relay/internal/state"
)

// refreshInterval is how often the Scheduler refreshes every listener's
// NodeCache entry, per spec.md §4.8's "On startup and every 6 h".
const refreshInterval = 6 * time.Hour

// Scheduler enqueues the recurring QueryNodeinfo/QueryInstance refresh
// jobs for every current listener, once at startup and then on a fixed
// interval.
type Scheduler struct {
	db     *db.Db
	state  *state.State
	logger *slog.Logger
}

// Run enqueues a refresh pass immediately, then every refreshInterval
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.refresh(ctx)

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Scheduler) refresh(ctx context.Context) {
	listeners := s.state.Listeners()
	for iri := range listeners {
		payload := db.ListenerPayload{ListenerIRI: iri}
		if err := s.db.Enqueue(ctx, db.VariantQueryInstance, payload, iri, ""); err != nil {
			s.logger.Warn("scheduler: enqueue QueryInstance failed", slog.String("listener", iri), slog.String("error", err.Error()))
		}
		if err := s.db.Enqueue(ctx, db.VariantQueryNodeinfo, payload, iri, ""); err != nil {
			s.logger.Warn("scheduler: enqueue QueryNodeinfo failed", slog.String("listener", iri), slog.String("error", err.Error()))
		}
	}
	if len(listeners) > 0 {
		s.logger.Info("scheduler: enqueued refresh jobs", slog.Int("listeners", len(listeners)))
	}
}
