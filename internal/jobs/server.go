// Package jobs implements JobServer + Workers (spec.md §4.8): a durable
// queue backed by Db's jobs table, a fixed worker-goroutine pool that
// claims and executes jobs, and a recurring Scheduler that keeps NodeCache
// fresh. Grounded on the reference corpus's SQL-backed job worker
// (other_examples' internal/jobs/worker/worker.go: runLoop per goroutine,
// ticker-driven claim, panic-safe dispatch) and on internal/backoff's
// exponential-with-jitter formula for retry scheduling.
package jobs

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/hutchisr/relay/internal/backoff"
	"github.com/hutchisr/relay/internal/db"
	"github.com/hutchisr/relay/internal/nodecache"
	"github.com/hutchisr/relay/internal/relayerr"
	"github.com/hutchisr/relay/internal/requests"
	"github.com/hutchisr/relay/internal/state"
)

// pollInterval is how often an idle worker checks for a runnable job.
const pollInterval = time.Second

// sweepInterval is how often the stale-lease sweeper runs.
const sweepInterval = time.Minute

// Server owns the worker pool, the lease sweeper, and the recurring
// Scheduler. It exposes no queue(job)/schedule(job, at) API of its own
// beyond Db.Enqueue, which every producer (inbox handler, Scheduler) calls
// directly — Server's job is running workers against what Db already
// holds.
type Server struct {
	db       *db.Db
	requests *requests.Client
	nodes    *nodecache.Cache
	state    *state.State
	logger   *slog.Logger

	concurrency int
}

// New constructs a Server. concurrency <= 0 defaults to runtime.NumCPU(),
// per spec.md §4.8 ("Workers run one per logical CPU").
func New(d *db.Db, reqs *requests.Client, nodes *nodecache.Cache, st *state.State, concurrency int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Server{db: d, requests: reqs, nodes: nodes, state: st, concurrency: concurrency, logger: logger}
}

// Start spawns the worker pool, the lease sweeper, and the recurring
// Scheduler, all watching ctx for graceful shutdown.
func (s *Server) Start(ctx context.Context) {
	for i := 0; i < s.concurrency; i++ {
		go s.runLoop(ctx, i)
	}
	go s.sweepLoop(ctx)

	sched := &Scheduler{db: s.db, state: s.state, logger: s.logger}
	go sched.Run(ctx)
}

func (s *Server) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.claimAndRun(ctx, workerID)
		}
	}
}

func (s *Server) claimAndRun(ctx context.Context, workerID int) {
	job, err := s.db.Claim(ctx)
	if err != nil {
		if relayerr.KindOf(err) != relayerr.KindNotFound {
			s.logger.Warn("job claim failed", slog.Int("worker", workerID), slog.String("error", err.Error()))
		}
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("job handler panic",
					slog.Int("worker", workerID), slog.String("job_id", job.ID.String()),
					slog.String("variant", job.Variant), slog.Any("panic", r))
				_ = s.db.Fail(ctx, job.ID, "panic during job execution")
			}
		}()

		if err := s.dispatch(ctx, *job); err != nil {
			s.finishWithError(ctx, *job, err)
			return
		}
		if err := s.db.Complete(ctx, job.ID); err != nil {
			s.logger.Warn("job complete failed", slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))
		}
	}()
}

// finishWithError routes a failed job to Retry or Fail per spec.md §7's
// retryable-vs-permanent classification.
func (s *Server) finishWithError(ctx context.Context, job db.Job, err error) {
	s.logger.Warn("job failed", slog.String("job_id", job.ID.String()),
		slog.String("variant", job.Variant), slog.Int("attempt", job.Attempt), slog.String("error", err.Error()))

	if !relayerr.Retryable(err) {
		if ferr := s.db.Fail(ctx, job.ID, err.Error()); ferr != nil {
			s.logger.Warn("job fail write failed", slog.String("job_id", job.ID.String()), slog.String("error", ferr.Error()))
		}
		return
	}

	attempt := job.Attempt + 1
	delay := backoff.Delivery(attempt)
	if rerr := s.db.Retry(ctx, job.ID, attempt, err.Error(), delay); rerr != nil {
		s.logger.Warn("job retry write failed", slog.String("job_id", job.ID.String()), slog.String("error", rerr.Error()))
	}
}

func (s *Server) dispatch(ctx context.Context, job db.Job) error {
	switch job.Variant {
	case db.VariantDeliver:
		return s.runDeliver(ctx, job)
	case db.VariantQueryInstance:
		return s.runQueryInstance(ctx, job)
	case db.VariantQueryNodeinfo:
		return s.runQueryNodeinfo(ctx, job)
	case db.VariantQueryContact:
		return s.runQueryContact(ctx, job)
	default:
		return relayerr.New(relayerr.KindInternal, "jobs.dispatch: unknown variant "+job.Variant)
	}
}

// sweepLoop periodically reclaims leases abandoned by a crashed worker.
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.db.ReclaimStaleLeases(ctx)
			if err != nil {
				s.logger.Warn("lease sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				s.logger.Info("reclaimed stale job leases", slog.Int64("count", n))
			}
		}
	}
}
