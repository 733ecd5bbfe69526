// Package notifybus maintains a single dedicated LISTEN connection against
// Postgres and dispatches NOTIFY payloads to registered handlers by
// channel name. This is how every replica's State/ActorCache/NodeCache
// stay coherent without a shared in-process cache (spec.md §4.2, §8
// scenario 6).
//
// The supervised reconnect loop is grounded on a runListenerWithRetry-
// style shape: reconnect indefinitely on
// any non-context-cancellation error, backing off between attempts, and
// returning cleanly when the context is cancelled.
package notifybus

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hutchisr/relay/internal/backoff"
)

// Handler processes a single NOTIFY payload delivered on its channel.
type Handler func(payload string)

// Bus owns one dedicated connection LISTENing on a fixed set of channels
// and fans notifications out to registered handlers.
type Bus struct {
	connString string
	logger     *slog.Logger

	handlers map[string][]Handler
}

// New constructs a Bus that will connect using connString once Start runs.
func New(connString string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		connString: connString,
		logger:     logger,
		handlers:   make(map[string][]Handler),
	}
}

// Register adds h to the set of handlers invoked when channel fires.
// Register must be called before Start; the handler map is not
// synchronized for concurrent registration during an active Start loop.
func (b *Bus) Register(channel string, h Handler) {
	b.handlers[channel] = append(b.handlers[channel], h)
}

// Start runs the supervised LISTEN loop until ctx is cancelled. It never
// returns an error for a lost connection — it logs and reconnects — and
// only returns once ctx is done.
func (b *Bus) Start(ctx context.Context) {
	retryCount := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := pgx.Connect(ctx, b.connString)
		if err != nil {
			retryCount++
			delay := backoff.Reconnect(retryCount)
			b.logger.Error("notifybus: connect failed, retrying",
				slog.Any("error", err), slog.Duration("backoff", delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		retryCount = 0

		if err := b.listenAll(ctx, conn); err != nil {
			b.logger.Error("notifybus: listen setup failed", slog.Any("error", err))
			conn.Close(ctx)
			retryCount++
			if !sleep(ctx, backoff.Reconnect(retryCount)) {
				return
			}
			continue
		}

		b.logger.Info("notifybus: listening", slog.Int("channels", len(b.handlers)))
		b.consumeUntilError(ctx, conn)
		conn.Close(ctx)

		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("notifybus: connection lost, reconnecting")
	}
}

func (b *Bus) listenAll(ctx context.Context, conn *pgx.Conn) error {
	for channel := range b.handlers {
		if _, err := conn.Exec(ctx, `LISTEN "`+channel+`"`); err != nil {
			return err
		}
	}
	return nil
}

// consumeUntilError blocks on WaitForNotification until ctx is cancelled
// or the connection errors, dispatching each notification as it arrives.
func (b *Bus) consumeUntilError(ctx context.Context, conn *pgx.Conn) {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Debug("notifybus: wait error", slog.Any("error", err))
			return
		}
		for _, h := range b.handlers[n.Channel] {
			go h(n.Payload)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
