package notifybus

import (
	"context"
	"log/slog"

	"github.com/hutchisr/relay/internal/actorcache"
	"github.com/hutchisr/relay/internal/db"
	"github.com/hutchisr/relay/internal/nodecache"
	"github.com/hutchisr/relay/internal/state"
)

// RegisterDefaults wires every channel in db.AllChannels to the in-memory
// caches it invalidates or populates. This is the Go shape of
// original_source/src/notify.rs's NewBlocks/RmBlocks/.../NewNodes/RmNodes
// Listener implementations, collapsed into one registration pass instead
// of ten one-off structs since Go closures make that indirection
// unnecessary.
func RegisterDefaults(bus *Bus, d *db.Db, st *state.State, actors *actorcache.Cache, nodes *nodecache.Cache, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx := context.Background()

	bus.Register(db.ChanNewBlocks, func(payload string) {
		logger.Info("caching block", slog.String("host", payload))
		st.CacheBlock(payload)
	})
	bus.Register(db.ChanRmBlocks, func(payload string) {
		logger.Info("busting block cache", slog.String("host", payload))
		st.BustBlock(payload)
	})
	bus.Register(db.ChanNewWhitelists, func(payload string) {
		logger.Info("caching whitelist", slog.String("host", payload))
		st.CacheWhitelist(payload)
	})
	bus.Register(db.ChanRmWhitelists, func(payload string) {
		logger.Info("busting whitelist cache", slog.String("host", payload))
		st.BustWhitelist(payload)
	})
	bus.Register(db.ChanNewListeners, func(payload string) {
		l, err := d.GetListener(ctx, payload)
		if err != nil {
			logger.Warn("not caching listener, lookup failed", slog.String("iri", payload), slog.Any("error", err))
			return
		}
		logger.Info("caching listener", slog.String("iri", payload))
		st.CacheListener(l.IRI, l.Inbox)
	})
	bus.Register(db.ChanRmListeners, func(payload string) {
		logger.Info("busting listener cache", slog.String("iri", payload))
		st.BustListener(payload)
	})
	bus.Register(db.ChanNewActors, func(payload string) {
		logger.Info("caching actor", slog.String("iri", payload))
		actors.CacheFromNotify(ctx, payload)
	})
	bus.Register(db.ChanRmActors, func(payload string) {
		logger.Info("busting actor cache", slog.String("iri", payload))
		actors.BustFromNotify(payload)
	})
	bus.Register(db.ChanNewNodes, func(payload string) {
		logger.Info("caching node", slog.String("listener_iri", payload))
		nodes.CacheFromNotify(ctx, payload)
	})
	bus.Register(db.ChanRmNodes, func(payload string) {
		logger.Info("busting node cache", slog.String("listener_iri", payload))
		nodes.BustFromNotify(payload)
	})
}
