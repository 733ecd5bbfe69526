// Package actorcache provides a replica-local, TTL-bounded LRU in front of
// Db's actors table, so verifying a signature doesn't hit Postgres on
// every inbound request. Generalizes the expirable-LRU-in-front-of-a-DB-lookup
// pattern (golang-lru/v2/expirable wrapping a typed query)
// and on original_source/src/notify.rs's ActorCache NewActors/RmActors handlers.
package actorcache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hutchisr/relay/internal/db"
	"github.com/hutchisr/relay/internal/relayerr"
)

// TTL bounds how long a cached actor is trusted before ActorCache re-fetches
// it from Db, per SPEC_FULL.md §4.4.
const TTL = 24 * time.Hour

// Cache is a process-local LRU of actor IRI -> db.CachedActor, kept
// coherent with peers via NotifyBus's new_actors/rm_actors channels.
type Cache struct {
	db    *db.Db
	cache *lru.LRU[string, db.CachedActor]
}

// New constructs an actor cache of the given capacity.
func New(d *db.Db, size int) *Cache {
	return &Cache{
		db:    d,
		cache: lru.NewLRU[string, db.CachedActor](size, nil, TTL),
	}
}

// Get returns the actor document for iri, preferring the in-memory LRU and
// falling back to Db on a miss. It does not perform a network fetch — that
// is Requests' job when Db itself returns KindNotFound.
func (c *Cache) Get(ctx context.Context, iri string) (*db.CachedActor, error) {
	if a, ok := c.cache.Get(iri); ok {
		return &a, nil
	}
	a, err := c.db.GetActor(ctx, iri)
	if err != nil {
		return nil, err
	}
	c.cache.Add(iri, *a)
	return a, nil
}

// Put writes a refreshed actor into Db and the local LRU, and is also the
// entrypoint NotifyBus's new_actors handler uses to populate the LRU from
// another replica's write without re-reading Db.
func (c *Cache) Put(ctx context.Context, a db.CachedActor) error {
	if err := c.db.UpsertActor(ctx, a); err != nil {
		return err
	}
	c.cache.Add(a.IRI, a)
	return nil
}

// CacheFromNotify loads iri fresh from Db into the local LRU; used by the
// new_actors NotifyBus handler, which only receives the IRI as payload.
func (c *Cache) CacheFromNotify(ctx context.Context, iri string) {
	a, err := c.db.GetActor(ctx, iri)
	if err != nil {
		return
	}
	c.cache.Add(iri, *a)
}

// Bust evicts iri from the local LRU and deletes it from Db, forcing the
// next lookup to re-fetch over the network.
func (c *Cache) Bust(ctx context.Context, iri string) error {
	c.cache.Remove(iri)
	return c.db.BustActor(ctx, iri)
}

// BustFromNotify evicts iri from only the local LRU, used by the rm_actors
// NotifyBus handler (the row is already gone on the writer's replica).
func (c *Cache) BustFromNotify(iri string) {
	c.cache.Remove(iri)
}

// IsNotFound reports whether err means "no cached actor", distinguishing a
// cache/DB miss (caller should fetch over the network) from a real failure.
func IsNotFound(err error) bool {
	return relayerr.KindOf(err) == relayerr.KindNotFound
}
