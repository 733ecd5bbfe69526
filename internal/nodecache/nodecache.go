// Package nodecache is NodeCache from spec.md §4.2: a TTL-bounded LRU over
// Db's nodes table, keyed by listener IRI, used by the QueryInstance,
// QueryNodeinfo and QueryContact job handlers. Grounded on the
// same expirable-LRU pattern as internal/actorcache and on
// original_source/src/notify.rs's NodeCache NewNodes/RmNodes handlers.
package nodecache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hutchisr/relay/internal/db"
)

// TTL bounds how long a cached NodeInfo entry is served before the
// scheduler's next refresh window would have updated it anyway.
const TTL = 6 * time.Hour

// Cache is a process-local LRU of listener IRI -> db.NodeInfo.
type Cache struct {
	db    *db.Db
	cache *lru.LRU[string, db.NodeInfo]
}

// New constructs a node cache of the given capacity.
func New(d *db.Db, size int) *Cache {
	return &Cache{
		db:    d,
		cache: lru.NewLRU[string, db.NodeInfo](size, nil, TTL),
	}
}

// Get returns the NodeInfo for a listener, preferring the in-memory LRU.
func (c *Cache) Get(ctx context.Context, listenerIRI string) (*db.NodeInfo, error) {
	if n, ok := c.cache.Get(listenerIRI); ok {
		return &n, nil
	}
	n, err := c.db.GetNodeByListener(ctx, listenerIRI)
	if err != nil {
		return nil, err
	}
	c.cache.Add(listenerIRI, *n)
	return n, nil
}

// Put persists a refreshed NodeInfo and updates the local LRU.
func (c *Cache) Put(ctx context.Context, n db.NodeInfo) error {
	if err := c.db.UpsertNode(ctx, n); err != nil {
		return err
	}
	c.cache.Add(n.ListenerIRI, n)
	return nil
}

// CacheFromNotify loads a listener's NodeInfo fresh from Db into the LRU;
// used by the new_nodes NotifyBus handler.
func (c *Cache) CacheFromNotify(ctx context.Context, listenerIRI string) {
	n, err := c.db.GetNodeByListener(ctx, listenerIRI)
	if err != nil {
		return
	}
	c.cache.Add(listenerIRI, *n)
}

// Bust evicts a listener's NodeInfo from the LRU and Db.
func (c *Cache) Bust(ctx context.Context, listenerIRI string) error {
	c.cache.Remove(listenerIRI)
	return c.db.RemoveNode(ctx, listenerIRI)
}

// BustFromNotify evicts only the local LRU entry, used by rm_nodes.
func (c *Cache) BustFromNotify(listenerIRI string) {
	c.cache.Remove(listenerIRI)
}
