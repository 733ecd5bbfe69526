// Package state holds the relay's shared in-memory view of its blocklist,
// whitelist, and listener set, plus its own keypair. Every HTTP handler and
// background worker reads through the same State; NotifyBus keeps it
// coherent across replicas by applying the same mutations Db persisted.
package state

import (
	"context"
	"crypto/rsa"
	"sync"

	"github.com/hutchisr/relay/internal/db"
)

// State is the process-wide cache of restricted-mode sets, per spec.md §4.2
// ("State: in-memory cache of blocklist/whitelist/listener set plus the
// relay's own keypair"). Reader-writer lock, short critical sections, no
// I/O under lock (spec.md §4 Shared-resource policy).
type State struct {
	mu sync.RWMutex

	blocks      map[string]struct{}
	whitelists  map[string]struct{}
	listeners   map[string]string // iri -> inbox
	privateKey  *rsa.PrivateKey
	restricted  bool
	domain      string
}

// New constructs an empty State. Call Hydrate before serving traffic.
func New(restricted bool, domain string) *State {
	return &State{
		blocks:     make(map[string]struct{}),
		whitelists: make(map[string]struct{}),
		listeners:  make(map[string]string),
		restricted: restricted,
		domain:     domain,
	}
}

// Hydrate loads the blocklist, whitelist, listener set, and relay keypair
// from Db at startup, per spec.md §6 "persisted state" / SPEC_FULL.md's
// main.go wiring order (config -> db -> state hydrate -> ...).
func (s *State) Hydrate(ctx context.Context, d *db.Db) error {
	blocks, err := d.ListBlocks(ctx)
	if err != nil {
		return err
	}
	whitelists, err := d.ListWhitelists(ctx)
	if err != nil {
		return err
	}
	listeners, err := d.ListListeners(ctx)
	if err != nil {
		return err
	}
	key, err := d.SettingsOrInit(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range blocks {
		s.blocks[h] = struct{}{}
	}
	for _, h := range whitelists {
		s.whitelists[h] = struct{}{}
	}
	for _, l := range listeners {
		s.listeners[l.IRI] = l.Inbox
	}
	s.privateKey = key
	return nil
}

// PrivateKey returns the relay's signing key, set once at Hydrate time.
func (s *State) PrivateKey() *rsa.PrivateKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.privateKey
}

// Domain returns the relay's own hostname, used to build its actor IRI.
func (s *State) Domain() string {
	return s.domain
}

// Restricted reports whether whitelist-only mode is enabled.
func (s *State) Restricted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restricted
}

// IsBlocked reports whether host is in the in-memory blocklist.
func (s *State) IsBlocked(host string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[host]
	return ok
}

// IsWhitelisted reports whether host is in the in-memory whitelist, or
// trivially true when the whitelist is empty (an unset whitelist means
// restricted mode admits everyone rather than no one).
func (s *State) IsWhitelisted(host string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.whitelists) == 0 {
		return true
	}
	_, ok := s.whitelists[host]
	return ok
}

// IsListener reports whether iri is a current listener.
func (s *State) IsListener(iri string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.listeners[iri]
	return ok
}

// Listeners returns a snapshot of every (iri, inbox) pair, used for
// fan-out delivery and the recurring NodeInfo scheduler.
func (s *State) Listeners() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.listeners))
	for k, v := range s.listeners {
		out[k] = v
	}
	return out
}

// CacheBlock adds host to the in-memory blocklist.
func (s *State) CacheBlock(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[host] = struct{}{}
}

// BustBlock removes host from the in-memory blocklist.
func (s *State) BustBlock(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, host)
}

// CacheWhitelist adds host to the in-memory whitelist.
func (s *State) CacheWhitelist(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whitelists[host] = struct{}{}
}

// BustWhitelist removes host from the in-memory whitelist.
func (s *State) BustWhitelist(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.whitelists, host)
}

// CacheListener adds or updates a listener's inbox.
func (s *State) CacheListener(iri, inbox string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[iri] = inbox
}

// BustListener removes a listener entirely.
func (s *State) BustListener(iri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, iri)
}
