package actorcache

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hutchisr/relay/internal/activitypub"
	"github.com/hutchisr/relay/internal/db"
	"github.com/hutchisr/relay/internal/relayerr"
	"github.com/hutchisr/relay/internal/state"
)

// Fetcher performs the signed GET ActorCache needs on a miss. Satisfied by
// *requests.Client; declared here (rather than imported) so actorcache
// doesn't need to know about requests' throttling/backoff internals.
type Fetcher interface {
	SignedGet(ctx context.Context, target string) (*http.Response, error)
}

// Resolve implements spec.md §4.4's full ActorCache lookup: cache hit
// within TTL, else signed fetch, validate, write-through to Db and the
// LRU. st supplies the blocklist checked before a network fetch.
func (c *Cache) Resolve(ctx context.Context, iri string, fetcher Fetcher, st *state.State) (*db.CachedActor, error) {
	if a, err := c.Get(ctx, iri); err == nil {
		if time.Since(a.CachedAt) < TTL {
			return a, nil
		}
	} else if !IsNotFound(err) {
		return nil, err
	}

	u, err := url.Parse(iri)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindMalformed, "actorcache.Resolve: parse iri", err)
	}
	if st.IsBlocked(u.Hostname()) {
		return nil, relayerr.New(relayerr.KindBlocked, "actorcache.Resolve: "+iri)
	}

	resp, err := fetcher.SignedGet(ctx, iri)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransientNetwork, "actorcache.Resolve: read body", err)
	}

	var doc activitypub.Actor
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, relayerr.Wrap(relayerr.KindMalformed, "actorcache.Resolve: unmarshal", err)
	}
	if doc.PublicKey.Owner != doc.ID {
		return nil, relayerr.New(relayerr.KindKeyOwnerMismatch, "actorcache.Resolve: "+iri)
	}

	sharedInbox := ""
	if doc.Endpoints != nil {
		sharedInbox = doc.Endpoints.SharedInbox
	}
	actor := db.CachedActor{
		IRI:          doc.ID,
		Inbox:        doc.Inbox,
		SharedInbox:  sharedInbox,
		PublicKeyID:  doc.PublicKey.ID,
		PublicKeyPEM: doc.PublicKey.PublicKeyPEM,
		CachedAt:     time.Now(),
	}
	if err := c.Put(ctx, actor); err != nil {
		return nil, err
	}
	return &actor, nil
}
