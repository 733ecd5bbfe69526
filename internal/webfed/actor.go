// Package webfed renders the relay's outward-facing federation documents:
// its own actor document, WebFinger resource lookup, and NodeInfo
// discovery + statistics documents. spec.md places these "deliberately
// out of scope" for the inbox/jobs core (they're wiring the core
// consumes, not produces) but SPEC_FULL.md's expansion still builds them
// as the component that makes the relay externally reachable — grounded
// on original_source/src/routes/actor.rs for the actor document shape.
package webfed

import (
	"encoding/json"
	"net/http"

	"github.com/hutchisr/relay/internal/activitypub"
	"github.com/hutchisr/relay/internal/config"
	"github.com/hutchisr/relay/internal/keys"
	"github.com/hutchisr/relay/internal/state"
)

// Handler serves the relay's own federation-facing documents.
type Handler struct {
	cfg   config.Config
	state *state.State
}

// New constructs a webfed Handler.
func New(cfg config.Config, st *state.State) *Handler {
	return &Handler{cfg: cfg, state: st}
}

// Actor serves GET /actor: the relay's own ActivityPub Application
// document, matching the shape original_source/src/routes/actor.rs builds
// (preferredUsername "relay", shared inbox endpoint, publicKey block).
func (h *Handler) Actor(w http.ResponseWriter, r *http.Request) {
	pub := &h.state.PrivateKey().PublicKey
	pemStr, err := keys.EncodePublicPKIXPEM(pub)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	actorIRI := h.cfg.GenerateURL(config.UrlKindActor)
	inbox := h.cfg.GenerateURL(config.UrlKindInbox)

	doc := activitypub.Actor{
		Context:           activitypub.Context,
		ID:                actorIRI,
		Type:              activitypub.TypeApplication,
		PreferredUsername: "relay",
		Name:              "Relay",
		Summary:           "ActivityPub relay bot",
		URL:               actorIRI,
		Inbox:             inbox,
		Outbox:            h.cfg.GenerateURL(config.UrlKindOutbox),
		Followers:         h.cfg.GenerateURL(config.UrlKindFollowers),
		Following:         h.cfg.GenerateURL(config.UrlKindFollowing),
		Endpoints:         &activitypub.Endpoints{SharedInbox: inbox},
		PublicKey: activitypub.PublicKey{
			ID:           h.cfg.GenerateURL(config.UrlKindMainKey),
			Owner:        actorIRI,
			PublicKeyPEM: pemStr,
		},
	}

	w.Header().Set("Content-Type", "application/activity+json")
	json.NewEncoder(w).Encode(doc)
}
