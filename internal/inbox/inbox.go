// Package inbox implements the relay's activity dispatch state machine
// (spec.md §4.7): a plain switch over Activity.Type, no interpreter or
// plugin system, since the accepted-type set is closed and small.
package inbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/hutchisr/relay/internal/activitypub"
	"github.com/hutchisr/relay/internal/config"
	"github.com/hutchisr/relay/internal/db"
	"github.com/hutchisr/relay/internal/relayerr"
	"github.com/hutchisr/relay/internal/sigverify"
	"github.com/hutchisr/relay/internal/state"
)

// Handler dispatches verified inbound activities, per spec.md §4.7.
type Handler struct {
	db     *db.Db
	state  *state.State
	cfg    config.Config
	logger *slog.Logger
}

// New constructs an inbox Handler.
func New(d *db.Db, st *state.State, cfg config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: d, state: st, cfg: cfg, logger: logger}
}

// ServeHTTP implements POST /inbox. SignatureVerifier must run before this
// handler; it reads the authenticated actor from the request context.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := sigverify.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var act activitypub.Activity
	if err := json.NewDecoder(r.Body).Decode(&act); err != nil {
		http.Error(w, "malformed activity", http.StatusBadRequest)
		return
	}

	if err := h.Dispatch(r.Context(), act, principal); err != nil {
		h.logger.Warn("inbox dispatch failed",
			slog.String("type", act.Type), slog.String("error", err.Error()))
		http.Error(w, "rejected", relayerr.HTTPStatus(err))
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Dispatch runs the state machine for one verified activity, per
// spec.md §4.7's per-type rules.
func (h *Handler) Dispatch(ctx context.Context, act activitypub.Activity, principal *db.CachedActor) error {
	switch act.Type {
	case activitypub.TypeUndo:
		return h.handleUndo(ctx, act, principal)
	case activitypub.TypeFollow:
		return h.handleFollow(ctx, act, principal)
	case activitypub.TypeAnnounce, activitypub.TypeCreate:
		return h.handleForward(ctx, act, principal)
	case activitypub.TypeDelete, activitypub.TypeUpdate:
		return h.handleActorChange(ctx, act, principal)
	default:
		return nil
	}
}

// hostOf extracts iri's host, canonicalized to lowercase per the
// blocklist/whitelist's case-insensitive host comparison.
func hostOf(iri string) string {
	u, err := url.Parse(iri)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// handleUndo implements "Undo(Follow)": if the inner object is a Follow of
// the relay actor by the authenticated principal, remove the listener.
func (h *Handler) handleUndo(ctx context.Context, act activitypub.Activity, principal *db.CachedActor) error {
	ref, ok := act.ObjectAsRef()
	if !ok || ref.Type != activitypub.TypeFollow {
		return nil
	}
	if ref.Actor != "" && ref.Actor != principal.IRI {
		return nil
	}
	if ref.Object != h.cfg.GenerateURL(config.UrlKindActor) {
		return nil
	}
	return h.removeListener(ctx, principal.IRI)
}

// handleFollow implements the Follow branch: blocklist and whitelist gate
// acceptance, else the follower is recorded and an Accept is scheduled.
func (h *Handler) handleFollow(ctx context.Context, act activitypub.Activity, principal *db.CachedActor) error {
	if act.ObjectIRI() != h.cfg.GenerateURL(config.UrlKindActor) {
		return nil
	}

	host := hostOf(principal.IRI)
	if h.state.IsBlocked(host) {
		return h.sendResponse(ctx, activitypub.TypeReject, act, principal)
	}
	if h.state.Restricted() && !h.state.IsWhitelisted(host) {
		return h.sendResponse(ctx, activitypub.TypeReject, act, principal)
	}

	if err := h.db.AddListener(ctx, principal.IRI, principal.Inbox); err != nil {
		return err
	}
	h.state.CacheListener(principal.IRI, principal.Inbox)

	if err := h.sendResponse(ctx, activitypub.TypeAccept, act, principal); err != nil {
		return err
	}
	if err := h.db.Enqueue(ctx, db.VariantQueryInstance, db.ListenerPayload{ListenerIRI: principal.IRI}, principal.IRI, ""); err != nil {
		return err
	}
	return h.db.Enqueue(ctx, db.VariantQueryNodeinfo, db.ListenerPayload{ListenerIRI: principal.IRI}, principal.IRI, "")
}

// sendResponse schedules delivery of an Accept or Reject wrapping the
// original Follow, addressed back to the follower's inbox.
func (h *Handler) sendResponse(ctx context.Context, kind string, follow activitypub.Activity, principal *db.CachedActor) error {
	resp := h.wrap(kind, follow)
	body, err := json.Marshal(resp)
	if err != nil {
		return relayerr.Wrap(relayerr.KindInternal, "inbox.sendResponse: marshal", err)
	}
	return h.db.Enqueue(ctx, db.VariantDeliver,
		db.DeliverPayload{Inbox: principal.Inbox, Activity: body},
		principal.Inbox, follow.ID)
}

// wrap builds a relay-authored activity of the given type, wrapping inner
// as its object, with a fresh relay-namespaced id.
func (h *Handler) wrap(kind string, inner activitypub.Activity) activitypub.Activity {
	return activitypub.Activity{
		Context: nil,
		ID:      h.cfg.GenerateURL(config.UrlKindIndex) + pathFor(kind) + "/" + uuid.New().String(),
		Type:    kind,
		Actor:   h.cfg.GenerateURL(config.UrlKindActor),
		Object:  mustMarshal(inner),
	}
}

func pathFor(kind string) string {
	switch kind {
	case activitypub.TypeAccept:
		return "accept"
	case activitypub.TypeReject:
		return "reject"
	case activitypub.TypeAnnounce:
		return "announce"
	default:
		return "activity"
	}
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// handleForward implements the Announce/Create(Note) relay-forwarding
// path, per spec.md §4.7: a bare Announce and a Create-wrapped public Note
// both route through wrapAnnounce, since the outward behavior (re-wrap,
// rewrite id, fan out) is identical for both input shapes.
func (h *Handler) handleForward(ctx context.Context, act activitypub.Activity, principal *db.CachedActor) error {
	if h.state.IsBlocked(hostOf(principal.IRI)) {
		return nil
	}
	if !h.state.IsListener(principal.IRI) {
		return nil
	}

	announce := h.wrapAnnounce(act)
	body, err := json.Marshal(announce)
	if err != nil {
		return relayerr.Wrap(relayerr.KindInternal, "inbox.handleForward: marshal", err)
	}

	for iri, inboxURL := range h.state.Listeners() {
		if iri == principal.IRI {
			continue
		}
		if h.state.IsBlocked(hostOf(iri)) {
			continue
		}
		if err := h.db.Enqueue(ctx, db.VariantDeliver,
			db.DeliverPayload{Inbox: inboxURL, Activity: body},
			inboxURL, act.ID); err != nil {
			return err
		}
	}
	return nil
}

// wrapAnnounce re-authors act as a relay Announce, disambiguating a bare
// Announce from a Create-wrapping-a-Note the same way for both: the
// relayed object is always the inner object's IRI, never act itself.
func (h *Handler) wrapAnnounce(act activitypub.Activity) activitypub.Activity {
	objectIRI := act.ObjectIRI()
	if objectIRI == "" {
		if ref, ok := act.ObjectAsRef(); ok {
			objectIRI = ref.ID
		}
	}
	return activitypub.Activity{
		ID:     h.cfg.GenerateURL(config.UrlKindIndex) + "announce/" + uuid.New().String(),
		Type:   activitypub.TypeAnnounce,
		Actor:  h.cfg.GenerateURL(config.UrlKindActor),
		Object: mustMarshal(objectIRI),
	}
}

// handleActorChange implements "Delete/Update of an actor": if the actor is
// a known listener, treat it the same as Undo(Follow).
func (h *Handler) handleActorChange(ctx context.Context, act activitypub.Activity, principal *db.CachedActor) error {
	if !h.state.IsListener(principal.IRI) {
		return nil
	}
	return h.removeListener(ctx, principal.IRI)
}

func (h *Handler) removeListener(ctx context.Context, iri string) error {
	if err := h.db.RemoveListener(ctx, iri); err != nil {
		return err
	}
	h.state.BustListener(iri)
	return nil
}
