// Package activitypub defines the minimal ActivityStreams shapes the relay
// core reads and writes. It is intentionally not a general-purpose
// ActivityStreams library: the relay never stores an activity body beyond
// what's needed to sign and forward it (spec.md §1 Non-goals).
package activitypub

import "encoding/json"

// Context is the JSON-LD @context every relay-authored document declares.
var Context = []string{
	"https://www.w3.org/ns/activitystreams",
	"https://w3id.org/security/v1",
}

// Activity is the generic inbound/outbound envelope the inbox state
// machine dispatches on. Object is left as raw JSON/any because its shape
// depends on Type (a string IRI for Follow/Announce, an embedded object
// for Create and for the Follow inside an Undo).
type Activity struct {
	Context json.RawMessage `json:"@context,omitempty"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   string          `json:"actor"`
	Object  json.RawMessage `json:"object"`
	To      []string        `json:"to,omitempty"`
	CC      []string        `json:"cc,omitempty"`
}

// ObjectRef is the minimal shape needed to tell whether Activity.Object is
// a bare IRI string or an embedded object with its own id/type/actor.
type ObjectRef struct {
	ID     string   `json:"id"`
	Type   string   `json:"type"`
	Actor  string   `json:"actor"`
	Object string   `json:"object"`
	To     []string `json:"to"`
	CC     []string `json:"cc"`
}

// ObjectIRI extracts Activity.Object as a bare IRI string, whether it was
// encoded as `"object": "https://..."` or `"object": {"id": "https://..."}`.
func (a Activity) ObjectIRI() string {
	var s string
	if err := json.Unmarshal(a.Object, &s); err == nil {
		return s
	}
	var ref ObjectRef
	if err := json.Unmarshal(a.Object, &ref); err == nil {
		return ref.ID
	}
	return ""
}

// ObjectAsRef parses Activity.Object as an embedded object, for the
// Create(Note)/Announce(Note)/Undo(Follow) nested-activity cases.
func (a Activity) ObjectAsRef() (ObjectRef, bool) {
	var ref ObjectRef
	if err := json.Unmarshal(a.Object, &ref); err != nil {
		return ObjectRef{}, false
	}
	return ref, ref.ID != "" || ref.Type != ""
}

// PublicKey is the publicKey block published on actor documents and parsed
// from fetched remote actors.
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPEM string `json:"publicKeyPem"`
}

// Endpoints holds the actor endpoints block; only sharedInbox matters here.
type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// Actor is the subset of an ActivityStreams actor document the relay reads
// when resolving a signer, and the shape it publishes for itself.
type Actor struct {
	Context           []string   `json:"@context,omitempty"`
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	PreferredUsername string     `json:"preferredUsername,omitempty"`
	Name              string     `json:"name,omitempty"`
	Summary           string     `json:"summary,omitempty"`
	URL               string     `json:"url,omitempty"`
	Inbox             string     `json:"inbox"`
	Outbox            string     `json:"outbox,omitempty"`
	Followers         string     `json:"followers,omitempty"`
	Following         string     `json:"following,omitempty"`
	Endpoints         *Endpoints `json:"endpoints,omitempty"`
	PublicKey         PublicKey  `json:"publicKey"`
}

// Is reports whether the activity is of the named type.
func (a Activity) Is(t string) bool { return a.Type == t }

// Activity type constants accepted by the inbox dispatcher (spec.md §4.7).
const (
	TypeFollow      = "Follow"
	TypeUndo        = "Undo"
	TypeAccept      = "Accept"
	TypeReject      = "Reject"
	TypeAnnounce    = "Announce"
	TypeCreate      = "Create"
	TypeDelete      = "Delete"
	TypeUpdate      = "Update"
	TypeNote        = "Note"
	TypeApplication = "Application"
)
