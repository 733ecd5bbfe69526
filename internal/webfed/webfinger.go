package webfed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hutchisr/relay/internal/config"
)

// webfingerResource is the JRD ("JSON Resource Descriptor") shape
// RFC 7033 defines for a WebFinger response.
type webfingerResource struct {
	Subject string           `json:"subject"`
	Aliases []string         `json:"aliases"`
	Links   []webfingerLink  `json:"links"`
}

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// WebFinger serves GET /.well-known/webfinger?resource=acct:relay@<host>,
// per spec.md §6: "maps to the relay actor."
func (h *Handler) WebFinger(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	want := fmt.Sprintf("acct:relay@%s", h.cfg.Hostname)
	if resource == "" || !strings.EqualFold(resource, want) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	actorIRI := h.cfg.GenerateURL(config.UrlKindActor)
	jrd := webfingerResource{
		Subject: want,
		Aliases: []string{actorIRI},
		Links: []webfingerLink{
			{Rel: "self", Type: "application/activity+json", Href: actorIRI},
		},
	}

	w.Header().Set("Content-Type", "application/jrd+json")
	json.NewEncoder(w).Encode(jrd)
}
