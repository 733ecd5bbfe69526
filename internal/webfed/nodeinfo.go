package webfed

import (
	"encoding/json"
	"net/http"

	"github.com/hutchisr/relay/internal/config"
)

// SoftwareName and SoftwareVersion identify this relay in its own
// NodeInfo document, per spec.md §6.
const (
	SoftwareName    = "relay"
	SoftwareVersion = "1.0.0"
)

type nodeinfoDiscovery struct {
	Links []nodeinfoDiscoveryLink `json:"links"`
}

type nodeinfoDiscoveryLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// NodeInfoMeta serves GET /.well-known/nodeinfo: the discovery document
// pointing at /nodeinfo/2.0.json.
func (h *Handler) NodeInfoMeta(w http.ResponseWriter, r *http.Request) {
	doc := nodeinfoDiscovery{
		Links: []nodeinfoDiscoveryLink{
			{
				Rel:  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				Href: h.cfg.GenerateURL(config.UrlKindIndex) + "nodeinfo/2.0.json",
			},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

type nodeinfoUsage struct {
	Users         nodeinfoUsers `json:"users"`
	LocalPosts    int           `json:"localPosts"`
}

type nodeinfoUsers struct {
	Total int `json:"total"`
}

type nodeinfoSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type nodeinfoDocument struct {
	Version           string           `json:"version"`
	Software          nodeinfoSoftware `json:"software"`
	Protocols         []string         `json:"protocols"`
	OpenRegistrations bool             `json:"openRegistrations"`
	Usage             nodeinfoUsage    `json:"usage"`
	Metadata          map[string]any   `json:"metadata"`
}

// NodeInfo serves GET /nodeinfo/2.0.json: software name/version,
// open-registrations=false, and user/post counts = (listeners, 0), per
// spec.md §6.
func (h *Handler) NodeInfo(w http.ResponseWriter, r *http.Request) {
	doc := nodeinfoDocument{
		Version:           "2.0",
		Software:          nodeinfoSoftware{Name: SoftwareName, Version: SoftwareVersion},
		Protocols:         []string{"activitypub"},
		OpenRegistrations: false,
		Usage: nodeinfoUsage{
			Users:      nodeinfoUsers{Total: len(h.state.Listeners())},
			LocalPosts: 0,
		},
		Metadata: map[string]any{},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}
