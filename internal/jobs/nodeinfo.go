package jobs

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"time"

	"github.com/hutchisr/relay/internal/db"
	"github.com/hutchisr/relay/internal/relayerr"
)

// instanceDocument is the subset of Mastodon's GET /api/v1/instance shape
// the relay cares about: title/description/version for NodeInfo display,
// and contact email, which QueryInstance stores as the node's admin contact.
type instanceDocument struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Email       string `json:"email"`
}

// runQueryInstance fetches a listener's Mastodon-compatible instance
// metadata and merges it into its NodeInfo row.
func (s *Server) runQueryInstance(ctx context.Context, job db.Job) error {
	var payload db.ListenerPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return relayerr.Wrap(relayerr.KindMalformed, "jobs.runQueryInstance: unmarshal payload", err)
	}

	host, err := hostOf(payload.ListenerIRI)
	if err != nil {
		return err
	}

	resp, err := s.requests.SignedGet(ctx, "https://"+host+"/api/v1/instance")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return classifyDeliveryStatus(resp.StatusCode)
	}

	var doc instanceDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return relayerr.Wrap(relayerr.KindMalformed, "jobs.runQueryInstance: decode", err)
	}

	node := s.existingNode(ctx, payload.ListenerIRI)
	node.ListenerIRI = payload.ListenerIRI
	node.Title = doc.Title
	node.Description = doc.Description
	if doc.Version != "" {
		node.SoftwareVersion = doc.Version
	}
	if doc.Email != "" {
		node.AdminContact = doc.Email
	}
	node.RefreshedAt = time.Now()

	return s.nodes.Put(ctx, node)
}

type nodeinfoDiscoveryDoc struct {
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

type nodeinfoDoc struct {
	Software struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"software"`
	Metadata map[string]any `json:"metadata"`
}

// runQueryNodeinfo fetches a listener's NodeInfo discovery document, then
// its 2.0 document, and merges software name/version (and admin contact,
// when published in metadata) into its NodeInfo row.
func (s *Server) runQueryNodeinfo(ctx context.Context, job db.Job) error {
	var payload db.ListenerPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return relayerr.Wrap(relayerr.KindMalformed, "jobs.runQueryNodeinfo: unmarshal payload", err)
	}

	doc, err := s.fetchNodeinfo(ctx, payload.ListenerIRI)
	if err != nil {
		return err
	}

	node := s.existingNode(ctx, payload.ListenerIRI)
	node.ListenerIRI = payload.ListenerIRI
	node.SoftwareName = doc.Software.Name
	node.SoftwareVersion = doc.Software.Version
	if contact, ok := adminContact(doc.Metadata); ok {
		node.AdminContact = contact
	}
	node.RefreshedAt = time.Now()

	return s.nodes.Put(ctx, node)
}

// runQueryContact implements "QueryContact is derived from NodeInfo"
// (spec.md §4.8): it re-reads the NodeInfo document for contact metadata
// only, leaving software name/version alone, for the case where a
// listener's contact info changes between the 6 h NodeInfo refresh cycle.
func (s *Server) runQueryContact(ctx context.Context, job db.Job) error {
	var payload db.ListenerPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return relayerr.Wrap(relayerr.KindMalformed, "jobs.runQueryContact: unmarshal payload", err)
	}

	doc, err := s.fetchNodeinfo(ctx, payload.ListenerIRI)
	if err != nil {
		return err
	}
	contact, ok := adminContact(doc.Metadata)
	if !ok {
		return nil
	}

	node := s.existingNode(ctx, payload.ListenerIRI)
	node.ListenerIRI = payload.ListenerIRI
	node.AdminContact = contact
	node.RefreshedAt = time.Now()
	return s.nodes.Put(ctx, node)
}

func (s *Server) fetchNodeinfo(ctx context.Context, listenerIRI string) (*nodeinfoDoc, error) {
	host, err := hostOf(listenerIRI)
	if err != nil {
		return nil, err
	}

	discResp, err := s.requests.SignedGet(ctx, "https://"+host+"/.well-known/nodeinfo")
	if err != nil {
		return nil, err
	}
	defer discResp.Body.Close()
	if discResp.StatusCode != 200 {
		return nil, classifyDeliveryStatus(discResp.StatusCode)
	}
	var disc nodeinfoDiscoveryDoc
	if err := json.NewDecoder(io.LimitReader(discResp.Body, 1<<16)).Decode(&disc); err != nil {
		return nil, relayerr.Wrap(relayerr.KindMalformed, "jobs.fetchNodeinfo: decode discovery", err)
	}

	var href string
	for _, l := range disc.Links {
		if l.Rel == "http://nodeinfo.diaspora.software/ns/schema/2.0" {
			href = l.Href
			break
		}
	}
	if href == "" {
		return nil, relayerr.New(relayerr.KindNotFound, "jobs.fetchNodeinfo: no 2.0 link for "+host)
	}

	docResp, err := s.requests.SignedGet(ctx, href)
	if err != nil {
		return nil, err
	}
	defer docResp.Body.Close()
	if docResp.StatusCode != 200 {
		return nil, classifyDeliveryStatus(docResp.StatusCode)
	}

	var doc nodeinfoDoc
	if err := json.NewDecoder(io.LimitReader(docResp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, relayerr.Wrap(relayerr.KindMalformed, "jobs.fetchNodeinfo: decode document", err)
	}
	return &doc, nil
}

func adminContact(metadata map[string]any) (string, bool) {
	for _, key := range []string{"nodeAdmin", "adminEmail", "email"} {
		if v, ok := metadata[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// existingNode loads the current NodeInfo row for a listener, or a zero
// value to be filled in and inserted, since a brand-new listener has no
// row yet when its first QueryInstance/QueryNodeinfo job runs.
func (s *Server) existingNode(ctx context.Context, listenerIRI string) db.NodeInfo {
	if n, err := s.nodes.Get(ctx, listenerIRI); err == nil {
		return *n
	}
	return db.NodeInfo{ListenerIRI: listenerIRI}
}

func hostOf(iri string) (string, error) {
	u, err := url.Parse(iri)
	if err != nil {
		return "", relayerr.Wrap(relayerr.KindMalformed, "jobs.hostOf", err)
	}
	if u.Hostname() == "" {
		return "", relayerr.New(relayerr.KindMalformed, "jobs.hostOf: empty host for "+iri)
	}
	return u.Hostname(), nil
}
