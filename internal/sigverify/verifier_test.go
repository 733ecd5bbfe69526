package sigverify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hutchisr/relay/internal/relayerr"
)

func newVerifier(enabled bool) *Verifier {
	return New(nil, nil, nil, enabled, nil)
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	v := newVerifier(false)
	called := false
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "https://relay.test/inbox", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if !called {
		t.Fatal("expected next handler to run when verification is disabled")
	}
}

func TestMiddlewareRejectsMissingSignature(t *testing.T) {
	v := newVerifier(true)
	called := false
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "https://relay.test/inbox", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if called {
		t.Fatal("next handler should not run without a Signature header")
	}
	if w.Code != relayerr.HTTPStatus(relayerr.New(relayerr.KindSignatureMissing, "test")) {
		t.Errorf("status = %d", w.Code)
	}
}

func TestMiddlewareRejectsStaleDate(t *testing.T) {
	v := newVerifier(true)
	req := httptest.NewRequest(http.MethodPost, "https://relay.test/inbox", strings.NewReader("{}"))
	req.Header.Set("Signature", `keyId="https://a.example/actor#main-key",algorithm="rsa-sha256",headers="(request-target) date",signature="Zm9v"`)
	req.Header.Set("Date", time.Now().Add(-2*time.Hour).Format(http.TimeFormat))

	w := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run with a stale Date header")
	})).ServeHTTP(w, req)

	if w.Code != relayerr.HTTPStatus(relayerr.New(relayerr.KindSignatureStale, "test")) {
		t.Errorf("status = %d", w.Code)
	}
}

func TestMiddlewareRejectsDigestMismatch(t *testing.T) {
	v := newVerifier(true)
	req := httptest.NewRequest(http.MethodPost, "https://relay.test/inbox", strings.NewReader("{}"))
	req.Header.Set("Signature", `keyId="https://a.example/actor#main-key",algorithm="rsa-sha256",headers="(request-target) date digest",signature="Zm9v"`)
	req.Header.Set("Date", time.Now().Format(http.TimeFormat))
	req.Header.Set("Digest", "SHA-256=not-the-real-digest")

	w := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run with a mismatched Digest header")
	})).ServeHTTP(w, req)

	if w.Code != relayerr.HTTPStatus(relayerr.New(relayerr.KindDigestMismatch, "test")) {
		t.Errorf("status = %d", w.Code)
	}
}

func TestActorFromContextRoundTrip(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://relay.test/inbox", nil)
	if _, ok := ActorFromContext(req.Context()); ok {
		t.Fatal("expected no actor in a bare request context")
	}
}
