package jobs

import (
	"net/http"
	"testing"

	"github.com/hutchisr/relay/internal/relayerr"
)

func TestClassifyDeliveryStatus(t *testing.T) {
	cases := []struct {
		code      int
		wantErr   bool
		wantKind  relayerr.Kind
		retryable bool
	}{
		{code: 200, wantErr: false},
		{code: 202, wantErr: false},
		{code: http.StatusRequestTimeout, wantErr: true, wantKind: relayerr.KindTransientNetwork, retryable: true},
		{code: http.StatusTooManyRequests, wantErr: true, wantKind: relayerr.KindTransientNetwork, retryable: true},
		{code: http.StatusNotFound, wantErr: true, wantKind: relayerr.KindMalformed, retryable: false},
		{code: http.StatusForbidden, wantErr: true, wantKind: relayerr.KindMalformed, retryable: false},
	}

	for _, c := range cases {
		err := classifyDeliveryStatus(c.code)
		if c.wantErr && err == nil {
			t.Errorf("status %d: expected error", c.code)
			continue
		}
		if !c.wantErr && err != nil {
			t.Errorf("status %d: unexpected error %v", c.code, err)
			continue
		}
		if err == nil {
			continue
		}
		if relayerr.KindOf(err) != c.wantKind {
			t.Errorf("status %d: kind = %v, want %v", c.code, relayerr.KindOf(err), c.wantKind)
		}
		if relayerr.Retryable(err) != c.retryable {
			t.Errorf("status %d: retryable = %v, want %v", c.code, relayerr.Retryable(err), c.retryable)
		}
	}
}

func TestAdminContact(t *testing.T) {
	if _, ok := adminContact(nil); ok {
		t.Error("expected no contact from nil metadata")
	}
	if v, ok := adminContact(map[string]any{"nodeAdmin": "admin@example.com"}); !ok || v != "admin@example.com" {
		t.Errorf("adminContact = %q, %v", v, ok)
	}
	if v, ok := adminContact(map[string]any{"adminEmail": "ops@example.com"}); !ok || v != "ops@example.com" {
		t.Errorf("adminContact = %q, %v", v, ok)
	}
}
