package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hutchisr/relay/internal/db"
	"github.com/hutchisr/relay/internal/relayerr"
)

// runDeliver executes a VariantDeliver job: a signed POST of a relay or
// relayed activity to a single inbox.
func (s *Server) runDeliver(ctx context.Context, job db.Job) error {
	var payload db.DeliverPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return relayerr.Wrap(relayerr.KindMalformed, "jobs.runDeliver: unmarshal payload", err)
	}

	resp, err := s.requests.SignedPost(ctx, payload.Inbox, payload.Activity)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyDeliveryStatus(resp.StatusCode)
}

// classifyDeliveryStatus maps a delivery response's status code to
// spec.md §7's retryable-vs-permanent split: 408/429/5xx retry, any other
// 4xx is permanent. requests.Client already turns 5xx and network errors
// into a retryable error before returning, so only 2xx/4xx reach here.
func classifyDeliveryStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return relayerr.New(relayerr.KindTransientNetwork, fmt.Sprintf("jobs.runDeliver: status %d", code))
	case code >= 400 && code < 500:
		return relayerr.New(relayerr.KindMalformed, fmt.Sprintf("jobs.runDeliver: status %d", code))
	default:
		return relayerr.New(relayerr.KindInternal, fmt.Sprintf("jobs.runDeliver: unexpected status %d", code))
	}
}
