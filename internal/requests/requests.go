// Package requests is the relay's outbound HTTP client: every delivery,
// actor fetch, WebFinger lookup, and NodeInfo query goes through it. It
// signs requests per draft-cavage-http-signatures, throttles aggregate
// bandwidth via conduitio/bwlimit (grounded on the reference corpus's use
// of bwlimit for rsync transfer throttling), bounds per-host concurrency
// with a semaphore set, and tracks per-host backoff windows in Redis so
// every replica observes the same misbehaving-host cooldown (grounded on
// the reference corpus's redis/go-redis usage as cross-replica
// coordination state).
package requests

import (
	"bytes"
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/conduitio/bwlimit"
	"github.com/redis/go-redis/v9"

	"github.com/hutchisr/relay/internal/backoff"
	"github.com/hutchisr/relay/internal/httpsig"
	"github.com/hutchisr/relay/internal/relayerr"
)

// Config controls outbound throttling.
type Config struct {
	// WriteBytesPerSec/ReadBytesPerSec bound the aggregate outbound byte
	// rate across all requests (0 disables the limiter).
	WriteBytesPerSec bwlimit.Byte
	ReadBytesPerSec  bwlimit.Byte

	// PerHostConcurrency bounds in-flight requests to a single host.
	PerHostConcurrency int

	// RedisAddr, if set, enables cross-replica per-host backoff tracking.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

const defaultPerHostConcurrency = 128

// Client is the relay's signed, throttled outbound HTTP client.
type Client struct {
	http   *http.Client
	redis  *redis.Client
	logger *slog.Logger

	perHostLimit int
	semMu        sync.Mutex
	sems         map[string]chan struct{}

	signingKeyID string
	signingKey   *rsa.PrivateKey
}

// New builds a Client. signingKeyID is the relay actor's publicKey id
// (e.g. "https://relay.example/actor#main-key"); key is the relay's
// private key used to sign every outbound request.
func New(cfg Config, key *rsa.PrivateKey, signingKeyID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	perHost := cfg.PerHostConcurrency
	if perHost <= 0 {
		perHost = defaultPerHostConcurrency
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	var transport http.RoundTripper
	if cfg.WriteBytesPerSec > 0 || cfg.ReadBytesPerSec > 0 {
		limited := bwlimit.NewDialer(dialer, cfg.WriteBytesPerSec, cfg.ReadBytesPerSec)
		transport = &http.Transport{
			DialContext:           limited.DialContext,
			ResponseHeaderTimeout: 30 * time.Second,
		}
	} else {
		transport = &http.Transport{
			DialContext:           dialer.DialContext,
			ResponseHeaderTimeout: 30 * time.Second,
		}
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	return &Client{
		http:         &http.Client{Transport: transport, Timeout: 30 * time.Second},
		redis:        rdb,
		logger:       logger,
		perHostLimit: perHost,
		sems:         make(map[string]chan struct{}),
		signingKeyID: signingKeyID,
		signingKey:   key,
	}
}

func (c *Client) semaphoreFor(host string) chan struct{} {
	c.semMu.Lock()
	defer c.semMu.Unlock()
	sem, ok := c.sems[host]
	if !ok {
		sem = make(chan struct{}, c.perHostLimit)
		c.sems[host] = sem
	}
	return sem
}

func backoffKey(host string) string { return "relay:backoff:" + host }
func failuresKey(host string) string { return "relay:backoff:failures:" + host }

// checkBackoff returns relayerr.KindTransientNetwork if host is currently
// within a backoff window recorded by any replica.
func (c *Client) checkBackoff(ctx context.Context, host string) error {
	if c.redis == nil {
		return nil
	}
	until, err := c.redis.Get(ctx, backoffKey(host)).Int64()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return nil // Redis unavailable: fail open rather than block all delivery.
	}
	if time.Now().Unix() < until {
		return relayerr.New(relayerr.KindTransientNetwork, "requests: host in backoff window: "+host)
	}
	return nil
}

// recordFailure increments host's failure counter and sets its next
// allowed request time using the same schedule as job retries.
func (c *Client) recordFailure(ctx context.Context, host string) {
	if c.redis == nil {
		return
	}
	attempt, err := c.redis.Incr(ctx, failuresKey(host)).Result()
	if err != nil {
		return
	}
	c.redis.Expire(ctx, failuresKey(host), backoff.DeliveryCap*2)
	delay := backoff.Delivery(int(attempt))
	until := time.Now().Add(delay).Unix()
	c.redis.Set(ctx, backoffKey(host), until, backoff.DeliveryCap*2)
}

// recordSuccess clears host's failure history after a successful request.
func (c *Client) recordSuccess(ctx context.Context, host string) {
	if c.redis == nil {
		return
	}
	c.redis.Del(ctx, backoffKey(host), failuresKey(host))
}

// SignedGet performs a signed GET against target, used for WebFinger,
// actor, and NodeInfo lookups.
func (c *Client) SignedGet(ctx context.Context, target string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, target, nil, []string{"(request-target)", "host", "date"})
}

// SignedPost performs a signed POST with body, used for inbox delivery.
func (c *Client) SignedPost(ctx context.Context, target string, body []byte) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, target, body, []string{"(request-target)", "host", "date", "digest"})
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, signedHeaders []string) (*http.Response, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindMalformed, "requests.do: parse url", err)
	}
	host := u.Host

	if err := c.checkBackoff(ctx, host); err != nil {
		return nil, err
	}

	sem := c.semaphoreFor(host)
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return nil, relayerr.Wrap(relayerr.KindTimeout, "requests.do: waiting for semaphore", ctx.Err())
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindMalformed, "requests.do: new request", err)
	}
	req.Header.Set("Host", host)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Accept", `application/activity+json`)
	if body != nil {
		req.Header.Set("Content-Type", "application/activity+json")
		req.Header.Set("Digest", httpsig.Digest(body))
	}

	if err := httpsig.Sign(req, signedHeaders, c.signingKey, c.signingKeyID); err != nil {
		return nil, relayerr.Wrap(relayerr.KindInternal, "requests.do: sign", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure(ctx, host)
		return nil, relayerr.Wrap(relayerr.KindTransientNetwork, "requests.do: "+method+" "+target, err)
	}
	if resp.StatusCode >= 500 {
		c.recordFailure(ctx, host)
		resp.Body.Close()
		return nil, relayerr.New(relayerr.KindTransientNetwork,
			fmt.Sprintf("requests.do: %s %s returned %d", method, target, resp.StatusCode))
	}
	c.recordSuccess(ctx, host)
	return resp, nil
}

// Close releases the Redis connection, if any.
func (c *Client) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}
