// Package upstream implements UpstreamClient (§4.9): a pooled HTTP
// forwarder with retries, timeouts, and header policy, grounded on the
// reference codebase's connector HTTP client idiom (connectors/http) for
// pool sizing and on its exponential-backoff retry loop used elsewhere in
// the reference's connector SDK.
package upstream

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"math"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/cerberusgw/gateway/internal/gwerrors"
)

// Config is the operator-configurable behaviour (§6 configuration keys).
type Config struct {
	Timeout              time.Duration
	MaxRetries           int
	MaxKeepaliveConns    int
	MaxConns             int
	ForwardAuthorization bool
	BlockedHeaders       map[string]bool
}

// DefaultConfig matches §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		MaxRetries:        2,
		MaxKeepaliveConns: 20,
		MaxConns:          100,
		BlockedHeaders:    map[string]bool{"cookie": true, "set-cookie": true},
	}
}

// Client forwards governed requests to a workspace's upstream MCP server.
type Client struct {
	http *http.Client
	cfg  Config
}

func New(cfg Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConns,
		MaxIdleConnsPerHost: cfg.MaxKeepaliveConns,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		http: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		cfg:  cfg,
	}
}

// Meta carries the governance identifiers injected as headers (§4.9).
type Meta struct {
	RequestID   string
	TenantID    string
	WorkspaceID string
	AgentID     string
	ClientAddr  string
}

// Response is the buffered upstream response (§9's "responses are always
// fully buffered").
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Retries    int
}

var idempotentMethods = map[string]bool{http.MethodGet: true, http.MethodHead: true, http.MethodOptions: true}

// Forward issues the governed request, retrying per §4.9's policy: up to
// cfg.MaxRetries attempts on connect failure, read timeout, or upstream
// 502/503/504, with exponential backoff and full jitter. Idempotent methods
// retry on any retriable condition; non-idempotent methods retry only on
// connect failure (no bytes were sent).
func (c *Client) Forward(ctx context.Context, method, url string, header http.Header, body []byte, meta Meta) (*Response, error) {
	idempotent := idempotentMethods[method]

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.UpstreamUnavailable, "build upstream request", err)
		}
		applyHeaders(req, header, meta, c.cfg)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			connectFailure := isConnectFailure(err)
			timeout := isTimeout(err)
			if ctx.Err() != nil {
				return nil, gwerrors.Wrap(gwerrors.UpstreamTimeout, "upstream request cancelled", ctx.Err())
			}
			retriable := connectFailure || (idempotent && timeout)
			if retriable && attempt < c.cfg.MaxRetries {
				continue
			}
			if timeout {
				return nil, gwerrors.Wrap(gwerrors.UpstreamTimeout, "upstream request timed out", err)
			}
			return nil, gwerrors.Wrap(gwerrors.UpstreamUnavailable, "upstream request failed", err)
		}

		bodyBytes, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if idempotent && attempt < c.cfg.MaxRetries {
				continue
			}
			return nil, gwerrors.Wrap(gwerrors.UpstreamUnavailable, "read upstream response", readErr)
		}

		if isRetriableStatus(resp.StatusCode) && idempotent && attempt < c.cfg.MaxRetries {
			lastErr = gwerrors.New(gwerrors.UpstreamError, resp.Status)
			continue
		}

		if resp.StatusCode >= 500 && isRetriableStatus(resp.StatusCode) {
			return nil, &gwerrors.Error{Kind: gwerrors.UpstreamError, Message: resp.Status, UpstreamStatus: resp.StatusCode}
		}

		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: bodyBytes, Retries: attempt}, nil
	}

	if lastErr != nil {
		return nil, gwerrors.Wrap(gwerrors.UpstreamUnavailable, "upstream request exhausted retries", lastErr)
	}
	return nil, gwerrors.New(gwerrors.UpstreamUnavailable, "upstream request exhausted retries")
}

func isRetriableStatus(status int) bool {
	return status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errorsAs(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isConnectFailure(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "no such host") ||
		strings.Contains(err.Error(), "connect:")
}

// errorsAs avoids importing "errors" just for the one call site above while
// keeping the same semantics as errors.As for interface targets.
func errorsAs(err error, target *interface{ Timeout() bool }) bool {
	for err != nil {
		if t, ok := err.(interface{ Timeout() bool }); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// sleepBackoff waits an exponential-backoff-with-full-jitter delay before
// the given attempt number (1-indexed retry), honouring context
// cancellation.
func sleepBackoff(ctx context.Context, attempt int) error {
	base := 50 * time.Millisecond
	capDelay := 2 * time.Second
	maxDelay := time.Duration(math.Min(float64(capDelay), float64(base)*math.Pow(2, float64(attempt))))
	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxDelay)+1))
	delay := base
	if err == nil {
		delay = time.Duration(n.Int64())
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyHeaders implements §4.9's header policy: strip cookie/set-cookie and
// the operator blocklist, inject the governance identifiers, and forward
// (or not) the client's Authorization header per policy.
func applyHeaders(req *http.Request, src http.Header, meta Meta, cfg Config) {
	for k, vv := range src {
		lower := strings.ToLower(k)
		if cfg.BlockedHeaders[lower] {
			continue
		}
		if lower == "authorization" && !cfg.ForwardAuthorization {
			continue
		}
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}

	req.Header.Set("X-Gateway-Request-ID", meta.RequestID)
	req.Header.Set("X-Tenant-ID", meta.TenantID)
	req.Header.Set("X-Workspace-ID", meta.WorkspaceID)
	req.Header.Set("X-Agent-ID", meta.AgentID)
	if meta.ClientAddr != "" {
		existing := req.Header.Get("X-Forwarded-For")
		if existing == "" {
			req.Header.Set("X-Forwarded-For", meta.ClientAddr)
		} else {
			req.Header.Set("X-Forwarded-For", existing+", "+meta.ClientAddr)
		}
	}
}
