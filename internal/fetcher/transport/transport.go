// Package transport builds the outbound HTTP transport shared by every fetcher.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/JakeFAU/favicon-edge/internal/metrics"
)

// Config controls retry behavior for transient TLS failures.
type Config struct {
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// RetryTransport retries requests whose TLS handshake timed out.
type RetryTransport struct {
	base    http.RoundTripper
	backoff []time.Duration
}

// New wraps a pooled *http.Transport with transient TLS retries.
func New(cfg Config) *RetryTransport {
	return Wrap(NewHTTPTransport(), cfg)
}

// Wrap decorates base with transient TLS retries.
func Wrap(base http.RoundTripper, cfg Config) *RetryTransport {
	return &RetryTransport{
		base:    base,
		backoff: backoffSchedule(cfg),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("retry transport received nil request")
	}
	attempts := len(t.backoff) + 1
	if !replayable(req) {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := t.base.RoundTrip(cloneRequest(req))
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if req.Context().Err() != nil || !isTransientTLSError(err) {
			return nil, fmt.Errorf("roundtrip %s %s: %w", req.Method, req.URL, err)
		}
		if attempt == attempts-1 {
			break
		}
		metrics.ObserveFetchTLSRetry()
		if err := sleepWithContext(req.Context(), t.backoff[attempt]); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("roundtrip %s %s exhausted %d attempts: %w", req.Method, req.URL, attempts, lastErr)
}

// Instrument wraps rt so every outbound request gets a client span and
// propagates the trace context to the origin.
func Instrument(rt http.RoundTripper) http.RoundTripper {
	return otelhttp.NewTransport(rt,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "fetch " + r.Method
		}),
	)
}

// NewHTTPTransport returns a pooled transport with conservative timeouts.
func NewHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}

func backoffSchedule(cfg Config) []time.Duration {
	if cfg.MaxRetries <= 0 {
		return nil
	}
	delay := cfg.BackoffInitial
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	schedule := make([]time.Duration, 0, cfg.MaxRetries)
	for i := 0; i < cfg.MaxRetries; i++ {
		if cfg.BackoffMax > 0 && delay > cfg.BackoffMax {
			delay = cfg.BackoffMax
		}
		schedule = append(schedule, delay)
		delay *= 2
	}
	return schedule
}

// replayable reports whether the request body can be sent again.
func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func cloneRequest(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			clone.Body = body
			return clone
		}
	}
	clone.Body = req.Body
	return clone
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout") ||
		strings.Contains(err.Error(), "TLS handshake timeout")
}
