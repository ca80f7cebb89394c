// Package stream opens page bodies for incremental reads.
package stream

import (
	"context"
	"net/http"

	"github.com/JakeFAU/favicon-edge/internal/favicon"
)

// Config controls the streaming fetcher.
type Config struct {
	UserAgent string
	Transport http.RoundTripper
	Limiter   favicon.Limiter
}

// Fetcher implements favicon.StreamFetcher on net/http. The caller owns the
// returned body and bounds its lifetime with ctx.
type Fetcher struct {
	cfg    Config
	client *http.Client
}

// New builds a Fetcher over the shared transport.
func New(cfg Config) *Fetcher {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
	}
}

// Open issues a GET and returns as soon as response headers arrive.
func (f *Fetcher) Open(ctx context.Context, request favicon.FetchRequest) (favicon.StreamResponse, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, request.URL); err != nil {
			return favicon.StreamResponse{}, &favicon.FetchError{Method: http.MethodGet, URL: request.URL, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, request.URL, nil)
	if err != nil {
		return favicon.StreamResponse{}, &favicon.FetchError{Method: http.MethodGet, URL: request.URL, Err: err}
	}
	for key, values := range request.Headers {
		req.Header[key] = append([]string(nil), values...)
	}
	if req.Header.Get("User-Agent") == "" && f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return favicon.StreamResponse{}, &favicon.FetchError{Method: http.MethodGet, URL: request.URL, Err: err}
	}
	return favicon.StreamResponse{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       resp.Body,
	}, nil
}
