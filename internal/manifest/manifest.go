// Package manifest reads web app manifests and picks their icon.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/favicon-edge/internal/favicon"
)

// DefaultUserAgent is a desktop browser string; some hosts refuse manifests
// to unknown clients.
const DefaultUserAgent = "Mozilla/5.0 (X11; CrOS x86_64 8172.45.0) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/51.0.2704.64 Safari/537.36"

// Icon is one entry of a manifest's icons list.
type Icon struct {
	Src   string `json:"src"`
	Sizes string `json:"sizes,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Manifest is the subset of the web app manifest this service reads.
type Manifest struct {
	Name  string `json:"name,omitempty"`
	Icons []Icon `json:"icons"`
}

// Resolver fetches manifests through a favicon.Fetcher.
type Resolver struct {
	fetcher   favicon.Fetcher
	userAgent string
	logger    *zap.Logger
}

// New returns a Resolver. An empty userAgent selects DefaultUserAgent.
func New(fetcher favicon.Fetcher, userAgent string, logger *zap.Logger) *Resolver {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, userAgent: userAgent, logger: logger}
}

// IconURL returns the src of the manifest's first icon exactly as written.
// A manifest without icons yields ("", nil).
func (r *Resolver) IconURL(ctx context.Context, manifestURL string) (string, error) {
	m, err := r.Fetch(ctx, manifestURL)
	if err != nil {
		return "", err
	}
	if len(m.Icons) == 0 {
		r.logger.Debug("manifest has no icons", zap.String("manifest_url", manifestURL))
		return "", nil
	}
	return m.Icons[0].Src, nil
}

// Fetch downloads and decodes the manifest at manifestURL.
func (r *Resolver) Fetch(ctx context.Context, manifestURL string) (Manifest, error) {
	resp, err := r.fetcher.Fetch(ctx, favicon.FetchRequest{
		Method: http.MethodGet,
		URL:    manifestURL,
		Headers: http.Header{
			"User-Agent": {r.userAgent},
			"Accept":     {"application/manifest+json, application/json;q=0.9, */*;q=0.8"},
		},
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("fetch manifest: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Manifest{}, &favicon.FetchError{Method: http.MethodGet, URL: manifestURL, StatusCode: resp.StatusCode}
	}
	return Decode(resp.Body)
}

// Decode parses a manifest body. Non-JSON input wraps favicon.ErrManifestInvalid.
func Decode(body []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", favicon.ErrManifestInvalid, err)
	}
	return m, nil
}
