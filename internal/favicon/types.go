package favicon

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Rel classifies a discovered <link> tag.
type Rel string

// Link classifications produced by the extractor.
const (
	RelIcon     Rel = "icon"
	RelManifest Rel = "manifest"
)

// Strategy names the discovery path that produced a result.
type Strategy string

// Discovery strategies.
const (
	StrategyQuick    Strategy = "quick"
	StrategyDeep     Strategy = "deep"
	StrategyHeadless Strategy = "headless"
)

// Source describes where the winning icon URL came from.
type Source string

// Icon sources.
const (
	SourceConventional Source = "conventional"
	SourceManifest     Source = "manifest"
	SourceLink         Source = "link"
)

// IconCandidate is one icon or manifest reference found in a head fragment.
type IconCandidate struct {
	Href  string            `json:"href"`
	Base  string            `json:"base,omitempty"`
	Rel   Rel               `json:"rel"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Resolve turns the candidate into an absolute URL. A non-empty Base is itself
// resolved against pageURL before Href is resolved against it.
func (c IconCandidate) Resolve(pageURL string) (string, error) {
	page, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	base := page
	if c.Base != "" {
		ref, err := url.Parse(c.Base)
		if err != nil {
			return "", fmt.Errorf("parse base %q: %w", c.Base, err)
		}
		base = page.ResolveReference(ref)
	}
	return ResolveReference(base.String(), c.Href)
}

// LinkSet is the result of scanning a single head fragment.
type LinkSet struct {
	Icons    []IconCandidate `json:"icons"`
	Manifest *IconCandidate  `json:"manifest,omitempty"`
}

// Empty reports whether the scan found neither icons nor a manifest.
func (s LinkSet) Empty() bool {
	return len(s.Icons) == 0 && s.Manifest == nil
}

// Discovery is the winning answer for one site.
type Discovery struct {
	SiteURL  string        `json:"site_url"`
	IconURL  string        `json:"icon_url"`
	Strategy Strategy      `json:"strategy"`
	Source   Source        `json:"source"`
	Duration time.Duration `json:"duration"`
}

// FetchRequest captures a single outbound request.
type FetchRequest struct {
	Method  string
	URL     string
	Headers http.Header
}

// FetchResponse is a fully buffered outbound response.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// StreamResponse is an outbound response whose body is read incrementally.
// Callers must close Body.
type StreamResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       io.ReadCloser
}

// LookupRecord is appended to the lookup log for every successful resolution.
type LookupRecord struct {
	ID          string        `json:"id"`
	SiteURL     string        `json:"site_url"`
	IconURL     string        `json:"icon_url"`
	Strategy    Strategy      `json:"strategy"`
	Source      Source        `json:"source"`
	StatusCode  int           `json:"status_code"`
	ContentType string        `json:"content_type"`
	Bytes       int           `json:"bytes"`
	CacheKey    string        `json:"cache_key"`
	ResolvedAt  time.Time     `json:"resolved_at"`
	Duration    time.Duration `json:"duration"`
}

// ResolveReference resolves ref against base, both given as strings.
func ResolveReference(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse reference %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

// NormalizeSiteURL validates rawURL as an absolute http(s) URL. Bare hosts
// such as "example.com" are given an https scheme.
func NormalizeSiteURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u.String(), nil
}
