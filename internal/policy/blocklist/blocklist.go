// Package blocklist refuses discovery for configured hosts.
package blocklist

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/favicon-edge/internal/favicon"
)

// Blocklist matches exact hosts and suffix wildcards ("*.example.com" or
// ".example.com"). A nil Blocklist allows everything.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a Blocklist from patterns. It returns nil when no usable
// pattern is given.
func New(patterns []string) *Blocklist {
	b := &Blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// IsBlocked reports whether host (without port) matches a pattern.
func (b *Blocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Check returns an error wrapping favicon.ErrHostBlocked when siteURL's host
// is blocked.
func (b *Blocklist) Check(siteURL string) error {
	if b == nil {
		return nil
	}
	u, err := url.Parse(siteURL)
	if err != nil {
		return fmt.Errorf("%w: %w", favicon.ErrInvalidURL, err)
	}
	if b.IsBlocked(u.Hostname()) {
		return fmt.Errorf("%w: %s", favicon.ErrHostBlocked, u.Hostname())
	}
	return nil
}
