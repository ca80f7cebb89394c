// Package cache defines the edge response cache consulted by the gateway.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ErrMiss is returned by Store.Match when no entry exists for a key.
var ErrMiss = errors.New("cache miss")

// Entry is a complete cached HTTP response. Entries are immutable once stored.
type Entry struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// Clone returns a deep copy so callers never share buffers with the store.
func (e Entry) Clone() Entry {
	return Entry{
		StatusCode: e.StatusCode,
		Header:     e.Header.Clone(),
		Body:       append([]byte(nil), e.Body...),
		StoredAt:   e.StoredAt,
	}
}

// Expired reports whether the entry is older than ttl at now. A zero ttl never expires.
func (e Entry) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && !e.StoredAt.IsZero() && now.Sub(e.StoredAt) >= ttl
}

// Store is a key-value response cache.
type Store interface {
	// Match returns the entry for key or ErrMiss.
	Match(ctx context.Context, key string) (Entry, error)
	// Put stores entry under key, replacing any previous value.
	Put(ctx context.Context, key string, entry Entry) error
}

// Key normalizes an incoming request into a cache key: upper-cased method,
// lower-cased scheme and host, sorted query, no fragment.
func Key(method, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse cache key url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		q := u.Query()
		for _, values := range q {
			sort.Strings(values)
		}
		// Encode sorts by key.
		u.RawQuery = q.Encode()
	}
	if method == "" {
		method = http.MethodGet
	}
	return strings.ToUpper(method) + " " + u.String(), nil
}

// Encode serializes an entry for byte-oriented backends.
func Encode(entry Entry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return data, nil
}

// Decode parses an entry written by Encode.
func Decode(data []byte) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, nil
}
