package favicon

import (
	"errors"
	"fmt"
)

// Sentinel errors for the discovery pipeline.
var (
	// ErrFetchFailed marks a non-200 response or a failed network call.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrManifestInvalid marks a manifest body that is not valid JSON.
	ErrManifestInvalid = errors.New("manifest invalid")
	// ErrNoIconFound is terminal: no strategy produced an icon.
	ErrNoIconFound = errors.New("no icon found")
	// ErrInvalidURL marks a site URL that is not absolute http(s).
	ErrInvalidURL = errors.New("invalid site url")
	// ErrHostBlocked marks a site whose host is refused by policy.
	ErrHostBlocked = errors.New("host blocked")
)

// FetchError describes a failed outbound request. It matches ErrFetchFailed.
type FetchError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.URL, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
}

// Unwrap exposes the underlying transport error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrFetchFailed) match any FetchError.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// NoIconError carries the last strategy error behind ErrNoIconFound.
type NoIconError struct {
	SiteURL string
	Last    error
}

func (e *NoIconError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%s: %v", e.SiteURL, ErrNoIconFound)
	}
	return fmt.Sprintf("%s: %v (last error: %v)", e.SiteURL, ErrNoIconFound, e.Last)
}

// Unwrap returns the last strategy error for diagnostics.
func (e *NoIconError) Unwrap() error {
	return e.Last
}

// Is lets errors.Is(err, ErrNoIconFound) match.
func (e *NoIconError) Is(target error) bool {
	return target == ErrNoIconFound
}
