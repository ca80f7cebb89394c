package favicon

import (
	"context"
	"time"
)

// Fetcher performs a buffered outbound request (HEAD or GET).
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// StreamFetcher opens a GET whose body is consumed incrementally.
type StreamFetcher interface {
	Open(ctx context.Context, request FetchRequest) (StreamResponse, error)
}

// HeadRenderer renders a page in a browser and returns its <head> markup and final URL.
type HeadRenderer interface {
	RenderHead(ctx context.Context, pageURL string) (head string, finalURL string, err error)
}

// RenderDetector decides whether a streamed head looks like a client-rendered shell.
type RenderDetector interface {
	ShouldRender(head string) bool
}

// Limiter throttles outbound requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// LookupRecorder persists successful resolutions.
type LookupRecorder interface {
	RecordLookup(ctx context.Context, record LookupRecord) error
}

// Publisher pushes resolution events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for cache object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces lookup and request IDs.
type IDGenerator interface {
	NewID() (string, error)
}
