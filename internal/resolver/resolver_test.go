package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/favicon-edge/internal/favicon"
)

const site = "https://example.com/"

type fakeFetcher struct {
	mu       sync.Mutex
	status   int
	err      error
	block    bool
	requests []favicon.FetchRequest
	ctxErr   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req favicon.FetchRequest) (favicon.FetchResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		f.mu.Lock()
		f.ctxErr = ctx.Err()
		f.mu.Unlock()
		return favicon.FetchResponse{}, ctx.Err()
	}
	if f.err != nil {
		return favicon.FetchResponse{}, f.err
	}
	return favicon.FetchResponse{URL: req.URL, StatusCode: f.status}, nil
}

type fakeStream struct {
	status int
	body   io.Reader
	err    error
	closed bool
}

func (s *fakeStream) Open(_ context.Context, req favicon.FetchRequest) (favicon.StreamResponse, error) {
	if s.err != nil {
		return favicon.StreamResponse{}, s.err
	}
	return favicon.StreamResponse{URL: req.URL, StatusCode: s.status, Body: &trackingBody{r: s.body, s: s}}, nil
}

type trackingBody struct {
	r io.Reader
	s *fakeStream
}

func (b *trackingBody) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *trackingBody) Close() error {
	b.s.closed = true
	return nil
}

// pastHeadReader fails if anything reads beyond the first part.
type pastHeadReader struct {
	head string
	off  int
}

func (p *pastHeadReader) Read(buf []byte) (int, error) {
	if p.off >= len(p.head) {
		return 0, errors.New("read past </head>")
	}
	n := copy(buf, p.head[p.off:])
	p.off += n
	return n, nil
}

type fakeManifests struct {
	src   string
	err   error
	calls []string
}

func (m *fakeManifests) IconURL(_ context.Context, manifestURL string) (string, error) {
	m.calls = append(m.calls, manifestURL)
	return m.src, m.err
}

type fakeRenderer struct {
	head  string
	err   error
	calls int
}

func (r *fakeRenderer) RenderHead(_ context.Context, pageURL string) (string, string, error) {
	r.calls++
	return r.head, pageURL, r.err
}

type fakeDetector bool

func (d fakeDetector) ShouldRender(string) bool { return bool(d) }

func page(head string) io.Reader {
	return strings.NewReader("<!doctype html><html>" + head + "<body>hello</body></html>")
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		quick        *fakeFetcher
		stream       *fakeStream
		manifests    *fakeManifests
		wantURL      string
		wantStrategy favicon.Strategy
		wantSource   favicon.Source
	}{
		{
			name:         "deep beats quick",
			quick:        &fakeFetcher{status: http.StatusOK},
			stream:       &fakeStream{status: http.StatusOK, body: page(`<head><link rel="icon" href="/x.png"></head>`)},
			wantURL:      "https://example.com/x.png",
			wantStrategy: favicon.StrategyDeep,
			wantSource:   favicon.SourceLink,
		},
		{
			name:         "quick when page has no links",
			quick:        &fakeFetcher{status: http.StatusOK},
			stream:       &fakeStream{status: http.StatusOK, body: page(`<head><title>t</title></head>`)},
			wantURL:      "https://example.com/favicon.ico",
			wantStrategy: favicon.StrategyQuick,
			wantSource:   favicon.SourceConventional,
		},
		{
			name:         "deep when favicon.ico is 404",
			quick:        &fakeFetcher{err: &favicon.FetchError{Method: "HEAD", StatusCode: http.StatusNotFound}},
			stream:       &fakeStream{status: http.StatusOK, body: page(`<head><link rel="shortcut icon" href="img/fav.png"></head>`)},
			wantURL:      "https://example.com/img/fav.png",
			wantStrategy: favicon.StrategyDeep,
			wantSource:   favicon.SourceLink,
		},
		{
			name:         "quick when page is not 200",
			quick:        &fakeFetcher{status: http.StatusOK},
			stream:       &fakeStream{status: http.StatusInternalServerError, body: page(`<head><link rel="icon" href="/x.png"></head>`)},
			wantURL:      "https://example.com/favicon.ico",
			wantStrategy: favicon.StrategyQuick,
			wantSource:   favicon.SourceConventional,
		},
		{
			name:         "quick when stream ends without head close",
			quick:        &fakeFetcher{status: http.StatusOK},
			stream:       &fakeStream{status: http.StatusOK, body: strings.NewReader(`<html><head><link rel="icon" href="/x.png">`)},
			wantURL:      "https://example.com/favicon.ico",
			wantStrategy: favicon.StrategyQuick,
			wantSource:   favicon.SourceConventional,
		},
		{
			name:  "manifest first resolved against manifest url",
			quick: &fakeFetcher{status: http.StatusOK},
			stream: &fakeStream{status: http.StatusOK, body: page(
				`<head><link rel="icon" href="/x.png"><link rel="manifest" href="/app/site.webmanifest"></head>`)},
			manifests:    &fakeManifests{src: "icons/192.png"},
			wantURL:      "https://example.com/app/icons/192.png",
			wantStrategy: favicon.StrategyDeep,
			wantSource:   favicon.SourceManifest,
		},
		{
			name:  "manifest failure falls through to link",
			quick: &fakeFetcher{status: http.StatusOK},
			stream: &fakeStream{status: http.StatusOK, body: page(
				`<head><link rel="manifest" href="/m.json"><link rel="icon" href="/x.png"></head>`)},
			manifests:    &fakeManifests{err: favicon.ErrManifestInvalid},
			wantURL:      "https://example.com/x.png",
			wantStrategy: favicon.StrategyDeep,
			wantSource:   favicon.SourceLink,
		},
		{
			name:  "empty manifest falls through to link",
			quick: &fakeFetcher{status: http.StatusOK},
			stream: &fakeStream{status: http.StatusOK, body: page(
				`<head><link rel="manifest" href="/m.json"><link rel="icon" href="/x.png"></head>`)},
			manifests:    &fakeManifests{},
			wantURL:      "https://example.com/x.png",
			wantStrategy: favicon.StrategyDeep,
			wantSource:   favicon.SourceLink,
		},
		{
			name:         "base element",
			quick:        &fakeFetcher{err: errors.New("unreachable")},
			stream:       &fakeStream{status: http.StatusOK, body: page(`<head><base href="https://cdn.example.net/s/"><link rel="icon" href="f.ico"></head>`)},
			wantURL:      "https://cdn.example.net/s/f.ico",
			wantStrategy: favicon.StrategyDeep,
			wantSource:   favicon.SourceLink,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			manifests := tt.manifests
			if manifests == nil {
				manifests = &fakeManifests{}
			}
			r := New(Config{ChunkSize: 7}, tt.quick, tt.stream, manifests)

			got, err := r.Discover(context.Background(), site)
			require.NoError(t, err)
			require.Equal(t, tt.wantURL, got.IconURL)
			require.Equal(t, tt.wantStrategy, got.Strategy)
			require.Equal(t, tt.wantSource, got.Source)
			require.Equal(t, site, got.SiteURL)
			require.True(t, tt.stream.closed, "page body must be closed")
		})
	}
}

func TestDiscoverBothFail(t *testing.T) {
	t.Parallel()

	quick := &fakeFetcher{err: &favicon.FetchError{Method: "HEAD", URL: site + "favicon.ico", StatusCode: 404}}
	stream := &fakeStream{status: http.StatusOK, body: page(`<head><title>nothing</title></head>`)}
	r := New(Config{}, quick, stream, &fakeManifests{})

	_, err := r.Discover(context.Background(), site)
	require.ErrorIs(t, err, favicon.ErrNoIconFound)

	var noIcon *favicon.NoIconError
	require.True(t, errors.As(err, &noIcon))
	require.Equal(t, site, noIcon.SiteURL)
	require.Error(t, noIcon.Last)
}

func TestDiscoverQuickRequiresExactly200(t *testing.T) {
	t.Parallel()

	quick := &fakeFetcher{status: http.StatusNoContent}
	stream := &fakeStream{status: http.StatusOK, body: page(`<head></head>`)}
	r := New(Config{}, quick, stream, &fakeManifests{})

	_, err := r.Discover(context.Background(), site)
	require.ErrorIs(t, err, favicon.ErrNoIconFound)
}

func TestDiscoverProbesConventionalPath(t *testing.T) {
	t.Parallel()

	quick := &fakeFetcher{status: http.StatusOK}
	stream := &fakeStream{status: http.StatusOK, body: page(`<head></head>`)}
	r := New(Config{}, quick, stream, &fakeManifests{})

	_, err := r.Discover(context.Background(), "https://example.com/deep/page?q=1")
	require.NoError(t, err)
	require.Len(t, quick.requests, 1)
	require.Equal(t, http.MethodHead, quick.requests[0].Method)
	require.Equal(t, "https://example.com/favicon.ico", quick.requests[0].URL)
}

func TestDiscoverStopsReadingAtHeadClose(t *testing.T) {
	t.Parallel()

	body := &pastHeadReader{head: `<html><HEAD><link rel="icon" href="/early.png"></HEAD>`}
	stream := &fakeStream{status: http.StatusOK, body: body}
	r := New(Config{ChunkSize: 5}, &fakeFetcher{err: errors.New("down")}, stream, &fakeManifests{})

	got, err := r.Discover(context.Background(), site)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/early.png", got.IconURL)
	require.True(t, stream.closed)
}

func TestDiscoverHeadByteCap(t *testing.T) {
	t.Parallel()

	huge := "<html><head>" + strings.Repeat("<meta name=x content=y>", 100) + "</head>"
	stream := &fakeStream{status: http.StatusOK, body: strings.NewReader(huge)}
	r := New(Config{MaxHeadBytes: 64}, &fakeFetcher{status: http.StatusOK}, stream, &fakeManifests{})

	got, err := r.Discover(context.Background(), site)
	require.NoError(t, err)
	require.Equal(t, favicon.StrategyQuick, got.Strategy)
}

func TestDiscoverHeadlessPromotion(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{status: http.StatusOK, body: page(`<head><script src="/app.js"></script></head>`)}
	renderer := &fakeRenderer{head: `<head><link rel="icon" href="/rendered.svg"></head>`}
	r := New(Config{}, &fakeFetcher{status: http.StatusOK}, stream, &fakeManifests{},
		WithHeadless(renderer, fakeDetector(true)))

	got, err := r.Discover(context.Background(), site)
	require.NoError(t, err)
	require.Equal(t, 1, renderer.calls)
	require.Equal(t, "https://example.com/rendered.svg", got.IconURL)
	require.Equal(t, favicon.StrategyHeadless, got.Strategy)
}

func TestDiscoverHeadlessSkippedWhenLinksPresent(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{status: http.StatusOK, body: page(`<head><link rel="icon" href="/x.png"></head>`)}
	renderer := &fakeRenderer{}
	r := New(Config{}, &fakeFetcher{status: http.StatusOK}, stream, &fakeManifests{},
		WithHeadless(renderer, fakeDetector(true)))

	got, err := r.Discover(context.Background(), site)
	require.NoError(t, err)
	require.Zero(t, renderer.calls)
	require.Equal(t, favicon.StrategyDeep, got.Strategy)
}

func TestDiscoverHeadlessFailureFallsBackToQuick(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{status: http.StatusOK, body: page(`<head></head>`)}
	renderer := &fakeRenderer{err: errors.New("no browser")}
	r := New(Config{}, &fakeFetcher{status: http.StatusOK}, stream, &fakeManifests{},
		WithHeadless(renderer, fakeDetector(true)))

	got, err := r.Discover(context.Background(), site)
	require.NoError(t, err)
	require.Equal(t, favicon.StrategyQuick, got.Strategy)
}

func TestDiscoverWaitsForBothByDefault(t *testing.T) {
	t.Parallel()

	quick := &fakeFetcher{block: true}
	stream := &fakeStream{status: http.StatusOK, body: page(`<head><link rel="icon" href="/x.png"></head>`)}
	r := New(Config{Timeout: 50 * time.Millisecond}, quick, stream, &fakeManifests{})

	start := time.Now()
	got, err := r.Discover(context.Background(), site)
	require.NoError(t, err)
	require.Equal(t, favicon.StrategyDeep, got.Strategy)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.ErrorIs(t, quick.ctxErr, context.DeadlineExceeded)
}

func TestDiscoverShortCircuitCancelsQuick(t *testing.T) {
	t.Parallel()

	quick := &fakeFetcher{block: true}
	stream := &fakeStream{status: http.StatusOK, body: page(`<head><link rel="icon" href="/x.png"></head>`)}
	r := New(Config{Timeout: 5 * time.Second, ShortCircuit: true}, quick, stream, &fakeManifests{})

	start := time.Now()
	got, err := r.Discover(context.Background(), site)
	require.NoError(t, err)
	require.Equal(t, favicon.StrategyDeep, got.Strategy)
	require.Less(t, time.Since(start), time.Second)
	require.ErrorIs(t, quick.ctxErr, context.Canceled)
}

func TestDiscoverRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	r := New(Config{}, &fakeFetcher{}, &fakeStream{}, &fakeManifests{})
	for _, raw := range []string{"", "ftp://example.com", "http://"} {
		_, err := r.Discover(context.Background(), raw)
		require.ErrorIs(t, err, favicon.ErrInvalidURL, raw)
	}
}

type denyHost string

func (d denyHost) Check(siteURL string) error {
	if strings.Contains(siteURL, string(d)) {
		return fmt.Errorf("%w: %s", favicon.ErrHostBlocked, string(d))
	}
	return nil
}

func TestDiscoverHostPolicy(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{status: http.StatusOK}
	r := New(Config{}, fetcher, &fakeStream{status: http.StatusOK, body: page("<head></head>")}, &fakeManifests{},
		WithHostPolicy(denyHost("blocked.test")),
	)

	_, err := r.Discover(context.Background(), "blocked.test")
	require.ErrorIs(t, err, favicon.ErrHostBlocked)
	require.Empty(t, fetcher.requests)

	got, err := r.Discover(context.Background(), "allowed.test")
	require.NoError(t, err)
	require.Equal(t, favicon.StrategyQuick, got.Strategy)
}

// stallingStream sends a partial head and then stalls until the call context ends.
type stallingStream struct {
	mu      sync.Mutex
	readErr error
	closed  bool
}

func (s *stallingStream) Open(ctx context.Context, req favicon.FetchRequest) (favicon.StreamResponse, error) {
	return favicon.StreamResponse{URL: req.URL, StatusCode: http.StatusOK, Body: &stallingBody{ctx: ctx, s: s}}, nil
}

type stallingBody struct {
	ctx  context.Context
	s    *stallingStream
	sent bool
}

func (b *stallingBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, "<!doctype html><html><head><title>slow"), nil
	}
	<-b.ctx.Done()
	b.s.mu.Lock()
	b.s.readErr = b.ctx.Err()
	b.s.mu.Unlock()
	return 0, b.ctx.Err()
}

func (b *stallingBody) Close() error {
	b.s.mu.Lock()
	b.s.closed = true
	b.s.mu.Unlock()
	return nil
}

func TestDiscoverStalledPageFallsBackToQuickAfterTimeout(t *testing.T) {
	t.Parallel()

	stream := &stallingStream{}
	r := New(Config{Timeout: 100 * time.Millisecond}, &fakeFetcher{status: http.StatusOK}, stream, &fakeManifests{})

	start := time.Now()
	got, err := r.Discover(context.Background(), site)
	require.NoError(t, err)
	require.Equal(t, favicon.StrategyQuick, got.Strategy)
	require.Equal(t, "https://example.com/favicon.ico", got.IconURL)
	require.Less(t, time.Since(start), 2*time.Second)

	stream.mu.Lock()
	defer stream.mu.Unlock()
	require.ErrorIs(t, stream.readErr, context.DeadlineExceeded)
	require.True(t, stream.closed)
}
