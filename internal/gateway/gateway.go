// Package gateway fronts favicon discovery with an edge response cache.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/favicon-edge/internal/cache"
	"github.com/JakeFAU/favicon-edge/internal/clock/system"
	"github.com/JakeFAU/favicon-edge/internal/favicon"
	"github.com/JakeFAU/favicon-edge/internal/metrics"
)

const defaultWriteTimeout = 30 * time.Second

// Outcome tells whether a response came from the cache.
type Outcome string

// Serve outcomes.
const (
	OutcomeHit  Outcome = "hit"
	OutcomeMiss Outcome = "miss"
)

// ErrIconFetch marks a resolved icon URL whose download failed.
var ErrIconFetch = errors.New("icon fetch failed")

// Discoverer resolves a site to its icon URL.
type Discoverer interface {
	Discover(ctx context.Context, siteURL string) (favicon.Discovery, error)
}

// Config tunes the gateway.
type Config struct {
	// TTL expires cached entries; zero keeps them until evicted by the store.
	TTL time.Duration
	// WriteTimeout bounds each background cache write and lookup record.
	WriteTimeout time.Duration
	// EventTopic names the Pub/Sub topic for resolution events.
	EventTopic string
}

// Gateway serves favicon requests from cache, resolving on a miss.
type Gateway struct {
	cfg       Config
	store     cache.Store
	resolver  Discoverer
	fetcher   favicon.Fetcher
	clock     favicon.Clock
	ids       favicon.IDGenerator
	recorder  favicon.LookupRecorder
	publisher favicon.Publisher
	logger    *zap.Logger
	tracer    trace.Tracer

	wg sync.WaitGroup
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithLookupLog appends every successful resolution to recorder. ids assigns row IDs.
func WithLookupLog(recorder favicon.LookupRecorder, ids favicon.IDGenerator) Option {
	return func(g *Gateway) {
		g.recorder = recorder
		g.ids = ids
	}
}

// WithPublisher emits a resolution event for every successful resolution.
func WithPublisher(publisher favicon.Publisher) Option {
	return func(g *Gateway) {
		g.publisher = publisher
	}
}

// WithClock overrides the clock used for StoredAt and TTL checks.
func WithClock(clock favicon.Clock) Option {
	return func(g *Gateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New builds a Gateway.
func New(cfg Config, store cache.Store, resolver Discoverer, fetcher favicon.Fetcher, opts ...Option) *Gateway {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	g := &Gateway{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		fetcher:  fetcher,
		clock:    system.New(),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("github.com/JakeFAU/favicon-edge/internal/gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Serve answers one favicon request. requestURL is the full incoming URL used
// for the cache key; target is the site whose icon is wanted. Failures are
// never cached. On a miss the cache write runs in the background.
func (g *Gateway) Serve(ctx context.Context, method, requestURL, target string) (cache.Entry, Outcome, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Serve", trace.WithAttributes(attribute.String("site.url", target)))
	defer span.End()

	key, err := cache.Key(method, requestURL)
	if err != nil {
		metrics.ObserveLookup(metrics.OutcomeInvalid)
		return cache.Entry{}, "", fmt.Errorf("%w: %w", favicon.ErrInvalidURL, err)
	}

	if entry, ok := g.match(ctx, key); ok {
		span.SetAttributes(attribute.String("cache.outcome", string(OutcomeHit)))
		metrics.ObserveLookup(metrics.OutcomeHit)
		return entry, OutcomeHit, nil
	}
	span.SetAttributes(attribute.String("cache.outcome", string(OutcomeMiss)))

	discovery, err := g.resolver.Discover(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveLookup(outcomeFor(err))
		return cache.Entry{}, OutcomeMiss, err
	}

	resp, err := g.fetcher.Fetch(ctx, favicon.FetchRequest{Method: http.MethodGet, URL: discovery.IconURL})
	if err == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		err = &favicon.FetchError{Method: http.MethodGet, URL: discovery.IconURL, StatusCode: resp.StatusCode}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveLookup(metrics.OutcomeUpstreamError)
		return cache.Entry{}, OutcomeMiss, fmt.Errorf("%w: %w", ErrIconFetch, err)
	}

	entry := cache.Entry{
		StatusCode: resp.StatusCode,
		Header:     resp.Headers.Clone(),
		Body:       resp.Body,
		StoredAt:   g.clock.Now(),
	}
	if entry.Header == nil {
		entry.Header = http.Header{}
	}
	metrics.ObserveLookup(metrics.OutcomeMiss)
	g.persist(ctx, key, entry.Clone(), discovery)
	return entry, OutcomeMiss, nil
}

// Close waits for pending background writes or for ctx to end. Call it only
// after the HTTP server has stopped accepting requests.
func (g *Gateway) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain gateway writes: %w", ctx.Err())
	}
}

func (g *Gateway) match(ctx context.Context, key string) (cache.Entry, bool) {
	entry, err := g.store.Match(ctx, key)
	switch {
	case errors.Is(err, cache.ErrMiss):
		return cache.Entry{}, false
	case err != nil:
		g.logger.Warn("cache match failed; treating as miss", zap.String("key", key), zap.Error(err))
		return cache.Entry{}, false
	case entry.Expired(g.clock.Now(), g.cfg.TTL):
		return cache.Entry{}, false
	}
	return entry, true
}

// persist writes the cache entry and the optional lookup log and event off
// the request path. The request context is detached so the writes outlive it.
func (g *Gateway) persist(ctx context.Context, key string, entry cache.Entry, discovery favicon.Discovery) {
	detached := context.WithoutCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		writeCtx, cancel := context.WithTimeout(detached, g.cfg.WriteTimeout)
		defer cancel()

		err := g.store.Put(writeCtx, key, entry)
		metrics.ObserveCacheWrite(err)
		if err != nil {
			g.logger.Warn("cache put failed", zap.String("key", key), zap.Error(err))
		}
		g.record(writeCtx, key, entry, discovery)
	}()
}

func (g *Gateway) record(ctx context.Context, key string, entry cache.Entry, discovery favicon.Discovery) {
	if g.recorder == nil && g.publisher == nil {
		return
	}
	rec := favicon.LookupRecord{
		SiteURL:     discovery.SiteURL,
		IconURL:     discovery.IconURL,
		Strategy:    discovery.Strategy,
		Source:      discovery.Source,
		StatusCode:  entry.StatusCode,
		ContentType: entry.Header.Get("Content-Type"),
		Bytes:       len(entry.Body),
		CacheKey:    key,
		ResolvedAt:  entry.StoredAt,
		Duration:    discovery.Duration,
	}
	if g.ids != nil {
		id, err := g.ids.NewID()
		if err != nil {
			g.logger.Warn("lookup id generation failed", zap.Error(err))
		}
		rec.ID = id
	}
	if g.recorder != nil && rec.ID != "" {
		if err := g.recorder.RecordLookup(ctx, rec); err != nil {
			g.logger.Warn("record lookup failed", zap.String("site", rec.SiteURL), zap.Error(err))
		}
	}
	if g.publisher != nil {
		id, err := g.publisher.Publish(ctx, g.cfg.EventTopic, rec)
		if err != nil {
			g.logger.Warn("publish lookup event failed", zap.String("site", rec.SiteURL), zap.Error(err))
			return
		}
		g.logger.Debug("published lookup event", zap.String("message_id", id))
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, favicon.ErrInvalidURL), errors.Is(err, favicon.ErrHostBlocked):
		return metrics.OutcomeInvalid
	case errors.Is(err, favicon.ErrNoIconFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeUpstreamError
	}
}
