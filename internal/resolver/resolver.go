// Package resolver discovers a site's favicon by racing a conventional-path
// probe against a scrape of the page head.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/favicon-edge/internal/extract"
	"github.com/JakeFAU/favicon-edge/internal/favicon"
	"github.com/JakeFAU/favicon-edge/internal/metrics"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultChunkSize    = 4 << 10
	defaultMaxHeadBytes = 512 << 10
	conventionalPath    = "/favicon.ico"
)

// ErrHeadIncomplete is returned when the page stream ends before </head>.
var ErrHeadIncomplete = errors.New("page ended before </head>")

// ManifestResolver returns the first icon src of a manifest, or "" when it lists none.
type ManifestResolver interface {
	IconURL(ctx context.Context, manifestURL string) (string, error)
}

// Config tunes discovery.
type Config struct {
	// Timeout bounds every outbound call individually.
	Timeout time.Duration
	// MaxHeadBytes caps the buffered page prefix; negative disables the cap.
	MaxHeadBytes int
	ChunkSize    int
	// ShortCircuit cancels the quick probe as soon as the deep strategy succeeds.
	ShortCircuit bool
}

// Resolver implements favicon discovery.
type Resolver struct {
	cfg       Config
	fetcher   favicon.Fetcher
	stream    favicon.StreamFetcher
	manifests ManifestResolver
	renderer  favicon.HeadRenderer
	detector  favicon.RenderDetector
	policy    HostPolicy
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithHeadless enables re-reading client-rendered heads through a browser.
func WithHeadless(renderer favicon.HeadRenderer, detector favicon.RenderDetector) Option {
	return func(r *Resolver) {
		r.renderer = renderer
		r.detector = detector
	}
}

// WithHostPolicy rejects blocked sites before discovery starts.
func WithHostPolicy(policy HostPolicy) Option {
	return func(r *Resolver) {
		r.policy = policy
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New builds a Resolver.
func New(
	cfg Config,
	fetcher favicon.Fetcher,
	stream favicon.StreamFetcher,
	manifests ManifestResolver,
	opts ...Option,
) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.MaxHeadBytes == 0 {
		cfg.MaxHeadBytes = defaultMaxHeadBytes
	}
	r := &Resolver{
		cfg:       cfg,
		fetcher:   fetcher,
		stream:    stream,
		manifests: manifests,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("github.com/JakeFAU/favicon-edge/internal/resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HostPolicy refuses sites by host before any outbound call.
type HostPolicy interface {
	Check(siteURL string) error
}

type settled struct {
	discovery favicon.Discovery
	err       error
}

// Discover runs both strategies concurrently, waits for both to settle, and
// prefers the deep result. When both fail the error matches
// favicon.ErrNoIconFound and unwraps to the error of the strategy that
// settled last.
func (r *Resolver) Discover(ctx context.Context, siteURL string) (favicon.Discovery, error) {
	start := time.Now()
	site, err := favicon.NormalizeSiteURL(siteURL)
	if err != nil {
		return favicon.Discovery{}, err
	}
	if r.policy != nil {
		if err := r.policy.Check(site); err != nil {
			return favicon.Discovery{}, err
		}
	}

	ctx, span := r.tracer.Start(ctx, "resolver.Discover", trace.WithAttributes(attribute.String("site.url", site)))
	defer span.End()

	raceCtx, cancelRace := context.WithCancel(ctx)
	defer cancelRace()

	var (
		mu      sync.Mutex
		quick   settled
		deep    settled
		lastErr error
	)
	settle := func(dst *settled, d favicon.Discovery, err error) {
		mu.Lock()
		defer mu.Unlock()
		dst.discovery, dst.err = d, err
		if err != nil {
			lastErr = err
		}
	}

	var g errgroup.Group
	g.Go(func() error {
		d, err := r.quick(raceCtx, site)
		settle(&quick, d, err)
		return nil
	})
	g.Go(func() error {
		d, err := r.deep(raceCtx, site)
		settle(&deep, d, err)
		if err == nil && r.cfg.ShortCircuit {
			cancelRace()
		}
		return nil
	})
	_ = g.Wait()

	var winner favicon.Discovery
	switch {
	case deep.err == nil:
		winner = deep.discovery
	case quick.err == nil:
		winner = quick.discovery
	default:
		span.SetStatus(codes.Error, favicon.ErrNoIconFound.Error())
		r.logger.Debug("no favicon found",
			zap.String("site", site),
			zap.NamedError("quick_error", quick.err),
			zap.NamedError("deep_error", deep.err),
		)
		return favicon.Discovery{}, &favicon.NoIconError{SiteURL: site, Last: lastErr}
	}

	winner.SiteURL = site
	winner.Duration = time.Since(start)
	metrics.ObserveDiscovery(string(winner.Strategy), winner.Duration)
	span.SetAttributes(
		attribute.String("favicon.strategy", string(winner.Strategy)),
		attribute.String("favicon.source", string(winner.Source)),
	)
	r.logger.Debug("favicon discovered",
		zap.String("site", site),
		zap.String("icon", winner.IconURL),
		zap.String("strategy", string(winner.Strategy)),
		zap.String("source", string(winner.Source)),
		zap.Duration("duration", winner.Duration),
	)
	return winner, nil
}

// quick probes the conventional /favicon.ico path with HEAD.
func (r *Resolver) quick(ctx context.Context, site string) (d favicon.Discovery, err error) {
	ctx, span := r.tracer.Start(ctx, "resolver.quick")
	defer func() { endStrategy(span, favicon.StrategyQuick, err) }()

	iconURL, err := favicon.ResolveReference(site, conventionalPath)
	if err != nil {
		return favicon.Discovery{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	resp, err := r.fetcher.Fetch(callCtx, favicon.FetchRequest{Method: http.MethodHead, URL: iconURL})
	if err != nil {
		return favicon.Discovery{}, fmt.Errorf("quick probe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return favicon.Discovery{}, &favicon.FetchError{Method: http.MethodHead, URL: iconURL, StatusCode: resp.StatusCode}
	}
	return favicon.Discovery{
		IconURL:  iconURL,
		Strategy: favicon.StrategyQuick,
		Source:   favicon.SourceConventional,
	}, nil
}

// deep reads the page head and picks its declared icon.
func (r *Resolver) deep(ctx context.Context, site string) (d favicon.Discovery, err error) {
	ctx, span := r.tracer.Start(ctx, "resolver.deep")
	defer func() { endStrategy(span, d.Strategy, err) }()
	d.Strategy = favicon.StrategyDeep

	head, err := r.streamHead(ctx, site)
	if err != nil {
		return d, err
	}
	links := extract.Links(head)
	if links.Empty() && r.shouldRender(head) {
		return r.rendered(ctx, site)
	}
	return r.pick(ctx, site, links, favicon.StrategyDeep)
}

func (r *Resolver) shouldRender(head string) bool {
	return r.renderer != nil && r.detector != nil && r.detector.ShouldRender(head)
}

// rendered re-reads the head from a browser-rendered page.
func (r *Resolver) rendered(ctx context.Context, site string) (favicon.Discovery, error) {
	d := favicon.Discovery{Strategy: favicon.StrategyHeadless}
	head, _, err := r.renderer.RenderHead(ctx, site)
	if err != nil {
		return d, fmt.Errorf("render head: %w", err)
	}
	fragment, ok := extract.HeadFragment(head)
	if !ok {
		fragment = head
	}
	return r.pick(ctx, site, extract.Links(fragment), favicon.StrategyHeadless)
}

// streamHead GETs the page and stops reading at the first complete </head>.
func (r *Resolver) streamHead(ctx context.Context, site string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	resp, err := r.stream.Open(callCtx, favicon.FetchRequest{URL: site})
	if err != nil {
		return "", fmt.Errorf("deep scrape: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("close page body", zap.String("site", site), zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", &favicon.FetchError{Method: http.MethodGet, URL: site, StatusCode: resp.StatusCode}
	}

	scanner := extract.NewHeadScanner(r.cfg.MaxHeadBytes)
	chunk := make([]byte, r.cfg.ChunkSize)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			done, err := scanner.Append(chunk[:n])
			if err != nil {
				return "", fmt.Errorf("deep scrape %s: %w", site, err)
			}
			if done {
				return scanner.Fragment(), nil
			}
		}
		if errors.Is(readErr, io.EOF) {
			return "", fmt.Errorf("deep scrape %s: %w", site, ErrHeadIncomplete)
		}
		if readErr != nil {
			return "", &favicon.FetchError{Method: http.MethodGet, URL: site, Err: readErr}
		}
	}
}

// pick applies manifest-first precedence with fallthrough to icon links.
func (r *Resolver) pick(
	ctx context.Context,
	site string,
	links favicon.LinkSet,
	strategy favicon.Strategy,
) (favicon.Discovery, error) {
	d := favicon.Discovery{Strategy: strategy}
	if links.Manifest != nil {
		iconURL, err := r.fromManifest(ctx, site, *links.Manifest)
		switch {
		case err != nil:
			r.logger.Debug("manifest fallthrough", zap.String("site", site), zap.Error(err))
		case iconURL != "":
			d.IconURL, d.Source = iconURL, favicon.SourceManifest
			return d, nil
		}
	}
	if len(links.Icons) > 0 {
		iconURL, err := links.Icons[0].Resolve(site)
		if err != nil {
			return d, fmt.Errorf("resolve icon link: %w", err)
		}
		d.IconURL, d.Source = iconURL, favicon.SourceLink
		return d, nil
	}
	return d, fmt.Errorf("%s strategy: %w", strategy, favicon.ErrNoIconFound)
}

func (r *Resolver) fromManifest(ctx context.Context, site string, candidate favicon.IconCandidate) (string, error) {
	if r.manifests == nil {
		return "", nil
	}
	manifestURL, err := candidate.Resolve(site)
	if err != nil {
		return "", err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	src, err := r.manifests.IconURL(callCtx, manifestURL)
	if err != nil || src == "" {
		return "", err
	}
	return favicon.ResolveReference(manifestURL, src)
}

func endStrategy(span trace.Span, strategy favicon.Strategy, err error) {
	metrics.ObserveStrategy(string(strategy), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
