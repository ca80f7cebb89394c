// Package app initializes and holds long-lived services, acting as the
// dependency injection container shared by the CLI commands.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/favicon-edge/internal/cache"
	"github.com/JakeFAU/favicon-edge/internal/cache/gcs"
	"github.com/JakeFAU/favicon-edge/internal/cache/local"
	"github.com/JakeFAU/favicon-edge/internal/cache/memory"
	"github.com/JakeFAU/favicon-edge/internal/clock/system"
	"github.com/JakeFAU/favicon-edge/internal/config"
	"github.com/JakeFAU/favicon-edge/internal/favicon"
	collyfetcher "github.com/JakeFAU/favicon-edge/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/favicon-edge/internal/fetcher/headless"
	"github.com/JakeFAU/favicon-edge/internal/fetcher/stream"
	"github.com/JakeFAU/favicon-edge/internal/fetcher/transport"
	"github.com/JakeFAU/favicon-edge/internal/gateway"
	"github.com/JakeFAU/favicon-edge/internal/hash/sha256"
	"github.com/JakeFAU/favicon-edge/internal/headless/detector"
	"github.com/JakeFAU/favicon-edge/internal/id/uuid"
	"github.com/JakeFAU/favicon-edge/internal/manifest"
	"github.com/JakeFAU/favicon-edge/internal/policy/blocklist"
	"github.com/JakeFAU/favicon-edge/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/favicon-edge/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/favicon-edge/internal/publisher/pubsub"
	"github.com/JakeFAU/favicon-edge/internal/resolver"
	"github.com/JakeFAU/favicon-edge/internal/storage/postgres"
)

const recentEvents = 100

// App holds the shared, long-lived services. It is built once at startup.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	IDs      *uuid.Generator
	Resolver *resolver.Resolver
	Gateway  *gateway.Gateway
	Lookups  *postgres.LookupStore
	// Recent is set when no Pub/Sub topic is configured; it keeps the latest
	// resolution events in memory.
	Recent *memorypublisher.Publisher

	renderer  *headlessfetcher.Renderer
	publisher *pubsubpublisher.Publisher
	gcsClient *storage.Client
	closeOnce sync.Once
}

// New wires every component from cfg. It fails fast when a configured
// backend cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, IDs: uuid.NewUUIDGenerator()}
	logger.Info("initializing application services")

	limiter := ratelimit.New(ratelimit.Config{
		PerHostRPS: cfg.RateLimit.PerHostRPS,
		Burst:      cfg.RateLimit.Burst,
		MaxHosts:   cfg.RateLimit.MaxHosts,
	})
	rt := transport.Instrument(transport.New(transport.Config{
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	}))

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Resolver.UserAgent,
		Timeout:     cfg.RequestTimeout(),
		MaxBodySize: cfg.Resolver.MaxIconBytes,
		Transport:   rt,
		Limiter:     limiter,
	})
	streamer := stream.New(stream.Config{
		UserAgent: cfg.Resolver.UserAgent,
		Transport: rt,
		Limiter:   limiter,
	})
	manifestUA := cfg.Resolver.ManifestUserAgent
	if manifestUA == "" {
		manifestUA = manifest.DefaultUserAgent
	}
	manifests := manifest.New(fetcher, manifestUA, logger.Named("manifest"))

	opts := []resolver.Option{
		resolver.WithLogger(logger.Named("resolver")),
		resolver.WithHostPolicy(blocklist.New(cfg.Resolver.BlockedHosts)),
	}
	if cfg.Headless.Enabled {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Resolver.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless renderer init failed; continuing without it", zap.Error(err))
		} else {
			a.renderer = renderer
			opts = append(opts, resolver.WithHeadless(renderer, detector.NewHeuristic(cfg.Headless.HeadLengthThreshold)))
		}
	}
	a.Resolver = resolver.New(resolver.Config{
		Timeout:      cfg.RequestTimeout(),
		MaxHeadBytes: cfg.Resolver.MaxHeadBytes,
		ShortCircuit: cfg.Resolver.ShortCircuit,
	}, fetcher, streamer, manifests, opts...)

	store, err := a.buildStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	gwOpts := []gateway.Option{
		gateway.WithClock(system.New()),
		gateway.WithLogger(logger.Named("gateway")),
	}
	if cfg.DB.DSN != "" {
		lookups, err := postgres.NewLookupStore(ctx, postgres.LookupStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize lookup log: %w", err)
		}
		a.Lookups = lookups
		if err := lookups.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ensure lookup schema: %w", err)
		}
		gwOpts = append(gwOpts, gateway.WithLookupLog(lookups, a.IDs))
		logger.Info("lookup log enabled", zap.String("table", cfg.DB.Table))
	}

	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	gwOpts = append(gwOpts, gateway.WithPublisher(publisher))

	a.Gateway = gateway.New(gateway.Config{
		TTL:        cfg.CacheTTL(),
		EventTopic: cfg.PubSub.TopicName,
	}, store, a.Resolver, fetcher, gwOpts...)

	logger.Info("application services initialized", zap.String("cache_backend", cfg.Cache.Backend))
	return a, nil
}

func (a *App) buildStore(ctx context.Context) (cache.Store, error) {
	cfg := a.Config.Cache
	switch cfg.Backend {
	case config.CacheLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Dir, Prefix: cfg.Prefix}, sha256.New())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local cache: %w", err)
		}
		return store, nil
	case config.CacheGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.gcsClient = client
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix}, sha256.New())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gcs cache: %w", err)
		}
		return store, nil
	case config.CacheMemory, "":
		return memory.New(cfg.MaxEntries), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context) (favicon.Publisher, error) {
	cfg := a.Config.PubSub
	if cfg.TopicName == "" {
		a.Recent = memorypublisher.New(recentEvents)
		return a.Recent, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	a.publisher = pubsubpublisher.New(client, cfg.TopicName)
	a.Logger.Info("publishing lookup events", zap.String("topic", cfg.TopicName))
	return a.publisher, nil
}

// Close drains pending cache writes and shuts down every service. Call it
// after the HTTP server has stopped.
func (a *App) Close() {
	a.Shutdown(context.Background())
}

// Shutdown is Close bounded by ctx. Only the first call has an effect.
func (a *App) Shutdown(ctx context.Context) {
	a.closeOnce.Do(func() { a.shutdown(ctx) })
}

func (a *App) shutdown(ctx context.Context) {
	a.Logger.Info("shutting down application services")
	if a.Gateway != nil {
		if err := a.Gateway.Close(ctx); err != nil {
			a.Logger.Warn("pending cache writes abandoned", zap.Error(err))
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.Logger.Warn("error closing pubsub publisher", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("error closing storage client", zap.Error(err))
		}
	}
	if a.Lookups != nil {
		a.Lookups.Close()
	}
}
