// Package ratelimit throttles outbound fetches with a token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/favicon-edge/internal/metrics"
)

const defaultMaxHosts = 10000

// Config holds rate limiter configuration.
type Config struct {
	PerHostRPS float64
	Burst      int
	// MaxHosts bounds the number of tracked hosts; least recently used
	// buckets are dropped past it.
	MaxHosts int
}

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     rate.Limit
	burst    int
	maxHosts int
	now      func() time.Time
}

// New creates a new Limiter. A non-positive rate disables throttling.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.PerHostRPS)
	if cfg.PerHostRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxHosts := cfg.MaxHosts
	if maxHosts <= 0 {
		maxHosts = defaultMaxHosts
	}
	return &Limiter{
		buckets:  make(map[string]*bucket),
		rate:     r,
		burst:    burst,
		maxHosts: maxHosts,
		now:      time.Now,
	}
}

// Wait blocks until a token is available for the URL's host, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Hosts returns the number of tracked hosts.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if b, ok := l.buckets[host]; ok {
		b.lastUsed = now
		return b.limiter
	}
	if len(l.buckets) >= l.maxHosts {
		l.evictOldestLocked()
	}
	b := &bucket{limiter: rate.NewLimiter(l.rate, l.burst), lastUsed: now}
	l.buckets[host] = b
	return b.limiter
}

func (l *Limiter) evictOldestLocked() {
	var (
		oldestHost string
		oldest     time.Time
	)
	for host, b := range l.buckets {
		if oldestHost == "" || b.lastUsed.Before(oldest) {
			oldestHost, oldest = host, b.lastUsed
		}
	}
	delete(l.buckets, oldestHost)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
