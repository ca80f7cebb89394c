package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/favicon-edge/internal/cache"
	"github.com/JakeFAU/favicon-edge/internal/config"
	"github.com/JakeFAU/favicon-edge/internal/favicon"
	"github.com/JakeFAU/favicon-edge/internal/gateway"
	"github.com/JakeFAU/favicon-edge/internal/metrics"
	memorypublisher "github.com/JakeFAU/favicon-edge/internal/publisher/memory"
)

const (
	headerCache     = "X-Cache"
	headerRequestID = "X-Request-ID"
	requestTimeout  = 60 * time.Second
)

// Gateway serves icons through the edge cache.
type Gateway interface {
	Serve(ctx context.Context, method, requestURL, target string) (cache.Entry, gateway.Outcome, error)
}

// Pinger reports whether a downstream dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option customizes a Server.
type Option func(*Server)

// WithAssets serves static front-end files for unmatched GET requests.
func WithAssets(assets AssetStore) Option {
	return func(s *Server) {
		s.assets = assets
	}
}

// WithReadiness adds a dependency checked by /readyz.
func WithReadiness(name string, pinger Pinger) Option {
	return func(s *Server) {
		if pinger != nil {
			s.checks[name] = pinger
		}
	}
}

// WithIDGenerator sets the request ID source.
func WithIDGenerator(ids RequestIDs) Option {
	return func(s *Server) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// RecentLookups exposes the latest resolution events kept in memory.
type RecentLookups interface {
	Messages() []memorypublisher.PublishedMessage
}

// WithRecentLookups serves GET /api/recent from recent.
func WithRecentLookups(recent RecentLookups) Option {
	return func(s *Server) {
		s.recent = recent
	}
}

// RequestIDs produces request identifiers.
type RequestIDs interface {
	MustNewID() string
}

// Server wires HTTP handlers to the gateway.
type Server struct {
	router  chi.Router
	gateway Gateway
	assets  AssetStore
	recent  RecentLookups
	checks  map[string]Pinger
	ids     RequestIDs
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(gw Gateway, cfg config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		gateway: gw,
		checks:  map[string]Pinger{},
		ids:     defaultIDs{},
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(s.ids))
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/api/favicon", s.getFavicon)
		if s.recent != nil {
			r.Get("/api/recent", s.getRecent)
		}
	})

	if s.assets != nil {
		r.With(securityHeadersMiddleware).Get("/*", s.serveAsset)
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := check.Ping(ctx); err != nil {
			failures[name] = err.Error()
		}
		cancel()
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failures}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

func (s *Server) getFavicon(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter", s.logger)
		return
	}

	entry, outcome, err := s.gateway.Serve(r.Context(), r.Method, requestURL(r), target)
	if err != nil {
		status, msg := errorStatus(err)
		s.logger.Info("favicon lookup failed",
			zap.String("url", target),
			zap.Int("status", status),
			zap.Error(err),
		)
		writeError(w, status, msg, s.logger)
		return
	}

	contentType := entry.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(entry.Body)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(entry.Body)))
	if outcome == gateway.OutcomeHit {
		w.Header().Set(headerCache, "HIT")
	} else {
		w.Header().Set(headerCache, "MISS")
	}
	w.WriteHeader(entry.StatusCode)
	if _, err := w.Write(entry.Body); err != nil {
		s.logger.Warn("write icon failed", zap.Error(err))
	}
}

func (s *Server) getRecent(w http.ResponseWriter, _ *http.Request) {
	messages := s.recent.Messages()
	lookups := make([]any, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		lookups = append(lookups, messages[i].Payload)
	}
	writeJSON(w, http.StatusOK, map[string]any{"lookups": lookups}, s.logger)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, favicon.ErrInvalidURL):
		return http.StatusBadRequest, "invalid url"
	case errors.Is(err, favicon.ErrHostBlocked):
		return http.StatusForbidden, "host not allowed"
	case errors.Is(err, favicon.ErrNoIconFound):
		return http.StatusNotFound, "no icon found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream timed out"
	default:
		return http.StatusBadGateway, "icon fetch failed"
	}
}

// requestURL rebuilds the absolute incoming URL used as the cache key.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}
