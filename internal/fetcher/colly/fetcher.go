// Package collyfetcher implements favicon.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/favicon-edge/internal/favicon"
)

const defaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
	Transport   http.RoundTripper
	Limiter     favicon.Limiter
}

// Fetcher implements favicon.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. The transport and timeout live on the shared
// backend, so they are applied once here and never on clones.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.Transport != nil {
		c.WithTransport(cfg.Transport)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.SetRequestTimeout(timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HEAD or GET and buffers the response body.
// Responses outside 2xx are reported as *favicon.FetchError carrying the status.
func (f *Fetcher) Fetch(ctx context.Context, request favicon.FetchRequest) (favicon.FetchResponse, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, request.URL); err != nil {
			return favicon.FetchResponse{}, &favicon.FetchError{Method: method, URL: request.URL, Err: err}
		}
	}

	var (
		result   favicon.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, method, request, &fetchErr); err != nil {
		return favicon.FetchResponse{}, &favicon.FetchError{
			Method:     method,
			URL:        request.URL,
			StatusCode: result.StatusCode,
			Err:        err,
		}
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return result, &favicon.FetchError{
			Method:     method,
			URL:        request.URL,
			StatusCode: result.StatusCode,
		}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	start time.Time,
	result *favicon.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *favicon.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if r.Headers.Get("Accept") == "" {
			r.Headers.Set("Accept", "*/*")
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = favicon.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	method string,
	request favicon.FetchRequest,
	fetchErr *error,
) error {
	// The collector context cancels the in-flight request, so Request
	// returns promptly once ctx is done.
	err := collector.Request(method, request.URL, nil, nil, requestHeaders(request, f.baseCollector.UserAgent))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("colly fetch canceled: %w", ctxErr)
	}
	if err != nil {
		return fmt.Errorf("colly %s failed: %w", method, err)
	}
	if *fetchErr != nil {
		return fmt.Errorf("colly response failed: %w", *fetchErr)
	}
	return nil
}

// requestHeaders copies caller headers, replacing rather than appending, and
// falls back to the collector user agent.
func requestHeaders(request favicon.FetchRequest, userAgent string) http.Header {
	hdr := http.Header{}
	for key, values := range request.Headers {
		hdr.Del(key)
		for _, v := range values {
			hdr.Add(key, v)
		}
	}
	if hdr.Get("User-Agent") == "" && userAgent != "" {
		hdr.Set("User-Agent", userAgent)
	}
	return hdr
}
