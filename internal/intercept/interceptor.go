package intercept

import (
	"errors"
	"net/http"
	"regexp"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecodex/offline/internal/cache"
	apperrors "github.com/ecodex/offline/internal/errors"
	"github.com/ecodex/offline/internal/logging"
	"github.com/ecodex/offline/internal/telemetry"
)

// WriteOutcome describes what happened to a cache write.
type WriteOutcome string

const (
	WriteStored  WriteOutcome = "stored"
	WriteSkipped WriteOutcome = "skipped" // non-2xx, partial, ranged or oversized
	WriteFailed  WriteOutcome = "failed"
)

// CacheWrite is the observable result of a best-effort cache write. It is
// never turned into a request failure.
type CacheWrite struct {
	Strategy   Strategy
	Key        string
	Generation string
	Status     int
	Outcome    WriteOutcome
	Err        error
}

// Observer receives every CacheWrite. It runs on the request goroutine.
type Observer func(CacheWrite)

// Config holds the classification settings.
type Config struct {
	// APIPatterns are matched against the request path. Empty means
	// DefaultAPIPattern.
	APIPatterns []*regexp.Regexp

	// ShellURL is the absolute URL of the application shell served to
	// offline navigations from the static generation.
	ShellURL string
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithObserver reports cache write outcomes to fn.
func WithObserver(fn Observer) Option {
	return func(i *Interceptor) { i.observer = fn }
}

// Interceptor is an http.RoundTripper applying the offline strategies in
// front of next. RoundTrip never returns an error: transport failures turn
// into cached or synthesized responses.
type Interceptor struct {
	next        http.RoundTripper
	cache       *cache.Cache
	apiPatterns []*regexp.Regexp
	shellKey    string
	observer    Observer
	tracer      trace.Tracer
}

// New creates an Interceptor. A nil next uses http.DefaultTransport.
func New(next http.RoundTripper, c *cache.Cache, cfg Config, opts ...Option) *Interceptor {
	if next == nil {
		next = http.DefaultTransport
	}
	patterns := cfg.APIPatterns
	if len(patterns) == 0 {
		patterns = []*regexp.Regexp{DefaultAPIPattern}
	}

	i := &Interceptor{
		next:        next,
		cache:       c,
		apiPatterns: patterns,
		shellKey:    cache.Key(http.MethodGet, cfg.ShellURL),
		tracer:      telemetry.Tracer("github.com/ecodex/offline/internal/intercept"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	strategy := i.Classify(req)

	ctx, span := i.tracer.Start(req.Context(), "intercept."+string(strategy),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
			attribute.String("offline.strategy", string(strategy)),
		))
	defer span.End()
	req = req.WithContext(ctx)

	var resp *http.Response
	switch strategy {
	case StrategyNetworkFirst:
		resp = i.networkFirst(req, span)
	case StrategyNavigation:
		resp = i.navigationFallback(req, span)
	default:
		resp = i.cacheFirst(req, span)
	}

	span.SetAttributes(
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.String("offline.source", source(resp)),
	)
	return resp, nil
}

func source(resp *http.Response) string {
	if s := resp.Header.Get(cache.SourceHeader); s != "" {
		return s
	}
	return "network"
}

func (i *Interceptor) networkFirst(req *http.Request, span trace.Span) *http.Response {
	resp, err := i.next.RoundTrip(req)
	if err == nil {
		i.write(StrategyNetworkFirst, req, resp)
		return resp
	}
	i.networkFailed(span, req, err)

	if req.Method == http.MethodGet {
		if e, ok := i.cache.MatchDynamic(req); ok {
			return e.Response(req)
		}
	}
	return offlineAPIResponse(req)
}

func (i *Interceptor) navigationFallback(req *http.Request, span trace.Span) *http.Response {
	resp, err := i.next.RoundTrip(req)
	if err == nil {
		return resp
	}
	i.networkFailed(span, req, err)

	if e, ok := i.cache.Lookup(req.Context(), i.cache.StaticGeneration(), i.shellKey); ok {
		return e.Response(req)
	}
	return offlinePlaceholder(req)
}

func (i *Interceptor) cacheFirst(req *http.Request, span trace.Span) *http.Response {
	if req.Method == http.MethodGet {
		if e, ok := i.cache.Match(req); ok {
			if req.Body != nil {
				req.Body.Close()
			}
			return e.Response(req)
		}
	}

	resp, err := i.next.RoundTrip(req)
	if err == nil {
		i.write(StrategyCacheFirst, req, resp)
		return resp
	}
	i.networkFailed(span, req, err)

	return offlinePlaceholder(req)
}

func (i *Interceptor) networkFailed(span trace.Span, req *http.Request, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "network unavailable")
	logging.Debug("Network request failed, falling back", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
		"error":  err.Error(),
	})
}

// write stores a GET response into the dynamic generation. Ranged requests
// are never stored. Failures are logged and reported, never returned; a body
// read error still reaches the caller through resp.Body.
func (i *Interceptor) write(strategy Strategy, req *http.Request, resp *http.Response) {
	if req.Method != http.MethodGet {
		return
	}

	result := CacheWrite{
		Strategy:   strategy,
		Key:        cache.KeyFor(req),
		Generation: i.cache.DynamicGeneration(),
		Status:     resp.StatusCode,
		Outcome:    WriteStored,
	}

	if err := i.cache.PutDynamic(req, resp); err != nil {
		if errors.Is(err, cache.ErrNotCacheable) {
			result.Outcome = WriteSkipped
		} else {
			result.Outcome = WriteFailed
			result.Err = apperrors.Wrap(apperrors.ErrCacheWriteFailed, "store response", err)
			logging.Warn("Cache write failed", map[string]interface{}{
				"key":   result.Key,
				"error": err.Error(),
			})
		}
	}

	if i.observer != nil {
		i.observer(result)
	}
}
