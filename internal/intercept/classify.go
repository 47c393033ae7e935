// Package intercept provides an http.RoundTripper that serves requests under
// per-route caching strategies so the host keeps working offline.
package intercept

import (
	"context"
	"net/http"
	"regexp"
	"strings"
)

// Strategy is how a request is handled.
type Strategy string

const (
	// StrategyNetworkFirst tries the network, then the dynamic generation,
	// then a synthesized JSON 503.
	StrategyNetworkFirst Strategy = "network-first"

	// StrategyNavigation tries the network, then the cached shell document,
	// then a plain 503.
	StrategyNavigation Strategy = "navigation-fallback"

	// StrategyCacheFirst serves any cached match without touching the
	// network, otherwise fetches and caches.
	StrategyCacheFirst Strategy = "cache-first"
)

// DefaultAPIPattern matches API routes when none are configured.
var DefaultAPIPattern = regexp.MustCompile(`^/api/`)

type navigationKey struct{}

// WithNavigation marks requests made with ctx as top-level navigations.
func WithNavigation(ctx context.Context) context.Context {
	return context.WithValue(ctx, navigationKey{}, true)
}

// IsNavigation reports whether req loads the application shell: the context
// flag, a Sec-Fetch-Mode of navigate, or a GET that accepts HTML.
func IsNavigation(req *http.Request) bool {
	if v, _ := req.Context().Value(navigationKey{}).(bool); v {
		return true
	}
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	return req.Method == http.MethodGet && strings.Contains(req.Header.Get("Accept"), "text/html")
}

// Classify picks the strategy for req. The first match wins: API route,
// then navigation, then everything else.
func (i *Interceptor) Classify(req *http.Request) Strategy {
	for _, p := range i.apiPatterns {
		if p.MatchString(req.URL.Path) {
			return StrategyNetworkFirst
		}
	}
	if IsNavigation(req) {
		return StrategyNavigation
	}
	return StrategyCacheFirst
}
