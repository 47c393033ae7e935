package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ecodex/offline/internal/logging"
)

// preloadConcurrency bounds parallel fetches during Preload.
const preloadConcurrency = 4

// DefaultMaxEntrySize is the largest body stored when no limit is configured.
const DefaultMaxEntrySize int64 = 10 << 20

// Cache exposes the two current generations over a Store.
type Cache struct {
	store        Store
	static       string
	dynamic      string
	maxEntrySize int64
	now          func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntrySize sets the largest response body stored. Larger bodies pass
// through uncached. Zero or less disables the limit.
func WithMaxEntrySize(n int64) Option {
	return func(c *Cache) { c.maxEntrySize = n }
}

// New creates a Cache whose current generations are static and dynamic.
func New(store Store, static, dynamic string, opts ...Option) *Cache {
	c := &Cache{
		store:        store,
		static:       static,
		dynamic:      dynamic,
		maxEntrySize: DefaultMaxEntrySize,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StaticGeneration returns the name of the static generation.
func (c *Cache) StaticGeneration() string { return c.static }

// DynamicGeneration returns the name of the dynamic generation.
func (c *Cache) DynamicGeneration() string { return c.dynamic }

// Store returns the underlying store.
func (c *Cache) Store() Store { return c.store }

// Lookup returns the entry stored under key in generation. Store errors are
// logged and treated as a miss.
func (c *Cache) Lookup(ctx context.Context, generation, key string) (*Entry, bool) {
	e, err := c.store.Get(ctx, generation, key)
	if err != nil {
		logging.Warn("Cache lookup failed", map[string]interface{}{
			"generation": generation,
			"key":        key,
			"error":      err.Error(),
		})
		return nil, false
	}
	if e == nil {
		return nil, false
	}
	e.Generation = generation
	return e, true
}

// MatchStatic looks req up in the static generation.
func (c *Cache) MatchStatic(req *http.Request) (*Entry, bool) {
	return c.Lookup(req.Context(), c.static, KeyFor(req))
}

// MatchDynamic looks req up in the dynamic generation.
func (c *Cache) MatchDynamic(req *http.Request) (*Entry, bool) {
	return c.Lookup(req.Context(), c.dynamic, KeyFor(req))
}

// Match looks req up in every current generation, static first.
func (c *Cache) Match(req *http.Request) (*Entry, bool) {
	if e, ok := c.MatchStatic(req); ok {
		return e, true
	}
	return c.MatchDynamic(req)
}

// PutStatic stores a cacheable response in the static generation.
func (c *Cache) PutStatic(req *http.Request, resp *http.Response) error {
	return c.put(req, resp, c.static)
}

// PutDynamic stores a cacheable response in the dynamic generation.
func (c *Cache) PutDynamic(req *http.Request, resp *http.Response) error {
	return c.put(req, resp, c.dynamic)
}

func (c *Cache) put(req *http.Request, resp *http.Response, generation string) error {
	e, err := Snapshot(req, resp, c.maxEntrySize)
	if err != nil {
		return err
	}
	e.StoredAt = c.now()
	return c.store.Put(req.Context(), generation, e)
}

// Fetcher performs the network requests for Preload.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Preload fetches every URL into the static generation concurrently. Each
// success is stored even when others fail; the first failure is returned.
func (c *Cache) Preload(ctx context.Context, fetcher Fetcher, urls []string) error {
	var g errgroup.Group
	g.SetLimit(preloadConcurrency)

	for _, u := range urls {
		u := u
		g.Go(func() error {
			if err := c.preloadOne(ctx, fetcher, u); err != nil {
				logging.Warn("Failed to preload static resource", map[string]interface{}{
					"url":   u,
					"error": err.Error(),
				})
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logging.Info("Static generation preloaded", map[string]interface{}{
		"generation": c.static,
		"count":      len(urls),
	})
	return nil
}

func (c *Cache) preloadOne(ctx context.Context, fetcher Fetcher, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := fetcher.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if err := c.PutStatic(req, resp); err != nil {
		if errors.Is(err, ErrTooLarge) {
			return fmt.Errorf("store %s: %w", url, err)
		}
		if errors.Is(err, ErrNotCacheable) {
			return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
		}
		return fmt.Errorf("store %s: %w", url, err)
	}
	return nil
}

// EvictGenerationsExcept deletes every stored generation not in keep and
// returns the names it removed.
func (c *Cache) EvictGenerationsExcept(ctx context.Context, keep []string) ([]string, error) {
	names, err := c.store.Generations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}

	retain := make(map[string]bool, len(keep))
	for _, name := range keep {
		retain[name] = true
	}

	var evicted []string
	for _, name := range names {
		if retain[name] {
			continue
		}
		if err := c.store.DeleteGeneration(ctx, name); err != nil {
			return evicted, fmt.Errorf("delete generation %s: %w", name, err)
		}
		logging.Info("Evicted cache generation", map[string]interface{}{"generation": name})
		evicted = append(evicted, name)
	}
	return evicted, nil
}

// EvictStale keeps only the two current generations.
func (c *Cache) EvictStale(ctx context.Context) ([]string, error) {
	return c.EvictGenerationsExcept(ctx, []string{c.static, c.dynamic})
}

// Generations lists stored generation names.
func (c *Cache) Generations(ctx context.Context) ([]string, error) {
	return c.store.Generations(ctx)
}
