package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
)

const (
	staticV1  = "ecodex-static-v1"
	dynamicV1 = "ecodex-dynamic-v1"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func okResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("bolt", func(t *testing.T) {
		s, err := OpenBolt(filepath.Join(t.TempDir(), BoltFileName))
		if err != nil {
			t.Fatalf("OpenBolt() error = %v", err)
		}
		defer s.Close()
		fn(t, s)
	})
}

func TestCache_PutAndMatch(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		c := New(s, staticV1, dynamicV1)
		req := httptest.NewRequest(http.MethodGet, "http://example.com/api/ecodex", nil)

		if _, ok := c.Match(req); ok {
			t.Fatal("Match() hit on empty cache")
		}

		if err := c.PutDynamic(req, okResponse("entries")); err != nil {
			t.Fatalf("PutDynamic() error = %v", err)
		}

		if _, ok := c.MatchStatic(req); ok {
			t.Error("dynamic entry visible in static generation")
		}
		e, ok := c.MatchDynamic(req)
		if !ok {
			t.Fatal("MatchDynamic() missed")
		}
		if string(e.Body) != "entries" || e.Generation != dynamicV1 {
			t.Errorf("entry = %+v", e)
		}
		if e.StoredAt.IsZero() {
			t.Error("StoredAt not set")
		}
		if _, ok := c.Match(req); !ok {
			t.Error("Match() should search the dynamic generation")
		}
	})
}

func TestCache_MatchPrefersStatic(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		c := New(s, staticV1, dynamicV1)
		req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)

		c.PutDynamic(req, okResponse("dynamic"))
		c.PutStatic(req, okResponse("static"))

		e, ok := c.Match(req)
		if !ok || string(e.Body) != "static" || e.Generation != staticV1 {
			t.Errorf("Match() = %+v, %v", e, ok)
		}
	})
}

func TestCache_PutOverwrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		c := New(s, staticV1, dynamicV1)
		req := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)

		c.PutDynamic(req, okResponse("one"))
		c.PutDynamic(req, okResponse("two"))

		e, _ := c.MatchDynamic(req)
		if string(e.Body) != "two" {
			t.Errorf("body = %q, want two", e.Body)
		}
	})
}

func TestCache_NonSuccessNotStored(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		c := New(s, staticV1, dynamicV1)
		req := httptest.NewRequest(http.MethodGet, "http://example.com/missing", nil)

		resp := &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("no"))}
		if err := c.PutDynamic(req, resp); !errors.Is(err, ErrNotCacheable) {
			t.Errorf("PutDynamic() error = %v, want ErrNotCacheable", err)
		}
		if _, ok := c.MatchDynamic(req); ok {
			t.Error("404 was cached")
		}
	})
}

func TestCache_EvictGenerationsExcept(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		old := New(s, "v1", "v1-dynamic")
		req := httptest.NewRequest(http.MethodGet, "http://example.com/app.js", nil)
		old.PutStatic(req, okResponse("old"))
		old.PutDynamic(req, okResponse("old"))

		current := New(s, "v2", "v2-dynamic")
		current.PutStatic(req, okResponse("new"))

		evicted, err := current.EvictGenerationsExcept(ctx, []string{"v2"})
		if err != nil {
			t.Fatalf("EvictGenerationsExcept() error = %v", err)
		}
		if len(evicted) != 2 {
			t.Errorf("evicted = %v, want v1 and v1-dynamic", evicted)
		}

		if _, ok := old.MatchStatic(req); ok {
			t.Error("v1 static entry survived eviction")
		}
		if _, ok := old.MatchDynamic(req); ok {
			t.Error("v1 dynamic entry survived eviction")
		}
		if _, ok := current.MatchStatic(req); !ok {
			t.Error("kept generation was evicted")
		}

		names, _ := current.Generations(ctx)
		if len(names) != 1 || names[0] != "v2" {
			t.Errorf("Generations() = %v", names)
		}
	})
}

func TestCache_EvictStale(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
		New(s, "ecodex-v0", "x").PutStatic(req, okResponse("legacy"))

		c := New(s, staticV1, dynamicV1)
		c.PutStatic(req, okResponse("s"))
		c.PutDynamic(req, okResponse("d"))

		evicted, err := c.EvictStale(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(evicted) != 1 || evicted[0] != "ecodex-v0" {
			t.Errorf("evicted = %v", evicted)
		}
	})
}

func TestCache_Preload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.css" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, "content of %s", r.URL.Path)
	}))
	defer srv.Close()

	forEachStore(t, func(t *testing.T, s Store) {
		c := New(s, staticV1, dynamicV1)
		ctx := context.Background()

		urls := []string{srv.URL + "/", srv.URL + "/manifest.json"}
		if err := c.Preload(ctx, srv.Client(), urls); err != nil {
			t.Fatalf("Preload() error = %v", err)
		}
		keys, _ := s.Keys(ctx, staticV1)
		if len(keys) != 2 {
			t.Errorf("static keys = %v", keys)
		}

		root := httptest.NewRequest(http.MethodGet, srv.URL+"/", nil)
		e, ok := c.MatchStatic(root)
		if !ok || string(e.Body) != "content of /" {
			t.Errorf("preloaded root = %+v, %v", e, ok)
		}
	})
}

func TestCache_PreloadPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.css" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(NewMemoryStore(), staticV1, dynamicV1)
	urls := []string{srv.URL + "/", srv.URL + "/broken.css", srv.URL + "/logo192.png"}

	if err := c.Preload(context.Background(), srv.Client(), urls); err == nil {
		t.Fatal("Preload() should report the failed URL")
	}

	for _, u := range []string{srv.URL + "/", srv.URL + "/logo192.png"} {
		if _, ok := c.MatchStatic(httptest.NewRequest(http.MethodGet, u, nil)); !ok {
			t.Errorf("%s not cached after partial failure", u)
		}
	}
	if _, ok := c.MatchStatic(httptest.NewRequest(http.MethodGet, srv.URL+"/broken.css", nil)); ok {
		t.Error("failed URL was cached")
	}
}

func TestBoltStore_Persistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), BoltFileName)
	ctx := context.Background()

	s, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	e := &Entry{Key: "GET http://example.com/", Status: 200, Header: http.Header{"X-A": {"1"}}, Body: []byte("shell")}
	if err := s.Put(ctx, staticV1, e); err != nil {
		t.Fatal(err)
	}
	s.Close()

	reopened, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, staticV1, e.Key)
	if err != nil || got == nil {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if string(got.Body) != "shell" || got.Header.Get("X-A") != "1" {
		t.Errorf("entry = %+v", got)
	}
}

func TestBoltStore_EmptyPath(t *testing.T) {
	if _, err := OpenBolt("  "); err == nil {
		t.Error("OpenBolt() should reject an empty path")
	}
}

func TestStore_DeleteMissingGeneration(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		if err := s.DeleteGeneration(context.Background(), "nope"); err != nil {
			t.Errorf("DeleteGeneration() error = %v", err)
		}
	})
}
