package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ecodex/offline/internal/cache"
	"github.com/ecodex/offline/internal/models"
	offsync "github.com/ecodex/offline/internal/sync"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	if err != nil {
		t.Fatalf("offlinectl %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestQueue_AddAndList(t *testing.T) {
	dir := t.TempDir()

	out := mustExecute(t, "queue", "add", `{"species":"heron"}`, "--data-dir", dir)
	var op models.PendingOperation
	if err := json.Unmarshal([]byte(out), &op); err != nil {
		t.Fatalf("decode add output %q: %v", out, err)
	}

	out = mustExecute(t, "queue", "list", "--data-dir", dir)
	var ops []models.PendingOperation
	if err := json.Unmarshal([]byte(out), &ops); err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].ID != op.ID {
		t.Fatalf("list = %+v", ops)
	}
	var payload map[string]string
	if err := json.Unmarshal(ops[0].Payload, &payload); err != nil || payload["species"] != "heron" {
		t.Errorf("payload = %s", ops[0].Payload)
	}
}

func TestQueue_AddInvalidJSON(t *testing.T) {
	if _, err := execute(t, "queue", "add", `{nope`, "--data-dir", t.TempDir()); err == nil {
		t.Error("invalid payload accepted")
	}
}

func TestSync_DrainsAgainstOriginThenPurge(t *testing.T) {
	var received atomic.Int32
	var idempotencyKey, authToken atomic.Value
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/ecodex" {
			http.NotFound(w, r)
			return
		}
		idempotencyKey.Store(r.Header.Get(offsync.IdempotencyKeyHeader))
		authToken.Store(r.Header.Get(offsync.DefaultTokenHeader))
		received.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer origin.Close()
	t.Setenv("OFFLINE_ORIGIN", origin.URL)

	dir := t.TempDir()
	mustExecute(t, "token", "set", "tok-abc", "--data-dir", dir)
	mustExecute(t, "queue", "add", `{"n":1}`, "--data-dir", dir)

	out := mustExecute(t, "sync", "--data-dir", dir)
	var result offsync.DrainResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if result.Synced != 1 || received.Load() != 1 {
		t.Fatalf("result = %+v, received = %d", result, received.Load())
	}
	if key, _ := idempotencyKey.Load().(string); !strings.HasPrefix(key, "offline_") {
		t.Errorf("Idempotency-Key = %q", key)
	}
	if tok, _ := authToken.Load().(string); tok != "tok-abc" {
		t.Errorf("auth token = %q, want stored token", tok)
	}

	if out := mustExecute(t, "queue", "list", "--data-dir", dir); strings.TrimSpace(out) != "[]" {
		t.Errorf("pending after sync = %s", out)
	}

	out = mustExecute(t, "queue", "purge", "--before=-1h", "--data-dir", dir)
	var purged map[string]interface{}
	if err := json.Unmarshal([]byte(out), &purged); err != nil {
		t.Fatal(err)
	}
	if purged["purged"] != float64(1) {
		t.Errorf("purge = %v", purged)
	}
}

func TestEntities_ListEmpty(t *testing.T) {
	out := mustExecute(t, "entities", "list", "--data-dir", t.TempDir())
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("entities = %q", out)
	}
}

func TestCache_GenerationsAndEvict(t *testing.T) {
	dir := t.TempDir()
	store, err := cache.OpenBolt(filepath.Join(dir, cache.BoltFileName))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	entry := &cache.Entry{Key: "GET http://origin.test/", Status: 200, Body: []byte("shell")}
	if err := store.Put(ctx, "ecodex-static-v0.9.0", entry); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "ecodex-static-v1.0.0", entry); err != nil {
		t.Fatal(err)
	}
	store.Close()

	out := mustExecute(t, "cache", "generations", "--data-dir", dir)
	var gens []struct {
		Name    string `json:"name"`
		Entries int    `json:"entries"`
		Current bool   `json:"current"`
	}
	if err := json.Unmarshal([]byte(out), &gens); err != nil {
		t.Fatal(err)
	}
	if len(gens) != 2 || gens[0].Current || !gens[1].Current || gens[1].Entries != 1 {
		t.Errorf("generations = %+v", gens)
	}

	out = mustExecute(t, "cache", "evict", "--data-dir", dir)
	if !strings.Contains(out, "ecodex-static-v0.9.0") || strings.Contains(out, "v1.0.0") {
		t.Errorf("evict output = %s", out)
	}
}

func TestParseCutoff(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2024-04-30T00:00:00Z", time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), false},
		{"24h", now.Add(-24 * time.Hour), false},
		{"1714564800000", time.UnixMilli(1714564800000), false},
		{"yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseCutoff(tt.in, now)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseCutoff(%q) error = %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseCutoff(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestToken_SetShowClear(t *testing.T) {
	dir := t.TempDir()

	if out := mustExecute(t, "token", "show", "--data-dir", dir); !strings.Contains(out, "no token") {
		t.Errorf("show before set = %q", out)
	}
	mustExecute(t, "token", "set", "abcdef123", "--data-dir", dir)
	if out := strings.TrimSpace(mustExecute(t, "token", "show", "--data-dir", dir)); out != "*****f123" {
		t.Errorf("show = %q", out)
	}
	mustExecute(t, "token", "clear", "--data-dir", dir)
	if out := mustExecute(t, "token", "show", "--data-dir", dir); !strings.Contains(out, "no token") {
		t.Errorf("show after clear = %q", out)
	}
}

func TestVersion(t *testing.T) {
	out := mustExecute(t, "version")
	if !strings.Contains(out, Version) {
		t.Errorf("version output = %q", out)
	}
}
