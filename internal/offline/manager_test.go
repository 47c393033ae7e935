package offline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ecodex/offline/internal/cache"
	"github.com/ecodex/offline/internal/config"
	"github.com/ecodex/offline/internal/connectivity"
	apperrors "github.com/ecodex/offline/internal/errors"
	"github.com/ecodex/offline/internal/models"
	"github.com/ecodex/offline/internal/notify"
	offsync "github.com/ecodex/offline/internal/sync"
)

const origin = "http://origin.test"

// network is a fake origin. While down every request fails.
type network struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (n *network) RoundTrip(req *http.Request) (*http.Response, error) {
	n.calls.Add(1)
	if n.down.Load() {
		return nil, errors.New("dial tcp: network is unreachable")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader("body of " + req.URL.Path)),
		Request:    req,
	}, nil
}

type recordingSubmitter struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingSubmitter) Submit(_ context.Context, op *models.PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, op.ID)
	return nil
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

type grantedPlatform struct {
	mu    sync.Mutex
	shown []notify.Notification
}

func (p *grantedPlatform) Permission() notify.Permission { return notify.PermissionGranted }

func (p *grantedPlatform) RequestPermission(context.Context) (notify.Permission, error) {
	return notify.PermissionGranted, nil
}

func (p *grantedPlatform) Show(_ context.Context, n notify.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, n)
	return nil
}

func (p *grantedPlatform) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.shown)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Origin = origin
	cfg.StoreBackend = config.BackendMemory
	cfg.CacheBackend = config.BackendMemory
	cfg.StaticManifest = []string{"/", "/static/js/bundle.js"}
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestManager(t *testing.T, cfg *config.Config, deps Deps) *Manager {
	t.Helper()
	m, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Origin = "not a url"

	if _, err := New(cfg, Deps{}); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("New() error = %v, want INVALID_INPUT", err)
	}
}

func TestInitialize_PreloadsAndEvicts(t *testing.T) {
	ctx := context.Background()
	net := &network{}
	store := cache.NewMemoryStore()
	stale := &cache.Entry{Key: cache.Key(http.MethodGet, origin+"/old.js"), Status: 200}
	if err := store.Put(ctx, "ecodex-static-v0.9.0", stale); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, testConfig(), Deps{CacheStore: store, Network: net})
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	gens, _ := m.Cache().Generations(ctx)
	if len(gens) != 1 || gens[0] != m.Cache().StaticGeneration() {
		t.Errorf("Generations() = %v, want only %s", gens, m.Cache().StaticGeneration())
	}
	keys, _ := store.Keys(ctx, m.Cache().StaticGeneration())
	if len(keys) != 2 {
		t.Errorf("static keys = %v, want 2", keys)
	}

	calls := net.calls.Load()
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if net.calls.Load() != calls {
		t.Error("second Initialize() fetched again")
	}
	if m.Degraded() {
		t.Error("Degraded() = true with working store")
	}
}

func TestInitialize_PreloadFailureIsNotFatal(t *testing.T) {
	net := &network{}
	net.down.Store(true)

	m := newTestManager(t, testConfig(), Deps{Network: net})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
}

func TestInitialize_DegradedWithoutStorage(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.StoreBackend = config.BackendSQLite
	cfg.DataDir = filepath.Join(blocker, "data")

	m := newTestManager(t, cfg, Deps{Network: &network{}})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !m.Degraded() {
		t.Fatal("Degraded() = false with unusable data dir")
	}

	_, err := m.Enqueue(context.Background(), json.RawMessage(`{"species":"heron"}`))
	if !apperrors.Is(err, apperrors.ErrStorageUnavailable) {
		t.Errorf("Enqueue() error = %v, want STORAGE_UNAVAILABLE", err)
	}
	if st := m.Status(context.Background()); st.Pending != 0 || !st.Degraded {
		t.Errorf("Status() = %+v", st)
	}
}

func TestEnqueue_OfflineThenReconnect(t *testing.T) {
	ctx := context.Background()
	net := &network{}
	net.down.Store(true)
	monitor := connectivity.NewMonitor(false)
	sub := &recordingSubmitter{}

	m := newTestManager(t, testConfig(), Deps{Network: net, Monitor: monitor, Submitter: sub})
	if err := m.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{`{"n":1}`, `{"n":2}`} {
		if _, err := m.Enqueue(ctx, json.RawMessage(p)); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if sub.count() != 0 {
		t.Fatal("submitted while offline")
	}
	if st := m.Status(ctx); st.Pending != 2 || st.Online {
		t.Fatalf("Status() = %+v", st)
	}

	net.down.Store(false)
	monitor.SetOnline(true)

	waitFor(t, func() bool { return sub.count() == 2 })
	waitFor(t, func() bool { return !m.Coordinator().IsDraining() })

	pending, err := m.Store().ListPendingOperations(ctx)
	if err != nil || len(pending) != 0 {
		t.Errorf("pending after reconnect = %d, %v", len(pending), err)
	}
}

func TestEnqueue_OnlineTriggersDrain(t *testing.T) {
	ctx := context.Background()
	sub := &recordingSubmitter{}
	m := newTestManager(t, testConfig(), Deps{Network: &network{}, Submitter: sub})
	if err := m.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Enqueue(ctx, json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return sub.count() == 1 })
}

func TestSyncEvents_FanOutAndNotification(t *testing.T) {
	ctx := context.Background()
	platform := &grantedPlatform{}
	m := newTestManager(t, testConfig(), Deps{
		Network:   &network{},
		Submitter: &recordingSubmitter{},
		Notifier:  platform,
	})
	if err := m.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var types []offsync.SyncEventType
	m.OnSyncEvent(offsync.SyncEventHandlerFunc(func(e offsync.SyncEvent) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	}))

	if _, err := m.Store().EnqueueOperation(ctx, json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatal(err)
	}
	result, err := m.Coordinator().Drain(ctx)
	if err != nil || result.Synced != 1 {
		t.Fatalf("Drain() = %+v, %v", result, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(types) == 0 || types[0] != offsync.SyncEventStarted || types[len(types)-1] != offsync.SyncEventCompleted {
		t.Errorf("events = %v", types)
	}
	if platform.count() != 1 {
		t.Errorf("notifications = %d, want 1", platform.count())
	}

	// An empty drain announces nothing.
	if _, err := m.Coordinator().Drain(ctx); err != nil {
		t.Fatal(err)
	}
	if platform.count() != 1 {
		t.Errorf("notifications after empty drain = %d", platform.count())
	}
}

func TestTransport_ServesCachedAPIResponseOffline(t *testing.T) {
	ctx := context.Background()
	net := &network{}
	m := newTestManager(t, testConfig(), Deps{Network: net})
	if err := m.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	client := m.Client()

	resp, err := client.Get(origin + "/api/ecodex/stats")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	net.down.Store(true)
	resp, err = client.Get(origin + "/api/ecodex/stats")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK || string(body) != "body of /api/ecodex/stats" {
		t.Errorf("offline response = %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get(cache.SourceHeader); got != m.Cache().DynamicGeneration() {
		t.Errorf("%s = %q", cache.SourceHeader, got)
	}
}

func TestClose(t *testing.T) {
	m, err := New(testConfig(), Deps{Network: &network{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := m.Initialize(context.Background()); err == nil {
		t.Error("Initialize() after Close() succeeded")
	}
}
