// Package offline wires the offline engine together: durable store,
// response cache, interception transport, connectivity, synchronization,
// install lifecycle and notifications. A Manager is built once in main and
// passed to whatever needs it.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/ecodex/offline/internal/cache"
	"github.com/ecodex/offline/internal/config"
	"github.com/ecodex/offline/internal/connectivity"
	"github.com/ecodex/offline/internal/db"
	apperrors "github.com/ecodex/offline/internal/errors"
	"github.com/ecodex/offline/internal/install"
	"github.com/ecodex/offline/internal/intercept"
	"github.com/ecodex/offline/internal/logging"
	"github.com/ecodex/offline/internal/models"
	"github.com/ecodex/offline/internal/notify"
	offsync "github.com/ecodex/offline/internal/sync"
	"github.com/ecodex/offline/internal/sync/queue"
)

// Store is the durable store contract shared by the sqlite store and the
// in-memory queue.
type Store interface {
	offsync.Store
	Initialize(ctx context.Context) error
	Close() error
	EnqueueOperation(ctx context.Context, payload json.RawMessage) (*models.PendingOperation, error)
	ListOperations(ctx context.Context) ([]*models.PendingOperation, error)
	GetOperation(ctx context.Context, id string) (*models.PendingOperation, error)
	PurgeSynced(ctx context.Context, before time.Time) (int64, error)
	CacheEntity(ctx context.Context, entity *models.CachedEntity) error
	ListCachedEntities(ctx context.Context) ([]*models.CachedEntity, error)
}

// Deps carries optional collaborators. Zero fields are built from Config.
type Deps struct {
	Store      Store
	CacheStore cache.Store
	Submitter  offsync.Submitter
	Token      offsync.TokenSource // used by the default submitter
	Network    http.RoundTripper   // transport below the interceptor
	Monitor    *connectivity.Monitor
	Notifier   notify.Platform // nil disables notifications
	Observer   intercept.Observer
}

// Manager owns every engine component for the lifetime of the process.
type Manager struct {
	cfg *config.Config

	store       Store
	cacheStore  cache.Store
	cache       *cache.Cache
	network     http.RoundTripper
	transport   *intercept.Interceptor
	monitor     *connectivity.Monitor
	coordinator *offsync.Coordinator
	install     *install.Manager
	notifier    *notify.Manager

	mu          sync.Mutex
	initialized bool
	degraded    bool
	closed      bool

	handlersMu sync.RWMutex
	handlers   []offsync.SyncEventHandler
}

// New builds a Manager. Nothing touches disk or network until Initialize,
// except opening the bbolt response cache.
func New(cfg *config.Config, deps Deps) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid configuration", err)
	}
	patterns, _ := cfg.CompiledAPIPatterns()

	m := &Manager{
		cfg:        cfg,
		store:      deps.Store,
		cacheStore: deps.CacheStore,
		network:    deps.Network,
		monitor:    deps.Monitor,
	}

	if m.store == nil {
		m.store = newStore(cfg)
	}
	if m.cacheStore == nil {
		m.cacheStore = newCacheStore(cfg)
	}
	if m.network == nil {
		m.network = http.DefaultTransport
	}
	if m.monitor == nil {
		m.monitor = connectivity.NewMonitor(true)
	}

	m.cache = cache.New(m.cacheStore, cfg.StaticGeneration(), cfg.DynamicGeneration(),
		cache.WithMaxEntrySize(cfg.CacheMaxEntryBytes))

	var opts []intercept.Option
	if deps.Observer != nil {
		opts = append(opts, intercept.WithObserver(deps.Observer))
	}
	m.transport = intercept.New(m.network, m.cache, intercept.Config{
		APIPatterns: patterns,
		ShellURL:    cfg.ResolveURL(cfg.ShellPath),
	}, opts...)

	submitter := deps.Submitter
	if submitter == nil {
		var opts []offsync.SubmitterOption
		if deps.Token != nil {
			opts = append(opts, offsync.WithToken(offsync.DefaultTokenHeader, deps.Token))
		}
		submitter = offsync.NewHTTPSubmitter(&http.Client{Transport: m.network}, cfg.ResolveURL(cfg.SubmitPath), opts...)
	}
	coordCfg := offsync.DefaultConfig()
	coordCfg.SyncInterval = cfg.SyncInterval
	coordCfg.Retry = offsync.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}
	m.coordinator = offsync.NewCoordinator(m.store, submitter, m.monitor, coordCfg)
	m.coordinator.SetEventHandler(offsync.SyncEventHandlerFunc(m.dispatch))

	m.install = install.NewManager(cfg.Standalone)
	m.notifier = notify.NewManager(deps.Notifier)

	return m, nil
}

func newStore(cfg *config.Config) Store {
	if cfg.StoreBackend == config.BackendMemory {
		return queue.NewMemoryStore(0)
	}
	return db.NewStore(cfg.DataDir)
}

// newCacheStore opens the bbolt response cache, falling back to memory
// when the file cannot be opened.
func newCacheStore(cfg *config.Config) cache.Store {
	if cfg.CacheBackend == config.BackendMemory {
		return cache.NewMemoryStore()
	}
	path := filepath.Join(cfg.DataDir, cache.BoltFileName)
	store, err := cache.OpenBolt(path)
	if err != nil {
		logging.Warn("Response cache unavailable, using memory", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return cache.NewMemoryStore()
	}
	return store
}

// Initialize brings the engine up. It is idempotent and never fails because
// of a missing store: on STORAGE_UNAVAILABLE the manager runs degraded, with
// no queue and no coordinator. Cache preload and notification permission
// are best effort. Background triggers run until Close, not until ctx ends.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return apperrors.New(apperrors.ErrInternal, "offline manager is closed")
	}
	if m.initialized {
		return nil
	}

	if err := m.store.Initialize(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.degraded = true
		logging.ErrorWithCode("Offline store unavailable, continuing without queue",
			string(apperrors.CodeOf(err)), err)
	} else {
		m.coordinator.Start(context.WithoutCancel(ctx))
	}

	if _, err := m.notifier.RequestPermission(ctx); err != nil {
		logging.Warn("Notification permission request failed", map[string]interface{}{"error": err.Error()})
	}

	m.prepareCache(ctx)

	m.initialized = true
	logging.Info("Offline engine initialized", map[string]interface{}{
		"degraded":  m.degraded,
		"online":    m.monitor.IsOnline(),
		"static":    m.cache.StaticGeneration(),
		"dynamic":   m.cache.DynamicGeneration(),
		"installed": m.install.IsInstalled(),
	})
	return nil
}

// prepareCache preloads the static manifest and evicts stale generations.
func (m *Manager) prepareCache(ctx context.Context) {
	urls := m.cfg.ManifestURLs()
	if len(urls) > 0 && m.monitor.IsOnline() {
		client := &http.Client{Transport: m.network}
		if err := m.cache.Preload(ctx, client, urls); err != nil {
			logging.Warn("Static preload incomplete", map[string]interface{}{"error": err.Error()})
		}
	}
	if evicted, err := m.cache.EvictStale(ctx); err != nil {
		logging.Warn("Cache eviction failed", map[string]interface{}{"error": err.Error()})
	} else if len(evicted) > 0 {
		logging.Info("Evicted stale cache generations", map[string]interface{}{"generations": evicted})
	}
}

// Close stops the coordinator and releases storage. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.coordinator.Stop()

	var firstErr error
	if err := m.store.Close(); err != nil {
		firstErr = fmt.Errorf("close store: %w", err)
	}
	if err := m.cacheStore.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close response cache: %w", err)
	}
	return firstErr
}

// Degraded reports whether the durable store failed to initialize.
func (m *Manager) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

func (m *Manager) Config() *config.Config              { return m.cfg }
func (m *Manager) Store() Store                        { return m.store }
func (m *Manager) Cache() *cache.Cache                 { return m.cache }
func (m *Manager) Connectivity() *connectivity.Monitor { return m.monitor }
func (m *Manager) Coordinator() *offsync.Coordinator   { return m.coordinator }
func (m *Manager) Install() *install.Manager           { return m.install }
func (m *Manager) Notifications() *notify.Manager      { return m.notifier }
func (m *Manager) Transport() *intercept.Interceptor   { return m.transport }
func (m *Manager) Client() *http.Client                { return &http.Client{Transport: m.transport} }

// Enqueue stores payload for later submission and, when online, triggers
// a background drain.
func (m *Manager) Enqueue(ctx context.Context, payload json.RawMessage) (*models.PendingOperation, error) {
	op, err := m.store.EnqueueOperation(ctx, payload)
	if err != nil {
		return nil, err
	}
	logging.Debug("Operation enqueued", map[string]interface{}{"id": op.ID})

	if m.monitor.IsOnline() && !m.Degraded() {
		m.coordinator.TriggerSync(ctx)
	}
	return op, nil
}

// OnSyncEvent registers a handler for coordinator events. Handlers run on
// the draining goroutine.
func (m *Manager) OnSyncEvent(h offsync.SyncEventHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers = append(m.handlers, h)
}

func (m *Manager) dispatch(event offsync.SyncEvent) {
	m.handlersMu.RLock()
	handlers := append([]offsync.SyncEventHandler(nil), m.handlers...)
	m.handlersMu.RUnlock()

	for _, h := range handlers {
		h.OnSyncEvent(event)
	}

	if event.Type == offsync.SyncEventCompleted && event.Result != nil && event.Result.Synced > 0 {
		n := notify.Notification{
			Title: "Offline changes synced",
			Body:  fmt.Sprintf("%d pending change(s) uploaded", event.Result.Synced),
			Data:  map[string]interface{}{"synced": event.Result.Synced},
		}
		if _, err := m.notifier.Show(context.Background(), n); err != nil {
			logging.Debug("Sync notification not shown", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Status is a snapshot of the engine for status endpoints.
type Status struct {
	Online       bool              `json:"online"`
	Degraded     bool              `json:"degraded"`
	Install      install.State     `json:"install_state"`
	CanInstall   bool              `json:"can_install"`
	Notification notify.Permission `json:"notification_permission"`
	Sync         offsync.Status    `json:"sync"`
	Pending      int               `json:"pending"`
	Static       string            `json:"static_generation"`
	Dynamic      string            `json:"dynamic_generation"`
}

// Status collects the current state of every component. Pending is zero
// when the store is unavailable.
func (m *Manager) Status(ctx context.Context) Status {
	st := Status{
		Online:       m.monitor.IsOnline(),
		Degraded:     m.Degraded(),
		Install:      m.install.CurrentState(),
		CanInstall:   m.install.CanInstall(),
		Notification: m.notifier.Permission(),
		Sync:         m.coordinator.Status(),
		Static:       m.cache.StaticGeneration(),
		Dynamic:      m.cache.DynamicGeneration(),
	}
	if pending, err := m.store.ListPendingOperations(ctx); err == nil {
		st.Pending = len(pending)
	}
	return st
}
