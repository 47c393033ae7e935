package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ecodex/offline/internal/connectivity"
	apperrors "github.com/ecodex/offline/internal/errors"
	"github.com/ecodex/offline/internal/logging"
)

// State is the coordinator's drain state.
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
)

// Config holds coordinator configuration.
type Config struct {
	SyncInterval time.Duration // Periodic drain while online; zero disables
	DrainTimeout time.Duration // Upper bound for a background drain (default: 5 minutes)
	Retry        RetryPolicy   // Zero value disables backoff
}

// DefaultConfig returns default coordinator configuration.
func DefaultConfig() *Config {
	return &Config{
		DrainTimeout: 5 * time.Minute,
	}
}

// OperationFailure records why one operation was left unsynced.
type OperationFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Skipped   bool               `json:"skipped"`
	StartTime time.Time          `json:"start_time"`
	EndTime   time.Time          `json:"end_time"`
	Duration  time.Duration      `json:"duration"`
	Attempted int                `json:"attempted"`
	Synced    int                `json:"synced"`
	Failed    int                `json:"failed"`
	Deferred  int                `json:"deferred"`
	Failures  []OperationFailure `json:"failures,omitempty"`
}

// Status reports the coordinator's current state.
type Status struct {
	State      State        `json:"state"`
	IsRunning  bool         `json:"is_running"`
	IsOnline   bool         `json:"is_online"`
	LastDrain  *time.Time   `json:"last_drain,omitempty"`
	LastResult *DrainResult `json:"last_result,omitempty"`
}

// Coordinator drains the pending-operation queue. At most one drain runs at
// a time; a trigger that arrives while draining is dropped, not queued.
type Coordinator struct {
	store     Store
	submitter Submitter
	conn      Connectivity
	cfg       Config
	now       func() time.Time

	draining atomic.Bool

	handlerMu sync.RWMutex
	handler   SyncEventHandler

	mu          sync.Mutex
	running     bool
	stopped     bool
	life        context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
	lastDrain   *time.Time
	lastResult  *DrainResult
}

// NewCoordinator creates a Coordinator. conn may be nil, in which case the
// coordinator only drains on explicit triggers.
func NewCoordinator(store Store, submitter Submitter, conn Connectivity, config *Config) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}

	return &Coordinator{
		store:     store,
		submitter: submitter,
		conn:      conn,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetEventHandler sets the handler for sync notifications. nil removes it.
func (c *Coordinator) SetEventHandler(handler SyncEventHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = handler
}

func (c *Coordinator) emit(event SyncEvent) {
	c.handlerMu.RLock()
	h := c.handler
	c.handlerMu.RUnlock()

	if h == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}
	h.OnSyncEvent(event)
}

// Start registers the background triggers: a drain on every offline to
// online transition and, when configured, a periodic drain while online.
// Starting twice is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopped = false
	c.life, c.cancel = context.WithCancel(ctx)
	life := c.life

	if c.conn != nil {
		c.unsubscribe = c.conn.Subscribe(func(status connectivity.Status, isOnline bool) {
			if !isOnline {
				return
			}
			if !c.TriggerSync(life) {
				logging.Debug("Drain already in progress, connectivity trigger dropped", nil)
			}
		})
	}
	c.mu.Unlock()

	if c.cfg.SyncInterval > 0 {
		c.wg.Add(1)
		go c.periodicLoop(life)
	}

	logging.Info("Sync coordinator started", map[string]interface{}{
		"sync_interval": c.cfg.SyncInterval.String(),
		"retry":         c.cfg.Retry.Enabled(),
	})
}

// Stop removes the background triggers, cancels an in-flight background
// drain and waits for it to finish.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.stopped = true
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()

	logging.Info("Sync coordinator stopped", nil)
}

func (c *Coordinator) periodicLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.conn != nil && !c.conn.IsOnline() {
				continue
			}
			c.TriggerSync(ctx)
		}
	}
}

// TriggerSync starts a drain in the background.
// Returns true if a drain was started, false if one is already in progress
// or the coordinator has been stopped.
// The drain outlives ctx's cancellation but not the coordinator's Stop.
func (c *Coordinator) TriggerSync(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return false
	}
	if !c.draining.CompareAndSwap(false, true) {
		return false
	}

	drainCtx, cancel := c.backgroundContextLocked(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.draining.Store(false)
		defer cancel()

		if _, err := c.drain(drainCtx); err != nil {
			logging.ErrorWithCode("Background drain failed", string(apperrors.CodeOf(err)), err, nil)
		}
	}()
	return true
}

// backgroundContextLocked detaches ctx and bounds it by the drain timeout
// and, while running, by the coordinator's lifetime. c.mu must be held.
func (c *Coordinator) backgroundContextLocked(ctx context.Context) (context.Context, context.CancelFunc) {
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.DrainTimeout)
	if !c.running {
		return drainCtx, cancel
	}
	stop := context.AfterFunc(c.life, cancel)
	return drainCtx, func() {
		stop()
		cancel()
	}
}

// Drain runs one drain pass and waits for it. If a drain is already in
// progress it returns immediately with Skipped set.
func (c *Coordinator) Drain(ctx context.Context) (DrainResult, error) {
	if !c.draining.CompareAndSwap(false, true) {
		return DrainResult{Skipped: true}, nil
	}
	defer c.draining.Store(false)

	return c.drain(ctx)
}

// drain submits every eligible unsynced operation in snapshot order.
// A failed operation is left unsynced and the pass continues.
func (c *Coordinator) drain(ctx context.Context) (DrainResult, error) {
	result := DrainResult{StartTime: c.now()}
	c.emit(SyncEvent{Type: SyncEventStarted})

	ops, err := c.store.ListPendingOperations(ctx)
	if err != nil {
		result.EndTime = c.now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		err = apperrors.Wrap(apperrors.ErrSyncFailed, "read pending operations", err)
		c.emit(SyncEvent{Type: SyncEventFailed, Error: err.Error()})
		return result, err
	}

	logging.Info("Drain started", map[string]interface{}{"pending": len(ops)})

	for _, op := range ops {
		if ctx.Err() != nil {
			// The rest stay unsynced for the next drain.
			result.Deferred++
			continue
		}
		now := c.now()
		if !c.cfg.Retry.Eligible(op, now) {
			result.Deferred++
			continue
		}

		result.Attempted++
		if err := c.submitter.Submit(ctx, op); err != nil {
			c.recordFailure(ctx, &result, op.ID, op.Attempts+1, err)
			continue
		}

		if err := c.store.MarkSynced(ctx, op.ID); err != nil {
			// Accepted by the server but not recorded; it will be resubmitted.
			logging.ErrorWithCode("Failed to mark operation synced", string(apperrors.CodeOf(err)), err,
				map[string]interface{}{"id": op.ID})
			result.Failed++
			result.Failures = append(result.Failures, OperationFailure{ID: op.ID, Error: err.Error()})
			continue
		}

		result.Synced++
		c.emit(SyncEvent{Type: SyncEventOperationSynced, OperationID: op.ID})
	}

	result.EndTime = c.now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	c.remember(result)

	logging.Info("Drain completed", map[string]interface{}{
		"attempted": result.Attempted,
		"synced":    result.Synced,
		"failed":    result.Failed,
		"deferred":  result.Deferred,
	})
	completed := result
	c.emit(SyncEvent{Type: SyncEventCompleted, Result: &completed})

	return result, nil
}

func (c *Coordinator) recordFailure(ctx context.Context, result *DrainResult, id string, failures int, cause error) {
	result.Failed++
	result.Failures = append(result.Failures, OperationFailure{ID: id, Error: cause.Error()})

	logging.Warn("Operation submission failed", map[string]interface{}{
		"id":       id,
		"attempts": failures,
		"error":    cause.Error(),
	})

	next := c.cfg.Retry.NextAttempt(c.now(), failures)
	if err := c.store.RecordFailure(context.WithoutCancel(ctx), id, cause.Error(), next); err != nil {
		logging.Error("Failed to record submission failure", err, map[string]interface{}{"id": id})
	}

	c.emit(SyncEvent{Type: SyncEventOperationFailed, OperationID: id, Error: cause.Error()})
}

func (c *Coordinator) remember(result DrainResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := result.EndTime
	c.lastDrain = &end
	c.lastResult = &result
}

// Status returns the current state of the coordinator.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		State:      StateIdle,
		IsRunning:  c.running,
		IsOnline:   c.conn == nil || c.conn.IsOnline(),
		LastDrain:  c.lastDrain,
		LastResult: c.lastResult,
	}
	if c.draining.Load() {
		status.State = StateDraining
	}
	return status
}

// IsDraining reports whether a drain is in progress.
func (c *Coordinator) IsDraining() bool {
	return c.draining.Load()
}
