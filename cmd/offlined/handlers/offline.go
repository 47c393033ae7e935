package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/ecodex/offline/internal/errors"
	"github.com/ecodex/offline/internal/models"
	"github.com/ecodex/offline/internal/offline"
)

// OfflineHandler exposes the offline manager: status, queue, sync trigger,
// connectivity signal, cached entities and response cache maintenance.
type OfflineHandler struct {
	m *offline.Manager
}

// NewOfflineHandler creates a new OfflineHandler.
func NewOfflineHandler(m *offline.Manager) *OfflineHandler {
	return &OfflineHandler{m: m}
}

// GetStatus handles GET /_offline/status
func (h *OfflineHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.m.Status(r.Context()))
}

// ListQueue handles GET /_offline/queue
// Returns unsynced operations, or every operation with ?all=true.
func (h *OfflineHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	var (
		ops []*models.PendingOperation
		err error
	)
	if all {
		ops, err = h.m.Store().ListOperations(r.Context())
	} else {
		ops, err = h.m.Store().ListPendingOperations(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if ops == nil {
		ops = []*models.PendingOperation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

// GetOperation handles GET /_offline/queue/{id}
func (h *OfflineHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := h.m.Store().GetOperation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// Enqueue handles POST /_offline/queue
// The body is stored verbatim as the operation payload.
func (h *OfflineHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	op, err := h.m.Enqueue(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, op)
}

// GetSync handles GET /_offline/sync
func (h *OfflineHandler) GetSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.m.Coordinator().Status())
}

// TriggerSync handles POST /_offline/sync
// Starts a background drain: 202 when started, 409 when one is running.
func (h *OfflineHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.m.Degraded() {
		writeError(w, apperrors.New(apperrors.ErrStorageUnavailable, "offline store is unavailable"))
		return
	}
	if !h.m.Coordinator().TriggerSync(r.Context()) {
		writeError(w, apperrors.New(apperrors.ErrSyncInProgress, "a drain is already running"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// GetConnectivity handles GET /_offline/connectivity
func (h *OfflineHandler) GetConnectivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.m.Connectivity().IsOnline()})
}

// SetConnectivity handles POST /_offline/connectivity
// Body: {"online": bool}. This is the platform connectivity signal.
func (h *OfflineHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online *bool `json:"online"`
	}
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, err)
		return
	}
	if request.Online == nil {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "online is required"))
		return
	}

	h.m.Connectivity().SetOnline(*request.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.m.Connectivity().IsOnline()})
}

// ListEntities handles GET /_offline/entities
func (h *OfflineHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.m.Store().ListCachedEntities(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if entities == nil {
		entities = []*models.CachedEntity{}
	}
	writeJSON(w, http.StatusOK, entities)
}

// PutEntities handles PUT /_offline/entities
// Body: a JSON array of records, each carrying an "id".
func (h *OfflineHandler) PutEntities(w http.ResponseWriter, r *http.Request) {
	var records []json.RawMessage
	if err := decodeJSON(w, r, &records); err != nil {
		writeError(w, err)
		return
	}

	entities := make([]*models.CachedEntity, 0, len(records))
	for _, raw := range records {
		e, err := models.EntityFromJSON(raw)
		if err != nil {
			writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid entity", err))
			return
		}
		entities = append(entities, e)
	}
	for _, e := range entities {
		if err := h.m.Store().CacheEntity(r.Context(), e); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"cached": len(entities)})
}

// GetCache handles GET /_offline/cache
// Returns the stored generations with their entry counts.
func (h *OfflineHandler) GetCache(w http.ResponseWriter, r *http.Request) {
	c := h.m.Cache()
	names, err := c.Generations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	counts := make(map[string]int, len(names))
	for _, name := range names {
		keys, err := c.Store().Keys(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		counts[name] = len(keys)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"static":      c.StaticGeneration(),
		"dynamic":     c.DynamicGeneration(),
		"generations": counts,
	})
}

// EvictCache handles DELETE /_offline/cache
// Deletes every generation except the current static and dynamic ones.
func (h *OfflineHandler) EvictCache(w http.ResponseWriter, r *http.Request) {
	evicted, err := h.m.Cache().EvictStale(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if evicted == nil {
		evicted = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"evicted": evicted})
}
