package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/ecodex/offline/internal/errors"
	"github.com/ecodex/offline/internal/install"
)

// Install lifecycle events accepted by POST /_offline/install/{event}.
const (
	EventPromptAvailable = "prompt-available"
	EventInstalled       = "installed"
	EventPrompt          = "prompt"
	EventAnswer          = "answer"
)

// InstallHandler relays platform install signals to the install manager.
// The shell that owns the real install prompt reports it with
// prompt-available, and later answers a shown prompt with answer.
type InstallHandler struct {
	manager *install.Manager

	mu      sync.Mutex
	pending chan install.Outcome
}

// NewInstallHandler creates a new InstallHandler.
func NewInstallHandler(manager *install.Manager) *InstallHandler {
	return &InstallHandler{manager: manager}
}

// relayPrompt is shown by waiting for the shell's answer.
type relayPrompt struct {
	h      *InstallHandler
	answer chan install.Outcome
}

func (p *relayPrompt) Show(ctx context.Context) (install.Outcome, error) {
	p.h.mu.Lock()
	p.h.pending = p.answer
	p.h.mu.Unlock()

	defer func() {
		p.h.mu.Lock()
		if p.h.pending == p.answer {
			p.h.pending = nil
		}
		p.h.mu.Unlock()
	}()

	select {
	case outcome := <-p.answer:
		return outcome, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// GetInstall handles GET /_offline/install
func (h *InstallHandler) GetInstall(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":       h.manager.CurrentState(),
		"installed":   h.manager.IsInstalled(),
		"can_install": h.manager.CanInstall(),
	})
}

// HandleEvent handles POST /_offline/install/{event}
func (h *InstallHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	switch event := chi.URLParam(r, "event"); event {
	case EventPromptAvailable:
		h.manager.PromptAvailable(&relayPrompt{h: h, answer: make(chan install.Outcome, 1)})

	case EventInstalled:
		h.manager.Installed()

	case EventPrompt:
		outcome, err := h.manager.PromptInstall(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"outcome": outcome,
			"state":   h.manager.CurrentState(),
		})
		return

	case EventAnswer:
		var request struct {
			Outcome install.Outcome `json:"outcome"`
		}
		if err := decodeJSON(w, r, &request); err != nil {
			writeError(w, err)
			return
		}
		if request.Outcome != install.OutcomeAccepted && request.Outcome != install.OutcomeDismissed {
			writeError(w, apperrors.New(apperrors.ErrInvalid, "outcome must be accepted or dismissed"))
			return
		}
		if !h.answer(request.Outcome) {
			writeError(w, apperrors.New(apperrors.ErrPromptUnavailable, "no install prompt is being shown"))
			return
		}

	default:
		writeError(w, apperrors.New(apperrors.ErrNotFound, "unknown install event "+event))
		return
	}

	h.GetInstall(w, r)
}

func (h *InstallHandler) answer(outcome install.Outcome) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == nil {
		return false
	}
	select {
	case h.pending <- outcome:
		h.pending = nil
		return true
	default:
		return false
	}
}
