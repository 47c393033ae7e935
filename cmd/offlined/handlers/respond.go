// Package handlers provides the REST control surface of the offline daemon.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/ecodex/offline/internal/errors"
	"github.com/ecodex/offline/internal/logging"
)

// maxBodyBytes bounds request bodies accepted by the control endpoints.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err)
	}
}

// writeError maps an error code to an HTTP status and writes
// {"error": code, "message": text}.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrPromptUnavailable, apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	case apperrors.ErrStorageUnavailable, apperrors.ErrNetworkUnavailable:
		status = http.StatusServiceUnavailable
	case apperrors.ErrRemoteRejected:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(code), err)
	}
	writeJSON(w, status, map[string]string{
		"error":   string(code),
		"message": err.Error(),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err)
	}
	return nil
}
