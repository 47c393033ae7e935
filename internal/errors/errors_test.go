// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty, unique values.
func TestErrorCodeValues(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound,
		ErrDatabase, ErrMigration,
		ErrStorageUnavailable, ErrNetworkUnavailable, ErrRemoteRejected,
		ErrPromptUnavailable, ErrCacheWriteFailed,
		ErrSyncFailed, ErrSyncInProgress,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if code == "" {
			t.Error("ErrorCode should not be empty")
		}
		if seen[code] {
			t.Errorf("duplicate error code %q", code)
		}
		seen[code] = true
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrStorageUnavailable, Message: "open store", Err: errors.New("read-only file system")},
			want:     "[STORAGE_UNAVAILABLE] open store: read-only file system",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestAppError_Unwrap verifies the underlying error is reachable.
func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := Wrap(ErrNetworkUnavailable, "submit", inner)

	if !errors.Is(err, inner) {
		t.Error("errors.Is() should find wrapped error")
	}
	if New(ErrInternal, "x").Unwrap() != nil {
		t.Error("Unwrap() should be nil without underlying error")
	}
}

// TestIs verifies code matching through wrapped chains.
func TestIs(t *testing.T) {
	rejected := Wrap(ErrRemoteRejected, "status 500", nil)
	wrapped := fmt.Errorf("drain: %w", rejected)
	nested := Wrap(ErrSyncFailed, "op failed", rejected)

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"direct match", rejected, ErrRemoteRejected, true},
		{"direct mismatch", rejected, ErrNetworkUnavailable, false},
		{"fmt wrapped", wrapped, ErrRemoteRejected, true},
		{"nested app error outer", nested, ErrSyncFailed, true},
		{"nested app error inner", nested, ErrRemoteRejected, true},
		{"plain error", errors.New("boom"), ErrInternal, false},
		{"nil error", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCodeOf verifies code extraction.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("x: %w", New(ErrPromptUnavailable, "no prompt"))); got != ErrPromptUnavailable {
		t.Errorf("CodeOf() = %v, want PROMPT_UNAVAILABLE", got)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf() = %v, want INTERNAL_ERROR", got)
	}
}

// TestErrorCode_format verifies codes are upper snake case.
func TestErrorCode_format(t *testing.T) {
	for _, code := range []ErrorCode{ErrStorageUnavailable, ErrCacheWriteFailed, ErrPromptUnavailable} {
		s := string(code)
		if s != strings.ToUpper(s) || strings.Contains(s, " ") {
			t.Errorf("code %q is not upper snake case", s)
		}
	}
}
