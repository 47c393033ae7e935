package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	apperrors "github.com/ecodex/offline/internal/errors"
	"github.com/ecodex/offline/internal/models"
)

const (
	// IdempotencyKeyHeader carries the operation id so the server can
	// discard duplicates. Delivery is at-least-once: a crash between the
	// server's acknowledgment and MarkSynced resubmits the operation.
	IdempotencyKeyHeader = "Idempotency-Key"

	// EnqueuedAtHeader carries the enqueue time in unix milliseconds.
	EnqueuedAtHeader = "X-Offline-Enqueued-At"

	// DefaultTokenHeader is the header the backend reads auth tokens from.
	DefaultTokenHeader = "x-auth-token"
)

// TokenSource returns the current auth token, or "" for none.
type TokenSource func(ctx context.Context) (string, error)

// HTTPSubmitter posts operation payloads as JSON to a fixed endpoint.
type HTTPSubmitter struct {
	client      *http.Client
	url         string
	tokenHeader string
	token       TokenSource
}

// SubmitterOption configures an HTTPSubmitter.
type SubmitterOption func(*HTTPSubmitter)

// WithToken attaches a token from src to every submission under header.
// An empty header uses DefaultTokenHeader.
func WithToken(header string, src TokenSource) SubmitterOption {
	return func(s *HTTPSubmitter) {
		if header == "" {
			header = DefaultTokenHeader
		}
		s.tokenHeader = header
		s.token = src
	}
}

// NewHTTPSubmitter creates a submitter for url. A nil client uses http.DefaultClient.
func NewHTTPSubmitter(client *http.Client, url string, opts ...SubmitterOption) *HTTPSubmitter {
	if client == nil {
		client = http.DefaultClient
	}
	s := &HTTPSubmitter{client: client, url: url}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit posts op.Payload. Transport failures are NETWORK_UNAVAILABLE and
// non-2xx responses are REMOTE_REJECTED.
func (s *HTTPSubmitter) Submit(ctx context.Context, op *models.PendingOperation) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(op.Payload))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "build submit request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, op.ID)
	req.Header.Set(EnqueuedAtHeader, strconv.FormatInt(op.EnqueuedAt.UnixMilli(), 10))

	if s.token != nil {
		token, err := s.token(ctx)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "resolve auth token", err)
		}
		if token != "" {
			req.Header.Set(s.tokenHeader, token)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetworkUnavailable, "submit operation", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.New(apperrors.ErrRemoteRejected, fmt.Sprintf("server returned %d", resp.StatusCode))
	}
	return nil
}
