package sync

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ecodex/offline/internal/models"
)

// maxBackoffSteps bounds the doubling loop for very large attempt counts.
const maxBackoffSteps = 32

// RetryPolicy spaces out resubmission of operations that keep failing.
// The zero value disables it: every drain re-attempts every unsynced operation.
type RetryPolicy struct {
	// MaxAttempts stops submitting an operation after this many failures.
	// Zero means unlimited. The operation stays unsynced and visible.
	MaxAttempts int

	// BaseDelay is the wait after the first failure; it doubles per failure.
	// Zero means no delay between drains.
	BaseDelay time.Duration

	// MaxDelay caps the delay. Zero uses backoff's default maximum.
	MaxDelay time.Duration
}

// Enabled reports whether the policy changes drain behaviour at all.
func (p RetryPolicy) Enabled() bool {
	return p.MaxAttempts > 0 || p.BaseDelay > 0
}

// Delay returns the wait after the given number of failures.
func (p RetryPolicy) Delay(failures int) time.Duration {
	if p.BaseDelay <= 0 || failures <= 0 {
		return 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}

	steps := failures
	if steps > maxBackoffSteps {
		steps = maxBackoffSteps
	}
	var d time.Duration
	for i := 0; i < steps; i++ {
		d = b.NextBackOff()
	}
	return d
}

// NextAttempt returns the earliest time an operation that has now failed
// failures times may be submitted again. The zero time means immediately.
func (p RetryPolicy) NextAttempt(now time.Time, failures int) time.Time {
	d := p.Delay(failures)
	if d <= 0 {
		return time.Time{}
	}
	return now.Add(d)
}

// Exhausted reports whether an operation has used up its attempts.
func (p RetryPolicy) Exhausted(op *models.PendingOperation) bool {
	return p.MaxAttempts > 0 && op.Attempts >= p.MaxAttempts
}

// Eligible reports whether op should be submitted in a drain starting at now.
func (p RetryPolicy) Eligible(op *models.PendingOperation, now time.Time) bool {
	if !p.Enabled() {
		return !op.Synced
	}
	return op.ReadyAt(now) && !p.Exhausted(op)
}
