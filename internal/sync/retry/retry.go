// Package retry runs remote operations under a bounded, linear backoff.
// Create, full-sync fetch and queue drain share one Policy type so their
// retry bounds are stated in one place.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/metrics"
)

// Policy bounds a retried operation.
type Policy struct {
	// Attempts is the total number of tries, at least 1.
	Attempts int
	// Base is multiplied by the attempt number to get the wait after a
	// failed attempt: Base, 2*Base, ...
	Base time.Duration
	// PerAttemptTimeout bounds each try; zero means no bound.
	PerAttemptTimeout time.Duration
}

// RemoteWrite is the policy for create and update writes.
func RemoteWrite() Policy {
	return Policy{Attempts: 3, Base: time.Second}
}

// FullSyncFetch is the policy for fetching a remote collection.
func FullSyncFetch() Policy {
	return Policy{Attempts: 3, Base: time.Second, PerAttemptTimeout: 10 * time.Second}
}

// linear implements backoff.BackOff with Base*attempt waits.
type linear struct {
	base    time.Duration
	attempt int
}

func (l *linear) NextBackOff() time.Duration {
	l.attempt++
	return l.base * time.Duration(l.attempt)
}

func (l *linear) Reset() {
	l.attempt = 0
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. The last error is returned. A try that runs past
// PerAttemptTimeout fails with SYNC_TIMEOUT and is retried.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	tries := 0
	operation := func() error {
		tries++
		attemptCtx := ctx
		if p.PerAttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.PerAttemptTimeout)
			defer cancel()
		}

		err := op(attemptCtx)
		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return apperrors.Wrap(apperrors.ErrSyncTimeout, name+" timed out", err)
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linear{base: p.Base}, uint64(attempts-1)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		metrics.RecordRetry(name)
		logging.Warn("Retrying remote operation", map[string]interface{}{
			"operation": name,
			"attempt":   tries,
			"of":        attempts,
			"wait":      wait.String(),
			"error":     err.Error(),
		})
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err != nil && ctx.Err() != nil && !apperrors.Is(err, apperrors.ErrConnectivity) {
		return apperrors.Wrap(apperrors.ErrConnectivity, name+" canceled", err)
	}
	return err
}
