package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/roadfuel/internal/gateway"
	obslogger "github.com/smallbiznis/roadfuel/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/roadfuel/internal/observability/metrics"
	storedb "github.com/smallbiznis/roadfuel/pkg/db"
	"go.uber.org/zap"
)

var (
	// ErrQueued marks a write that failed remotely and was stored for replay.
	ErrQueued = errors.New("queued_for_sync")
	// ErrQueueWrite means the local store refused the fallback write.
	ErrQueueWrite = errors.New("queue_write_failed")
)

const (
	busyRetryDelay = 25 * time.Millisecond
	busyRetryTries = 3
)

// QueuedError is returned by coordinators after a remote failure was
// absorbed by the local queue. errors.Is(err, ErrQueued) holds and the
// remote cause stays reachable through errors.As.
type QueuedError struct {
	Entity        string
	PlaceholderID string
	Err           error
}

func (e *QueuedError) Error() string {
	return fmt.Sprintf("%s saved for later sync as %s: %v", e.Entity, e.PlaceholderID, e.Err)
}

func (e *QueuedError) Unwrap() error { return e.Err }

func (e *QueuedError) Is(target error) bool { return target == ErrQueued }

// IsQueued reports whether err only signals a deferred write.
func IsQueued(err error) bool {
	return errors.Is(err, ErrQueued)
}

// Queueable reports whether a failed remote-first write may be stored for
// replay: the gateway answered with a retryable or rejected status, or the
// write waits on a placeholder that has not synced yet.
func Queueable(err error) bool {
	return gateway.IsRetryable(err) || gateway.IsRejected(err) || errors.Is(err, ErrDeferred)
}

// QueueReason is the low-cardinality label for why a write was queued.
func QueueReason(err error) string {
	if errors.Is(err, ErrDeferred) {
		return "deferred"
	}
	return gateway.Reason(err)
}

// Fallback decides what happens after a remote-first write. Only queueable
// failures are stored through enqueue, which returns the placeholder id it
// stored. Auth, validation and local errors are returned untouched.
func (rt *Runtime) Fallback(ctx context.Context, entity string, remoteErr error, enqueue func(context.Context) (string, error)) error {
	if remoteErr == nil {
		rt.SyncMetrics.IncWrite(entity, obsmetrics.WriteOutcomeConfirmed)
		return nil
	}
	if gateway.IsUnauthorized(remoteErr) {
		rt.SyncMetrics.IncWrite(entity, obsmetrics.WriteOutcomeAuth)
		return remoteErr
	}
	if !Queueable(remoteErr) {
		return remoteErr
	}

	log := obslogger.WithEntity(obslogger.WithContext(ctx, rt.Log), entity)
	// The caller may have given up on ctx; the write must still land.
	placeholder, err := enqueueWithRetry(context.WithoutCancel(ctx), enqueue)
	if err != nil {
		log.Error("write.queue_failed", zap.NamedError("remote_error", remoteErr), zap.Error(err))
		return fmt.Errorf("%w: %s: %w (remote: %v)", ErrQueueWrite, entity, err, remoteErr)
	}

	reason := QueueReason(remoteErr)
	rt.SyncMetrics.IncWrite(entity, obsmetrics.WriteOutcomeQueued)
	rt.Metrics.RecordQueuedWrite(ctx, entity, reason)
	log.Info("write.queued",
		zap.String("placeholder_id", placeholder),
		zap.String("reason", reason),
		zap.Error(remoteErr),
	)
	return &QueuedError{Entity: entity, PlaceholderID: placeholder, Err: remoteErr}
}

// enqueueWithRetry absorbs short SQLITE_BUSY windows, e.g. while a drain
// pass holds the write lock.
func enqueueWithRetry(ctx context.Context, enqueue func(context.Context) (string, error)) (string, error) {
	return backoff.Retry(ctx, func() (string, error) {
		id, err := enqueue(ctx)
		if err != nil && !storedb.IsBusyErr(err) {
			return "", backoff.Permanent(err)
		}
		return id, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(busyRetryDelay)),
		backoff.WithMaxTries(busyRetryTries),
	)
}
