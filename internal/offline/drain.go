package offline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/roadfuel/internal/config"
	"github.com/smallbiznis/roadfuel/internal/gateway"
	obscontext "github.com/smallbiznis/roadfuel/internal/observability/context"
	obslogger "github.com/smallbiznis/roadfuel/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/roadfuel/internal/observability/metrics"
	"github.com/smallbiznis/roadfuel/internal/wire"
	"go.uber.org/zap"
)

// ErrDeferred is returned by a replay func when the row depends on another
// write that has not synced yet. The row stays queued and the attempt is
// not counted.
var ErrDeferred = errors.New("deferred")

type SyncOptions struct {
	// IgnoreBackoff replays every row regardless of next_attempt_at.
	IgnoreBackoff bool
}

// Result summarizes one drain pass.
type Result struct {
	Entity    string `json:"entity"`
	Attempted int    `json:"attempted"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
	Deferred  int    `json:"deferred"`
	Buried    int    `json:"buried"`
	Remaining int64  `json:"remaining"`
	Skipped   bool   `json:"skipped"`
}

// Merge folds o into r, keeping r's entity name.
func (r Result) Merge(o Result) Result {
	r.Attempted += o.Attempted
	r.Synced += o.Synced
	r.Failed += o.Failed
	r.Deferred += o.Deferred
	r.Buried += o.Buried
	r.Remaining += o.Remaining
	r.Skipped = r.Skipped || o.Skipped
	return r
}

// Drainer replays one queue through a replay func.
type Drainer[R any, PR interface {
	*R
	Row
}] struct {
	rt      *Runtime
	queue   *Queue[R, PR]
	replay  func(ctx context.Context, row PR) error
	running atomic.Bool
}

func NewDrainer[R any, PR interface {
	*R
	Row
}](rt *Runtime, queue *Queue[R, PR], replay func(ctx context.Context, row PR) error) *Drainer[R, PR] {
	return &Drainer[R, PR]{rt: rt, queue: queue, replay: replay}
}

// Drain replays every due row once. A row is deleted only after its replay
// succeeded. A 401 aborts the pass and leaves the remaining rows untouched.
// A second call while a pass is running returns Skipped without touching
// the network.
func (d *Drainer[R, PR]) Drain(ctx context.Context, opts SyncOptions) (Result, error) {
	entity := d.queue.Entity()
	res := Result{Entity: entity}
	if !d.running.CompareAndSwap(false, true) {
		d.rt.SyncMetrics.IncSkipped(entity)
		res.Skipped = true
		return res, nil
	}
	defer d.running.Store(false)

	runID := d.rt.GenID.Generate().String()
	ctx = obscontext.WithRunID(ctx, runID)
	log := obslogger.WithEntity(obslogger.WithContext(ctx, d.rt.Log), entity)
	start := time.Now()

	err := d.drain(ctx, opts, &res, log)

	if n, cErr := d.queue.Count(context.WithoutCancel(ctx)); cErr == nil {
		res.Remaining = n
		d.rt.SyncMetrics.SetQueueDepth(entity, n)
	}
	d.rt.SyncMetrics.AddRows(entity, obsmetrics.RowOutcomeSynced, res.Synced)
	d.rt.SyncMetrics.AddRows(entity, obsmetrics.RowOutcomeFailed, res.Failed)
	d.rt.SyncMetrics.AddRows(entity, obsmetrics.RowOutcomeDeferred, res.Deferred)
	d.rt.SyncMetrics.AddRows(entity, obsmetrics.RowOutcomeBuried, res.Buried)

	result := obsmetrics.PassResultOK
	switch {
	case gateway.IsUnauthorized(err):
		result = obsmetrics.PassResultUnauthorized
	case err != nil:
		result = obsmetrics.PassResultError
	}
	d.rt.SyncMetrics.ObservePass(entity, result, time.Since(start))

	fields := []zap.Field{
		zap.Int("attempted", res.Attempted),
		zap.Int("synced", res.Synced),
		zap.Int("failed", res.Failed),
		zap.Int("deferred", res.Deferred),
		zap.Int("buried", res.Buried),
		zap.Int64("remaining", res.Remaining),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	}
	if err != nil {
		log.Warn("sync.pass.aborted", append(fields, zap.Error(err))...)
		return res, err
	}
	if res.Attempted > 0 {
		log.Info("sync.pass.finish", fields...)
	} else {
		log.Debug("sync.pass.finish", fields...)
	}
	return res, nil
}

func (d *Drainer[R, PR]) drain(ctx context.Context, opts SyncOptions, res *Result, log *zap.Logger) error {
	now := d.rt.Clock.Now()
	rows, err := d.queue.Due(ctx, now, opts.IgnoreBackoff)
	if err != nil {
		return fmt.Errorf("load %s queue: %w", d.queue.Entity(), err)
	}
	if len(rows) > 0 {
		log.Debug("sync.pass.start", zap.Int("due", len(rows)))
	}

	policy := d.rt.Policy.Get()
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := PR(&rows[i])
		meta := row.Meta()
		rowLog := log.With(zap.Int64("row_id", meta.ID), zap.String("placeholder_id", meta.PlaceholderID))

		if expired(meta, policy, now) {
			if err := d.bury(ctx, row, ReasonMaxAge, rowLog); err != nil {
				return err
			}
			res.Buried++
			continue
		}

		res.Attempted++
		replayErr := d.replay(gateway.WithIdempotencyKey(ctx, meta.IdempotencyKey), row)
		switch {
		case replayErr == nil:
			if err := d.queue.Delete(context.WithoutCancel(ctx), meta.ID); err != nil {
				// The server has the write; the next pass will send it again
				// with the same idempotency key.
				return fmt.Errorf("delete synced %s row %d: %w", d.queue.Entity(), meta.ID, err)
			}
			res.Synced++
			rowLog.Debug("sync.row.synced")

		case errors.Is(replayErr, ErrDeferred):
			res.Attempted--
			if err := d.queue.Defer(ctx, meta.ID, now.Add(policy.Backoff.Initial), replayErr.Error()); err != nil {
				return fmt.Errorf("defer %s row %d: %w", d.queue.Entity(), meta.ID, err)
			}
			res.Deferred++
			rowLog.Debug("sync.row.deferred", zap.Error(replayErr))

		case gateway.IsUnauthorized(replayErr):
			res.Attempted--
			return replayErr

		case ctx.Err() != nil:
			res.Attempted--
			return ctx.Err()

		case gateway.IsRejected(replayErr):
			meta.Attempts++
			meta.LastError = replayErr.Error()
			if err := d.bury(ctx, row, ReasonRejected, rowLog); err != nil {
				return err
			}
			res.Buried++

		default:
			attempts := meta.Attempts + 1
			meta.Attempts = attempts
			meta.LastError = replayErr.Error()
			if policy.MaxAttempts > 0 && attempts >= policy.MaxAttempts {
				if err := d.bury(ctx, row, ReasonMaxAttempts, rowLog); err != nil {
					return err
				}
				res.Buried++
				continue
			}
			next := now.Add(Delay(policy.Backoff, attempts))
			if err := d.queue.MarkFailed(ctx, meta.ID, attempts, next, meta.LastError); err != nil {
				return fmt.Errorf("mark %s row %d failed: %w", d.queue.Entity(), meta.ID, err)
			}
			res.Failed++
			rowLog.Warn("sync.row.failed",
				zap.Int("attempts", attempts),
				zap.Time("next_attempt_at", next),
				zap.Error(replayErr),
			)
		}
	}
	return nil
}

func (d *Drainer[R, PR]) bury(ctx context.Context, row PR, reason string, log *zap.Logger) error {
	dl, err := d.queue.Bury(context.WithoutCancel(ctx), row, reason)
	if err != nil {
		return fmt.Errorf("bury %s row %d: %w", d.queue.Entity(), row.Meta().ID, err)
	}
	d.rt.Metrics.RecordDeadLetter(ctx, d.queue.Entity(), reason)
	log.Warn("sync.row.buried",
		zap.Int64("dead_letter_id", dl.ID),
		zap.String("reason", reason),
		zap.Int("attempts", dl.Attempts),
		zap.String("last_error", dl.LastError),
	)
	return nil
}

func expired(meta *RowMeta, policy config.SyncPolicy, now time.Time) bool {
	if policy.MaxAge <= 0 {
		return false
	}
	created, err := wire.ParseTime(meta.CreatedAt)
	if err != nil {
		return false
	}
	return now.Sub(created) > policy.MaxAge
}

// Delay is the wait before attempt number attempts+1.
func Delay(p config.BackoffPolicy, attempts int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.Max,
	}
	b.Reset()
	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
