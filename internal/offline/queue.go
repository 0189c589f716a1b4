package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/roadfuel/internal/clock"
	"github.com/smallbiznis/roadfuel/internal/wire"
	storedb "github.com/smallbiznis/roadfuel/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Queue is the durable pending-write table for one entity. Every mutation
// runs in its own transaction so a crash leaves a row either fully written
// or absent.
type Queue[R any, PR interface {
	*R
	Row
}] struct {
	entity string
	db     *gorm.DB
	clock  clock.Clock
	ids    *PlaceholderGen
}

// NewQueue builds the queue and registers it for dead-letter requeue.
func NewQueue[R any, PR interface {
	*R
	Row
}](rt *Runtime, entity string) *Queue[R, PR] {
	q := &Queue[R, PR]{
		entity: entity,
		db:     rt.DB,
		clock:  rt.Clock,
		ids:    rt.Placeholders,
	}
	rt.DeadLetters.Register(q)
	return q
}

func (q *Queue[R, PR]) Entity() string { return q.entity }

// Enqueue stores row, filling placeholder id, idempotency key and created_at
// when the caller left them empty.
func (q *Queue[R, PR]) Enqueue(ctx context.Context, row PR) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q.prepare(row)
		return tx.Create(row).Error
	})
}

// EnqueueReplacing deletes rows matching query before storing row, in one
// transaction. Used where only the latest pending write for a key matters.
func (q *Queue[R, PR]) EnqueueReplacing(ctx context.Context, row PR, query string, args ...any) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(query, args...).Delete(new(R)).Error; err != nil {
			return err
		}
		q.prepare(row)
		return tx.Create(row).Error
	})
}

// Enqueuer adapts Enqueue to Runtime.Fallback.
func (q *Queue[R, PR]) Enqueuer(row PR) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		if err := q.Enqueue(ctx, row); err != nil {
			return "", err
		}
		return row.Meta().PlaceholderID, nil
	}
}

func (q *Queue[R, PR]) prepare(row PR) {
	meta := row.Meta()
	meta.ID = 0
	if meta.PlaceholderID == "" {
		meta.PlaceholderID = q.ids.Next()
	}
	if meta.IdempotencyKey == "" {
		meta.IdempotencyKey = uuid.NewString()
	}
	if meta.CreatedAt == "" {
		meta.CreatedAt = wire.FormatISO(q.clock.Now())
	}
}

// All returns every queued row in insertion order.
func (q *Queue[R, PR]) All(ctx context.Context) ([]R, error) {
	var rows []R
	err := q.db.WithContext(ctx).Order("id ASC").Find(&rows).Error
	return rows, err
}

// Due returns rows whose backoff has elapsed at now.
func (q *Queue[R, PR]) Due(ctx context.Context, now time.Time, ignoreBackoff bool) ([]R, error) {
	if ignoreBackoff {
		return q.All(ctx)
	}
	var rows []R
	err := q.db.WithContext(ctx).
		Where("next_attempt_at <= ?", now.UnixMilli()).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// Find loads rows matching an arbitrary condition, oldest first.
func (q *Queue[R, PR]) Find(ctx context.Context, query string, args ...any) ([]R, error) {
	var rows []R
	err := q.db.WithContext(ctx).Where(query, args...).Order("id ASC").Find(&rows).Error
	return rows, err
}

func (q *Queue[R, PR]) Count(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(new(R)).Count(&n).Error
	return n, err
}

// Delete removes a row by its local id. Call only after the remote write
// succeeded.
func (q *Queue[R, PR]) Delete(ctx context.Context, id int64) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Delete(new(R), id).Error
	})
}

// MarkFailed records a failed replay and when the row becomes due again.
func (q *Queue[R, PR]) MarkFailed(ctx context.Context, id int64, attempts int, next time.Time, lastErr string) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(new(R)).Where("id = ?", id).Updates(map[string]any{
			"attempts":        attempts,
			"next_attempt_at": next.UnixMilli(),
			"last_error":      truncate(lastErr, 1024),
		}).Error
	})
}

// Defer pushes a row back without spending one of its attempts.
func (q *Queue[R, PR]) Defer(ctx context.Context, id int64, until time.Time, reason string) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(new(R)).Where("id = ?", id).Updates(map[string]any{
			"next_attempt_at": until.UnixMilli(),
			"last_error":      truncate(reason, 1024),
		}).Error
	})
}

// Bury moves row into dead_letters.
func (q *Queue[R, PR]) Bury(ctx context.Context, row PR, reason string) (*DeadLetter, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode %s row %d: %w", q.entity, row.Meta().ID, err)
	}
	meta := row.Meta()
	dl := &DeadLetter{
		Entity:         q.entity,
		PlaceholderID:  meta.PlaceholderID,
		IdempotencyKey: meta.IdempotencyKey,
		Payload:        datatypes.JSON(payload),
		Attempts:       meta.Attempts,
		LastError:      meta.LastError,
		Reason:         reason,
		CreatedAt:      meta.CreatedAt,
		BuriedAt:       wire.FormatISO(q.clock.Now()),
	}
	err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(dl).Error; err != nil {
			return err
		}
		return tx.Delete(new(R), meta.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return dl, nil
}

// Restore puts a dead letter back into the queue with a fresh retry budget.
// The idempotency key is kept so the server can still de-duplicate.
func (q *Queue[R, PR]) Restore(ctx context.Context, dl DeadLetter) error {
	row := PR(new(R))
	if err := json.Unmarshal(dl.Payload, row); err != nil {
		return fmt.Errorf("decode dead letter %d: %w", dl.ID, err)
	}
	meta := row.Meta()
	meta.ID = 0
	meta.Attempts = 0
	meta.NextAttemptAt = 0
	meta.LastError = ""
	meta.PlaceholderID = dl.PlaceholderID
	meta.IdempotencyKey = dl.IdempotencyKey

	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A row with the same key is already queued; only the dead letter goes.
		if err := tx.Create(row).Error; err != nil && !storedb.IsDuplicateKeyErr(err) {
			return err
		}
		return tx.Delete(&DeadLetter{}, dl.ID).Error
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
