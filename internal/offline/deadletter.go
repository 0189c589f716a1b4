package offline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	storedb "github.com/smallbiznis/roadfuel/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrDeadLetterNotFound = errors.New("dead_letter_not_found")
	ErrUnknownEntity      = errors.New("unknown_entity")
)

// Dead-letter reasons.
const (
	ReasonMaxAttempts = "max_attempts"
	ReasonMaxAge      = "max_age"
	ReasonRejected    = "rejected"
)

// DeadLetter is a queued write the drain loop gave up on.
type DeadLetter struct {
	ID             int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Entity         string         `gorm:"column:entity" json:"entity"`
	PlaceholderID  string         `gorm:"column:placeholder_id" json:"placeholder_id"`
	IdempotencyKey string         `gorm:"column:idempotency_key" json:"idempotency_key"`
	Payload        datatypes.JSON `gorm:"column:payload" json:"payload"`
	Attempts       int            `gorm:"column:attempts" json:"attempts"`
	LastError      string         `gorm:"column:last_error" json:"last_error"`
	Reason         string         `gorm:"column:reason" json:"reason"`
	CreatedAt      string         `gorm:"column:created_at" json:"created_at"`
	BuriedAt       string         `gorm:"column:buried_at" json:"buried_at"`
}

func (DeadLetter) TableName() string { return "dead_letters" }

// Restorer is a queue able to take a dead letter back.
type Restorer interface {
	Entity() string
	Restore(ctx context.Context, dl DeadLetter) error
}

// DeadLetters lists buried writes and routes requeue to the owning queue.
type DeadLetters struct {
	db *gorm.DB

	mu        sync.RWMutex
	restorers map[string]Restorer
}

func NewDeadLetters(db *gorm.DB) *DeadLetters {
	return &DeadLetters{db: db, restorers: map[string]Restorer{}}
}

func (d *DeadLetters) Register(r Restorer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restorers[r.Entity()] = r
}

// Entities lists registered queue names, sorted.
func (d *DeadLetters) Entities() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.restorers))
	for name := range d.restorers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// List returns up to limit dead letters with id > after, optionally
// filtered by entity.
func (d *DeadLetters) List(ctx context.Context, entity string, after int64, limit int) ([]DeadLetter, error) {
	q := d.db.WithContext(ctx).Where("id > ?", after)
	if entity != "" {
		q = q.Where("entity = ?", entity)
	}
	var out []DeadLetter
	err := q.Order("id ASC").Limit(limit).Find(&out).Error
	return out, err
}

func (d *DeadLetters) Get(ctx context.Context, id int64) (*DeadLetter, error) {
	var dl DeadLetter
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&dl).Error
	if storedb.IsNotFound(err) {
		return nil, ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dl, nil
}

// Requeue moves a dead letter back into its entity queue.
func (d *DeadLetters) Requeue(ctx context.Context, id int64) (*DeadLetter, error) {
	dl, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	r, ok := d.restorers[dl.Entity]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, dl.Entity)
	}
	if err := r.Restore(ctx, *dl); err != nil {
		return nil, err
	}
	return dl, nil
}

func (d *DeadLetters) Count(ctx context.Context) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&DeadLetter{}).Count(&n).Error
	return n, err
}
