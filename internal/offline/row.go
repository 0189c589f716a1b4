package offline

import (
	"strconv"
	"strings"
	"sync"

	"github.com/smallbiznis/roadfuel/internal/clock"
)

// PlaceholderPrefix marks ids synthesized for writes the server has not seen.
const PlaceholderPrefix = "pending-"

// RowMeta is the bookkeeping every pending_* table carries next to the
// entity's creation fields. ID is the local dequeue key only.
type RowMeta struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	PlaceholderID  string `gorm:"column:placeholder_id" json:"placeholder_id"`
	IdempotencyKey string `gorm:"column:idempotency_key" json:"idempotency_key"`
	CreatedAt      string `gorm:"column:created_at" json:"created_at"`
	Attempts       int    `gorm:"column:attempts" json:"attempts"`
	// NextAttemptAt is unix millis; zero means due immediately.
	NextAttemptAt int64  `gorm:"column:next_attempt_at" json:"next_attempt_at"`
	LastError     string `gorm:"column:last_error" json:"last_error"`
}

func (m *RowMeta) Meta() *RowMeta { return m }

// Row is implemented by pointers to pending row structs embedding RowMeta.
type Row interface {
	TableName() string
	Meta() *RowMeta
}

func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// PlaceholderGen hands out pending-<epochMillis> ids that never repeat within
// a process, even when two writes land in the same millisecond.
type PlaceholderGen struct {
	clock clock.Clock
	mu    sync.Mutex
	last  int64
}

func NewPlaceholderGen(clk clock.Clock) *PlaceholderGen {
	return &PlaceholderGen{clock: clk}
}

func (g *PlaceholderGen) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := g.clock.Now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return PlaceholderPrefix + strconv.FormatInt(ms, 10)
}
