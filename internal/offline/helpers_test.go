package offline

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/roadfuel/internal/clock"
	"github.com/smallbiznis/roadfuel/internal/config"
	"github.com/smallbiznis/roadfuel/internal/storetest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testEpoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// fixRow rides on pending_locations so tests exercise a real schema.
type fixRow struct {
	RowMeta
	Latitude  string `gorm:"column:latitude" json:"latitude"`
	Longitude string `gorm:"column:longitude" json:"longitude"`
	Timestamp string `gorm:"column:timestamp" json:"timestamp"`
	TripID    string `gorm:"column:trip_id" json:"trip_id"`
}

func (fixRow) TableName() string { return "pending_locations" }

func testPolicy() config.SyncPolicy {
	return config.SyncPolicy{
		Backoff: config.BackoffPolicy{
			Initial:    time.Second,
			Max:        10 * time.Second,
			Multiplier: 2,
		},
		MaxAttempts: 5,
		MaxAge:      24 * time.Hour,
	}
}

func newTestRuntime(t *testing.T, policy config.SyncPolicy) (*Runtime, *clock.FakeClock) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testEpoch)
	rt := NewRuntime(Params{
		DB:     storetest.Open(t),
		Clock:  clk,
		Log:    zaptest.NewLogger(t),
		Policy: config.NewStaticSyncPolicy(policy),
		GenID:  node,
	})
	return rt, clk
}

func newFixQueue(rt *Runtime) *Queue[fixRow, *fixRow] {
	return NewQueue[fixRow](rt, "location")
}

func newFix(trip string) *fixRow {
	return &fixRow{Latitude: "37.774900", Longitude: "-122.419400", Timestamp: "2026-03-01 08:00:00", TripID: trip}
}
