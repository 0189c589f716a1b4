package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/roadfuel/internal/config"
	"github.com/smallbiznis/roadfuel/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errServer = &gateway.RetryableError{Kind: gateway.KindServerError, StatusCode: 503, Err: errors.New("unavailable")}

func enqueueFixes(t *testing.T, q *Queue[fixRow, *fixRow], trips ...string) []*fixRow {
	t.Helper()
	out := make([]*fixRow, 0, len(trips))
	for _, trip := range trips {
		row := newFix(trip)
		require.NoError(t, q.Enqueue(context.Background(), row))
		out = append(out, row)
	}
	return out
}

func TestDrainReplaysInOrderAndDeletes(t *testing.T) {
	rt, _ := newTestRuntime(t, testPolicy())
	q := newFixQueue(rt)
	rows := enqueueFixes(t, q, "1", "2", "3")

	var seen, keys []string
	d := NewDrainer(rt, q, func(ctx context.Context, row *fixRow) error {
		seen = append(seen, row.TripID)
		keys = append(keys, gateway.IdempotencyKeyFromContext(ctx))
		return nil
	})

	res, err := d.Drain(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, Result{Entity: "location", Attempted: 3, Synced: 3}, res)
	assert.Equal(t, []string{"1", "2", "3"}, seen)
	assert.Equal(t, []string{rows[0].IdempotencyKey, rows[1].IdempotencyKey, rows[2].IdempotencyKey}, keys)

	n, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainBacksOffFailedRows(t *testing.T) {
	rt, clk := newTestRuntime(t, testPolicy())
	q := newFixQueue(rt)
	enqueueFixes(t, q, "1")

	calls := 0
	d := NewDrainer(rt, q, func(context.Context, *fixRow) error {
		calls++
		return errServer
	})
	ctx := context.Background()

	res, err := d.Drain(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.EqualValues(t, 1, res.Remaining)

	rows, err := q.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Attempts)
	assert.Equal(t, clk.Now().Add(time.Second).UnixMilli(), rows[0].NextAttemptAt)
	assert.Contains(t, rows[0].LastError, "server_error")

	// Not due yet.
	res, err = d.Drain(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Equal(t, 1, calls)

	// A manual sync ignores the backoff.
	_, err = d.Drain(ctx, SyncOptions{IgnoreBackoff: true})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	rows, err = q.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rows[0].Attempts)
	assert.Equal(t, clk.Now().Add(2*time.Second).UnixMilli(), rows[0].NextAttemptAt)

	clk.Advance(2 * time.Second)
	_, err = d.Drain(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDrainBuriesAfterMaxAttempts(t *testing.T) {
	policy := testPolicy()
	policy.MaxAttempts = 2
	rt, clk := newTestRuntime(t, policy)
	q := newFixQueue(rt)
	enqueueFixes(t, q, "1")

	d := NewDrainer(rt, q, func(context.Context, *fixRow) error { return errServer })
	ctx := context.Background()

	res, err := d.Drain(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	clk.Advance(time.Minute)
	res, err = d.Drain(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Buried)
	assert.Zero(t, res.Remaining)

	dls, err := rt.DeadLetters.List(ctx, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, ReasonMaxAttempts, dls[0].Reason)
	assert.Equal(t, 2, dls[0].Attempts)
}

func TestDrainBuriesRejectedRows(t *testing.T) {
	rt, _ := newTestRuntime(t, testPolicy())
	q := newFixQueue(rt)
	enqueueFixes(t, q, "1", "2")

	d := NewDrainer(rt, q, func(_ context.Context, row *fixRow) error {
		if row.TripID == "1" {
			return &gateway.RejectedError{StatusCode: 422, Body: `{"message":"invalid"}`}
		}
		return nil
	})

	res, err := d.Drain(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Buried)
	assert.Equal(t, 1, res.Synced)

	dls, err := rt.DeadLetters.List(context.Background(), "location", 0, 10)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, ReasonRejected, dls[0].Reason)
	assert.Contains(t, dls[0].LastError, "422")
}

func TestDrainBuriesExpiredRowsWithoutReplay(t *testing.T) {
	rt, clk := newTestRuntime(t, testPolicy())
	q := newFixQueue(rt)
	enqueueFixes(t, q, "1")
	clk.Advance(25 * time.Hour)

	d := NewDrainer(rt, q, func(context.Context, *fixRow) error {
		t.Fatal("expired row must not be replayed")
		return nil
	})

	res, err := d.Drain(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Buried)
	assert.Zero(t, res.Attempted)

	dls, err := rt.DeadLetters.List(context.Background(), "location", 0, 10)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, ReasonMaxAge, dls[0].Reason)
}

func TestDrainDeferredRowsKeepTheirBudget(t *testing.T) {
	rt, clk := newTestRuntime(t, testPolicy())
	q := newFixQueue(rt)
	enqueueFixes(t, q, "pending-1")

	d := NewDrainer(rt, q, func(context.Context, *fixRow) error {
		return fmt.Errorf("trip pending-1 not synced yet: %w", ErrDeferred)
	})

	res, err := d.Drain(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deferred)
	assert.Zero(t, res.Attempted)

	rows, err := q.All(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Zero(t, rows[0].Attempts)
	assert.Equal(t, clk.Now().Add(time.Second).UnixMilli(), rows[0].NextAttemptAt)
	assert.Contains(t, rows[0].LastError, "not synced yet")
}

func TestDrainStopsOnUnauthorized(t *testing.T) {
	rt, _ := newTestRuntime(t, testPolicy())
	q := newFixQueue(rt)
	enqueueFixes(t, q, "1", "2", "3")

	calls := 0
	d := NewDrainer(rt, q, func(context.Context, *fixRow) error {
		calls++
		if calls == 2 {
			return gateway.ErrUnauthorized
		}
		return nil
	})

	res, err := d.Drain(context.Background(), SyncOptions{})
	require.ErrorIs(t, err, gateway.ErrUnauthorized)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, res.Synced)
	assert.EqualValues(t, 2, res.Remaining)

	rows, err := q.All(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Zero(t, row.Attempts)
	}
}

func TestDrainCancelledMidPassKeepsUnsentRows(t *testing.T) {
	rt, _ := newTestRuntime(t, testPolicy())
	q := newFixQueue(rt)
	enqueueFixes(t, q, "1", "2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDrainer(rt, q, func(context.Context, *fixRow) error {
		cancel()
		return nil
	})

	res, err := d.Drain(ctx, SyncOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Synced)

	rows, err := q.All(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0].TripID)
}

func TestDrainSkipsWhilePassInFlight(t *testing.T) {
	rt, _ := newTestRuntime(t, testPolicy())
	q := newFixQueue(rt)
	enqueueFixes(t, q, "1")

	started := make(chan struct{})
	release := make(chan struct{})
	d := NewDrainer(rt, q, func(context.Context, *fixRow) error {
		close(started)
		<-release
		return nil
	})

	var (
		wg    sync.WaitGroup
		first Result
		err   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, err = d.Drain(context.Background(), SyncOptions{})
	}()

	<-started
	second, secondErr := d.Drain(context.Background(), SyncOptions{})
	require.NoError(t, secondErr)
	assert.True(t, second.Skipped)
	assert.Zero(t, second.Attempted)

	close(release)
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, first.Synced)
}

func TestDelay(t *testing.T) {
	p := config.BackoffPolicy{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, Delay(p, 1))
	assert.Equal(t, 2*time.Second, Delay(p, 2))
	assert.Equal(t, 8*time.Second, Delay(p, 4))
	assert.Equal(t, 10*time.Second, Delay(p, 9))

	p.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := Delay(p, 3)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
}

func TestResultMerge(t *testing.T) {
	a := Result{Entity: "all", Synced: 1, Remaining: 2}
	b := Result{Entity: "trip", Failed: 1, Remaining: 3, Skipped: true}
	got := a.Merge(b)
	assert.Equal(t, Result{Entity: "all", Synced: 1, Failed: 1, Remaining: 5, Skipped: true}, got)
}
