package refuel

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/smallbiznis/roadfuel/internal/fleettest"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newService(t *testing.T, env *fleettest.Env) *Service {
	t.Helper()
	return NewService(Params{Runtime: env.Runtime, API: env.Gateway, Log: zaptest.NewLogger(t)})
}

func fillUp() CreateInput {
	return CreateInput{
		ServiceStationID:   "5",
		KilometersAtRefuel: "15000",
		LitresFueled:       "40",
		PricePerLitre:      "3.50",
	}
}

func TestOfflineRefuelIsQueuedThenDelivered(t *testing.T) {
	env := fleettest.New(t)
	svc := newService(t, env)
	ctx := context.Background()

	// Network down: the write lands in the queue.
	env.API.SetDown(true)
	queued, err := svc.Add(ctx, fillUp())
	require.ErrorIs(t, err, offline.ErrQueued)
	assert.True(t, strings.HasPrefix(queued.ID, "pending-"))

	rows, err := svc.queue.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "15000.00", rows[0].KilometersAtRefuel)
	assert.Equal(t, "40.00", rows[0].LitresFueled)
	assert.Equal(t, "3.50", rows[0].PricePerLitre)
	assert.Equal(t, "2026-03-01T08:00:00.000Z", rows[0].CreatedAt)

	visible, err := svc.Visible(ctx)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, queued.ID, visible[0].ID)
	assert.True(t, visible[0].Pending)

	// Network back: the queued refuel is posted and removed.
	env.API.SetDown(false)
	res, err := svc.SyncPending(ctx, offline.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	n, err := svc.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	post := env.API.Requests()[0]
	assert.Equal(t, "/refueling-logs", post.Path)
	assert.Equal(t, rows[0].IdempotencyKey, post.IdempotencyKey)
	assert.Equal(t, float64(5), post.Body["service_station_id"])
	assert.Equal(t, float64(15000), post.Body["kilometers_at_refuel"])
	assert.Equal(t, float64(40), post.Body["litres_fueled"])
	assert.Equal(t, 3.5, post.Body["price_per_litre"])

	logs, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "101", logs[0].ID)
	assert.False(t, logs[0].Pending)
	assert.Equal(t, "15000.00", logs[0].KilometersAtRefuel)
	assert.Equal(t, "3.50", logs[0].PricePerLitre)
}

func TestAddOnlineConfirms(t *testing.T) {
	env := fleettest.New(t)
	svc := newService(t, env)

	created, err := svc.Add(context.Background(), fillUp())
	require.NoError(t, err)
	assert.Equal(t, "101", created.ID)
	assert.Equal(t, "5", created.ServiceStationID)

	visible, err := svc.Visible(context.Background())
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestAddRejectsNonPositiveAmounts(t *testing.T) {
	env := fleettest.New(t)
	svc := newService(t, env)

	in := fillUp()
	in.PricePerLitre = "0"
	in.LitresFueled = "forty"
	_, err := svc.Add(context.Background(), in)
	require.ErrorIs(t, err, validation.ErrValidation)

	verrs, ok := validation.As(err)
	require.True(t, ok)
	codes := map[string]string{}
	for _, e := range verrs.Errors {
		codes[e.Field] = e.Code
	}
	assert.Equal(t, map[string]string{
		"litres_fueled":   "not_a_number",
		"price_per_litre": "not_positive",
	}, codes)
	assert.Empty(t, env.API.Requests())
}

func TestAddRejectsNonFiniteAmountsWithoutQueueing(t *testing.T) {
	env := fleettest.New(t)
	svc := newService(t, env)
	ctx := context.Background()

	in := fillUp()
	in.LitresFueled = "NaN"
	in.PricePerLitre = "Inf"
	_, err := svc.Add(ctx, in)
	require.ErrorIs(t, err, validation.ErrValidation)
	assert.False(t, offline.IsQueued(err))

	n, err := svc.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, env.API.Requests())
}

func TestRefuelAtPendingStationWaitsForMapping(t *testing.T) {
	env := fleettest.New(t)
	svc := newService(t, env)
	ctx := context.Background()

	in := fillUp()
	in.ServiceStationID = "pending-1772352000000"
	_, err := svc.Add(ctx, in)
	require.ErrorIs(t, err, offline.ErrQueued)
	assert.ErrorIs(t, err, ErrStationNotSynced)
	assert.Empty(t, env.API.Requests())

	res, err := svc.SyncPending(ctx, offline.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deferred)
	assert.Zero(t, env.API.Count(http.MethodPost, "/refueling-logs"))

	require.NoError(t, env.Runtime.IDMap.Put(ctx, StationEntity, in.ServiceStationID, "55"))
	res, err = svc.SyncPending(ctx, offline.SyncOptions{IgnoreBackoff: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	reqs := env.API.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, float64(55), reqs[0].Body["service_station_id"])
}

func TestListFailureFallsBackToPending(t *testing.T) {
	env := fleettest.New(t)
	svc := newService(t, env)
	ctx := context.Background()

	env.API.FailWith(http.StatusInternalServerError)
	_, err := svc.Add(ctx, fillUp())
	require.ErrorIs(t, err, offline.ErrQueued)

	logs, err := svc.List(ctx)
	require.Error(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Pending)
}
