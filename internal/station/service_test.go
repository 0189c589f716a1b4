package station

import (
	"context"
	"net/http"
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

func shell() CreateInput {
	return CreateInput{Name: "Shell A1", Location: "Exit 14", FuelPrice: "1.899", Rating: "4.5", IsGlobal: true}
}

func TestAddOnlineUsesBareResponses(t *testing.T) {
	env := fleettest.New(t)
	svc := newService(t, env)
	ctx := context.Background()

	created, err := svc.Add(ctx, shell())
	require.NoError(t, err)
	assert.Equal(t, Station{ID: "101", Name: "Shell A1", Location: "Exit 14", FuelPrice: "1.90", Rating: "4.5", IsGlobal: true}, created)

	body := env.API.Requests()[0].Body
	assert.Equal(t, 1.9, body["fuel_price"])
	assert.Equal(t, 4.5, body["rating"])
	assert.Equal(t, true, body["is_global"])

	stations, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.Equal(t, "101", stations[0].ID)
}

func TestAddValidatesRating(t *testing.T) {
	env := fleettest.New(t)
	svc := newService(t, env)

	in := shell()
	in.Rating = "5.5"
	_, err := svc.Add(context.Background(), in)
	require.ErrorIs(t, err, validation.ErrValidation)
	verrs, _ := validation.As(err)
	require.Len(t, verrs.Errors, 1)
	assert.Equal(t, "out_of_range", verrs.Errors[0].Code)
	assert.Empty(t, env.API.Requests())
}

func TestQueuedStationSyncRecordsMapping(t *testing.T) {
	env := fleettest.New(t)
	svc := newService(t, env)
	ctx := context.Background()

	env.API.FailWith(http.StatusServiceUnavailable)
	queued, err := svc.Add(ctx, shell())
	require.ErrorIs(t, err, offline.ErrQueued)
	assert.True(t, queued.Pending)

	rows, err := svc.queue.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsGlobal)
	assert.Equal(t, "1.90", rows[0].FuelPrice)
	assert.Equal(t, "4.5", rows[0].Rating)

	// Still failing: the row stays, with its attempt recorded.
	res, err := svc.SyncPending(ctx, offline.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	env.API.FailWith(0)
	res, err = svc.SyncPending(ctx, offline.SyncOptions{IgnoreBackoff: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	id, ok, err := env.Runtime.IDMap.Resolve(ctx, Entity, queued.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "101", id)

	visible, err := svc.Visible(ctx)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.False(t, visible[0].Pending)
}
