package location

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/roadfuel/internal/config"
	"github.com/smallbiznis/roadfuel/internal/fleettest"
	"github.com/smallbiznis/roadfuel/internal/geo"
	"github.com/smallbiznis/roadfuel/internal/geo/mock"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/trip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newService(t *testing.T, env *fleettest.Env) *Service {
	t.Helper()
	return NewService(Params{Runtime: env.Runtime, API: env.Gateway, Log: zaptest.NewLogger(t)})
}

func TestAddPostsNumericSample(t *testing.T) {
	env := fleettest.New(t)
	svc := newService(t, env)

	err := svc.Add(context.Background(), Sample{
		Latitude:  37.7749,
		Longitude: -122.4194,
		Timestamp: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		TripID:    "101",
	})
	require.NoError(t, err)

	reqs := env.API.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/locations", reqs[0].Path)
	assert.Equal(t, 37.7749, reqs[0].Body["latitude"])
	assert.Equal(t, -122.4194, reqs[0].Body["longitude"])
	assert.Equal(t, "2026-03-01 09:30:00", reqs[0].Body["timestamp"])
	assert.Equal(t, float64(101), reqs[0].Body["trip_id"])
	assert.Equal(t, "2026-03-01T08:00:00.000Z", reqs[0].Body["created_at"])
}

func TestSamplesForPendingTripWaitForMapping(t *testing.T) {
	env := fleettest.New(t)
	svc := newService(t, env)
	ctx := context.Background()

	err := svc.Add(ctx, Sample{Latitude: 1, Longitude: 2, TripID: "pending-1772352000000"})
	require.ErrorIs(t, err, offline.ErrQueued)
	assert.ErrorIs(t, err, trip.ErrNotSynced)
	assert.Empty(t, env.API.Requests())

	res, err := svc.SyncPending(ctx, offline.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deferred)

	require.NoError(t, env.Runtime.IDMap.Put(ctx, trip.Entity, "pending-1772352000000", "300"))
	res, err = svc.SyncPending(ctx, offline.SyncOptions{IgnoreBackoff: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	reqs := env.API.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, float64(300), reqs[0].Body["trip_id"])
	assert.Equal(t, float64(1), reqs[0].Body["latitude"])
}

func TestAddRejectsImpossibleCoordinates(t *testing.T) {
	env := fleettest.New(t)
	svc := newService(t, env)

	err := svc.Add(context.Background(), Sample{Latitude: 91, Longitude: 0, TripID: "1"})
	require.Error(t, err)
	assert.False(t, offline.IsQueued(err))
	n, err := svc.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSamplerPostsUntilStopped(t *testing.T) {
	env := fleettest.New(t)
	provider := mock.NewMockProvider(gomock.NewController(t))
	provider.EXPECT().Current(gomock.Any()).
		Return(geo.Position{Latitude: 37.7749, Longitude: -122.4194, Timestamp: fleettest.Epoch}, nil).
		AnyTimes()

	s := NewSampler(SamplerParams{
		Service:  newService(t, env),
		Provider: provider,
		Config:   config.Config{LocationTracking: true, LocationSampleInterval: 10 * time.Millisecond},
		Log:      zaptest.NewLogger(t),
	})
	s.Start("101")
	assert.Equal(t, "101", s.TripID())

	assert.Eventually(t, func() bool {
		return env.API.Count(http.MethodPost, "/locations") >= 3
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.Empty(t, s.TripID())
	time.Sleep(20 * time.Millisecond)
	sent := env.API.Count(http.MethodPost, "/locations")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, sent, env.API.Count(http.MethodPost, "/locations"))

	for _, r := range env.API.Requests() {
		assert.Equal(t, float64(101), r.Body["trip_id"])
	}
}

func newTrackingSampler(t *testing.T, env *fleettest.Env) *Sampler {
	t.Helper()
	provider := mock.NewMockProvider(gomock.NewController(t))
	provider.EXPECT().Current(gomock.Any()).
		Return(geo.Position{Latitude: 37.7749, Longitude: -122.4194, Timestamp: fleettest.Epoch}, nil).
		AnyTimes()
	s := NewSampler(SamplerParams{
		Service:  newService(t, env),
		Provider: provider,
		Config:   config.Config{LocationTracking: true, LocationSampleInterval: 10 * time.Millisecond},
		Log:      zaptest.NewLogger(t),
	})
	stopOnTeardown(env.Session, s)
	t.Cleanup(s.Stop)
	return s
}

func assertNoMorePosts(t *testing.T, env *fleettest.Env) {
	t.Helper()
	time.Sleep(20 * time.Millisecond)
	sent := env.API.Count(http.MethodPost, "/locations")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, sent, env.API.Count(http.MethodPost, "/locations"))
}

func TestSamplerStopsOnSessionTeardown(t *testing.T) {
	env := fleettest.New(t)
	s := newTrackingSampler(t, env)

	s.Start("101")
	require.Eventually(t, func() bool {
		return env.API.Count(http.MethodPost, "/locations") >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, env.Session.Teardown(context.Background(), "logout"))
	assert.Empty(t, s.TripID())
	assertNoMorePosts(t, env)
}

func TestSamplerHaltsOnUnauthorizedSample(t *testing.T) {
	env := fleettest.New(t)
	s := newTrackingSampler(t, env)
	env.API.FailWith(http.StatusUnauthorized)

	s.Start("101")
	require.Eventually(t, func() bool {
		_, ok := env.Session.Current()
		return !ok && s.TripID() == ""
	}, 2*time.Second, 5*time.Millisecond)

	assertNoMorePosts(t, env)
	n, err := s.svc.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSamplerDisabled(t *testing.T) {
	env := fleettest.New(t)
	s := NewSampler(SamplerParams{
		Service:  newService(t, env),
		Provider: mock.NewMockProvider(gomock.NewController(t)),
		Config:   config.Config{LocationTracking: false},
		Log:      zaptest.NewLogger(t),
	})
	s.Start("101")
	assert.Empty(t, s.TripID())
	s.Stop()
}
