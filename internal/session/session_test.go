package session

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/roadfuel/internal/clock"
	"github.com/smallbiznis/roadfuel/internal/geo"
	"github.com/smallbiznis/roadfuel/internal/storetest"
	"github.com/smallbiznis/roadfuel/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newManager(t *testing.T, db *gorm.DB) *Manager {
	t.Helper()
	return NewManager(Params{
		DB:    db,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
		Log:   zaptest.NewLogger(t),
	})
}

func TestBeginPersistsAndLoads(t *testing.T) {
	db := storetest.Open(t)
	ctx := context.Background()

	m := newManager(t, db)
	require.NoError(t, m.Load(ctx))
	_, ok := m.Current()
	assert.False(t, ok)

	require.NoError(t, m.Begin(ctx, Session{
		Token:        "tok-1",
		UserID:       "12",
		UserName:     "Dana",
		TenantDomain: "https://Fleet.Example.com/",
	}))
	token, tenant, ok := m.Credentials(ctx)
	assert.True(t, ok)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, "fleet.example.com", tenant)

	// A second login replaces the single row.
	require.NoError(t, m.Begin(ctx, Session{Token: "tok-2", TenantDomain: "fleet.example.com"}))

	restored := newManager(t, db)
	require.NoError(t, restored.Load(ctx))
	s, ok := restored.Current()
	require.True(t, ok)
	assert.Equal(t, "tok-2", s.Token)
	assert.Equal(t, "fleet.example.com", restored.TenantDomain())

	var n int64
	require.NoError(t, db.Table("auth").Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestBeginValidates(t *testing.T) {
	m := newManager(t, storetest.Open(t))
	err := m.Begin(context.Background(), Session{TenantDomain: " "})
	require.ErrorIs(t, err, validation.ErrValidation)

	verrs, ok := validation.As(err)
	require.True(t, ok)
	assert.Len(t, verrs.Errors, 2)
}

func TestTeardownClearsEverything(t *testing.T) {
	db := storetest.Open(t)
	ctx := context.Background()
	m := newManager(t, db)
	require.NoError(t, m.Begin(ctx, Session{Token: "tok", TenantDomain: "fleet.example.com"}))
	require.NoError(t, m.Journey().Begin("7", nil, time.Now()))

	var reasons []string
	m.OnTeardown(func(_ context.Context, reason string) { reasons = append(reasons, reason) })

	require.NoError(t, m.Teardown(ctx, "unauthorized"))
	_, ok := m.Current()
	assert.False(t, ok)
	_, active := m.Journey().Active()
	assert.False(t, active)
	assert.Equal(t, []string{"unauthorized"}, reasons)

	restored := newManager(t, db)
	require.NoError(t, restored.Load(ctx))
	_, ok = restored.Current()
	assert.False(t, ok)
}

func TestJourneyAllowsOneActiveTrip(t *testing.T) {
	j := NewJourney()
	start := &geo.Position{Latitude: 37.7749, Longitude: -122.4194}
	require.NoError(t, j.Begin("pending-1", start, time.Now()))
	assert.ErrorIs(t, j.Begin("pending-2", nil, time.Now()), ErrJourneyActive)

	start.Latitude = 0
	snap := j.Snapshot()
	assert.Equal(t, 37.7749, snap.Start.Latitude)

	assert.True(t, j.Rebind("pending-1", "101"))
	assert.False(t, j.Rebind("pending-1", "102"))
	id, active := j.Active()
	assert.True(t, active)
	assert.Equal(t, "101", id)

	assert.False(t, j.End("pending-1"))
	assert.True(t, j.End("101"))
	require.NoError(t, j.Begin("pending-2", nil, time.Now()))
}

func TestNormalizeTenant(t *testing.T) {
	assert.Equal(t, "acme.fleet.io", NormalizeTenant(" HTTPS://Acme.Fleet.io/login "))
	assert.Equal(t, "acme.fleet.io", NormalizeTenant("acme.fleet.io"))
	assert.Equal(t, "", NormalizeTenant(""))
	assert.Equal(t, "webfixerr.spinthewheel.in", NormalizeTenant(" WebFixerr "))
	assert.Equal(t, "webfixerr.spinthewheel.in", NormalizeTenant("webfixerr.spinthewheel.in"))
}
