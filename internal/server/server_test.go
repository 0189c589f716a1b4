package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/roadfuel/internal/config"
	"github.com/smallbiznis/roadfuel/internal/fleettest"
	"github.com/smallbiznis/roadfuel/internal/geo"
	"github.com/smallbiznis/roadfuel/internal/geo/mock"
	"github.com/smallbiznis/roadfuel/internal/observability"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/refuel"
	"github.com/smallbiznis/roadfuel/internal/station"
	"github.com/smallbiznis/roadfuel/internal/syncer"
	"github.com/smallbiznis/roadfuel/internal/trip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	sanFrancisco = geo.Position{Latitude: 37.7749, Longitude: -122.4194}
	losAngeles   = geo.Position{Latitude: 34.0522, Longitude: -118.2437}
)

type harness struct {
	env      *fleettest.Env
	refuel   *refuel.Service
	provider *mock.MockProvider
	engine   *gin.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := fleettest.New(t)
	log := zaptest.NewLogger(t)
	provider := mock.NewMockProvider(gomock.NewController(t))
	refuels := refuel.NewService(refuel.Params{Runtime: env.Runtime, API: env.Gateway, Log: log})
	stations := station.NewService(station.Params{Runtime: env.Runtime, API: env.Gateway, Log: log})
	trips := trip.NewService(trip.Params{
		Runtime:  env.Runtime,
		API:      env.Gateway,
		Session:  env.Session,
		Location: provider,
		Log:      log,
	})
	orch := syncer.NewOrchestrator(syncer.Params{
		Coordinators: []offline.Coordinator{refuels},
		Session:      env.Session,
		Config:       config.Config{SyncConcurrency: 1},
		Log:          log,
	})
	engine := NewEngine(observability.Config{Environment: "test"}, log)
	NewServer(ServerParams{
		Gin:          engine,
		Orchestrator: orch,
		DeadLetters:  env.Runtime.DeadLetters,
		Sessions:     env.Session,
		Trips:        trips,
		Refuels:      refuels,
		Stations:     stations,
		Clock:        env.Clock,
		Log:          log,
	})
	return &harness{env: env, refuel: refuels, provider: provider, engine: engine}
}

func (h *harness) do(t *testing.T, method, path string, out any) int {
	t.Helper()
	return h.send(t, method, path, nil, out)
}

func (h *harness) send(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (h *harness) queueRefuel(t *testing.T) {
	t.Helper()
	h.env.API.SetDown(true)
	defer h.env.API.SetDown(false)
	_, err := h.refuel.Add(context.Background(), refuel.CreateInput{
		ServiceStationID:   "5",
		KilometersAtRefuel: "15000",
		LitresFueled:       "40",
		PricePerLitre:      "3.50",
	})
	require.ErrorIs(t, err, offline.ErrQueued)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestPendingAndManualSync(t *testing.T) {
	h := newHarness(t)
	h.queueRefuel(t)

	var pending pendingResponse
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/pending", &pending))
	assert.True(t, pending.Session)
	assert.Equal(t, fleettest.Tenant, pending.Tenant)
	assert.Equal(t, int64(1), pending.Pending[refuel.Entity])
	assert.Equal(t, int64(1), pending.Total)

	var synced syncResponse
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/sync", &synced))
	assert.Equal(t, 1, synced.Total.Synced)
	assert.Empty(t, synced.Error)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/pending", &pending))
	assert.Zero(t, pending.Total)
}

func TestManualSyncWithoutSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.env.Session.Teardown(context.Background(), "test"))

	var resp errorResponse
	require.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodPost, "/v1/sync", &resp))
	assert.Equal(t, "unauthorized", resp.Error.Type)
}

func TestDeadLettersListAndRequeue(t *testing.T) {
	h := newHarness(t)
	h.queueRefuel(t)
	h.queueRefuel(t)

	h.env.API.FailNext("POST /refueling-logs", http.StatusUnprocessableEntity, 2)
	var synced syncResponse
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/sync", &synced))
	assert.Equal(t, 2, synced.Total.Buried)

	type page struct {
		Data     []offline.DeadLetter `json:"data"`
		PageInfo struct {
			NextPageToken string `json:"next_page_token"`
			HasMore       bool   `json:"has_more"`
		} `json:"page_info"`
	}

	var first page
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/dead-letters?entity=refuel&page_size=1", &first))
	require.Len(t, first.Data, 1)
	assert.True(t, first.PageInfo.HasMore)
	assert.Equal(t, offline.ReasonRejected, first.Data[0].Reason)

	var second page
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/dead-letters?page_size=1&page_token="+first.PageInfo.NextPageToken, &second))
	require.Len(t, second.Data, 1)
	assert.False(t, second.PageInfo.HasMore)
	assert.Greater(t, second.Data[0].ID, first.Data[0].ID)

	id := strconv.FormatInt(first.Data[0].ID, 10)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/dead-letters/"+id+"/requeue", nil))

	var pending pendingResponse
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/pending", &pending))
	assert.Equal(t, int64(1), pending.Pending[refuel.Entity])
	assert.Equal(t, int64(1), pending.DeadLetters)

	var missing errorResponse
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/v1/dead-letters/"+id+"/requeue", &missing))
	assert.Equal(t, "not_found", missing.Error.Type)
}

func TestDeadLettersRejectsBadInput(t *testing.T) {
	h := newHarness(t)

	var resp errorResponse
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/v1/dead-letters?entity=invoice", &resp))
	require.Len(t, resp.Error.Errors, 1)
	assert.Equal(t, "invalid_entity", resp.Error.Errors[0].Code)

	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/v1/dead-letters?page_token=@@@", &resp))
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/v1/dead-letters/abc/requeue", &resp))
	assert.Equal(t, "invalid_id", resp.Error.Errors[0].Code)
}

func TestJourneySnapshot(t *testing.T) {
	h := newHarness(t)
	start := &geo.Position{Latitude: 37.7749, Longitude: -122.4194, Timestamp: fleettest.Epoch}
	require.NoError(t, h.env.Session.Journey().Begin("101", start, fleettest.Epoch))

	var resp struct {
		Data struct {
			Started bool          `json:"started"`
			TripID  string        `json:"trip_id"`
			Start   *geo.Position `json:"start"`
		} `json:"data"`
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/journey", &resp))
	assert.True(t, resp.Data.Started)
	assert.Equal(t, "101", resp.Data.TripID)
	require.NotNil(t, resp.Data.Start)
	assert.InDelta(t, 37.7749, resp.Data.Start.Latitude, 1e-9)
}
