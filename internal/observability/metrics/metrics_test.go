package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("entity", "refuel"),
		attribute.String("trip_id", "pending-1700000000000"),
		attribute.String("outcome", "queued"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("entity"), attrs[0].Key)
	assert.Equal(t, attribute.Key("outcome"), attrs[1].Key)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordGatewayRequest(t.Context(), "POST", "/trips", "retryable", time.Second)
	m.RecordQueuedWrite(t.Context(), "trip", "network_error")

	var s *SyncMetrics
	s.AddRows("trip", RowOutcomeSynced, 1)
	s.IncSkipped("trip")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordDeadLetter(t.Context(), "refuel", "max_attempts")
}

func TestSyncMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSyncMetrics(registry, Config{ServiceName: "roadfuel", Environment: "test"})

	m.AddRows("refuel", RowOutcomeSynced, 3)
	m.AddRows("refuel", RowOutcomeFailed, 0)
	m.IncWrite("trip", WriteOutcomeQueued)
	m.SetQueueDepth("location", 7)
	m.IncReachability(true)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.rows.WithLabelValues("refuel", RowOutcomeSynced)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.rows.WithLabelValues("refuel", RowOutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("trip", WriteOutcomeQueued)))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("location")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reachability.WithLabelValues("true")))
}
