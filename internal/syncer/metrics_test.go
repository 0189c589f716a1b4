package syncer

import (
	"context"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/roadfuel/internal/config"
	"github.com/smallbiznis/roadfuel/internal/fleettest"
	obsmetrics "github.com/smallbiznis/roadfuel/internal/observability/metrics"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/refuel"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	obsmetrics.ResetSyncMetricsForTest()
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSyncMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}

func TestTriggerRecordsOrchestrationAndRowMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	syncMetrics := obsmetrics.SyncWithConfig(obsmetrics.Config{ServiceName: "roadfuel", Environment: "test"})
	env := fleettest.New(t)
	env.Runtime.SyncMetrics = syncMetrics
	log := zaptest.NewLogger(t)
	svc := refuel.NewService(refuel.Params{Runtime: env.Runtime, API: env.Gateway, Log: log})

	env.API.SetDown(true)
	_, err := svc.Add(context.Background(), refuel.CreateInput{
		ServiceStationID:   "5",
		KilometersAtRefuel: "15000",
		LitresFueled:       "40",
		PricePerLitre:      "3.50",
	})
	require.ErrorIs(t, err, offline.ErrQueued)
	env.API.SetDown(false)

	o := NewOrchestrator(Params{
		Coordinators: []offline.Coordinator{svc},
		Session:      env.Session,
		Config:       config.Config{SyncConcurrency: 1},
		SyncMetrics:  syncMetrics,
		Log:          log,
	})
	_, err = o.Trigger(context.Background(), TriggerManual, offline.SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, env.API.Count(http.MethodPost, "/refueling-logs"))

	base := map[string]string{"service": "roadfuel", "env": "test"}
	with := func(extra map[string]string) map[string]string {
		out := map[string]string{}
		for k, v := range base {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	require.Equal(t, 1.0, getCounterValue(t, registry, "roadfuel_sync_orchestrations_total",
		with(map[string]string{"trigger": TriggerManual, "result": obsmetrics.PassResultOK})))
	require.Equal(t, 1.0, getCounterValue(t, registry, "roadfuel_sync_rows_total",
		with(map[string]string{"entity": refuel.Entity, "outcome": obsmetrics.RowOutcomeSynced})))
	require.Equal(t, 1.0, getCounterValue(t, registry, "roadfuel_sync_passes_total",
		with(map[string]string{"entity": refuel.Entity, "result": obsmetrics.PassResultOK})))
}
