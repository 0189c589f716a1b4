package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Row outcomes of a drain pass.
const (
	RowOutcomeSynced   = "synced"
	RowOutcomeFailed   = "failed"
	RowOutcomeDeferred = "deferred"
	RowOutcomeBuried   = "buried"
)

// Write outcomes of a remote-first create or update.
const (
	WriteOutcomeConfirmed = "confirmed"
	WriteOutcomeQueued    = "queued"
	WriteOutcomeRejected  = "rejected"
	WriteOutcomeAuth      = "unauthorized"
)

// Pass results.
const (
	PassResultOK           = "ok"
	PassResultError        = "error"
	PassResultUnauthorized = "unauthorized"
	PassResultSkipped      = "skipped"
)

// SyncMetrics captures offline queue health on the local /metrics endpoint.
type SyncMetrics struct {
	passes        *prometheus.CounterVec
	passDuration  *prometheus.HistogramVec
	rows          *prometheus.CounterVec
	writes        *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	reachability  *prometheus.CounterVec
	orchestration *prometheus.CounterVec
}

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

// Sync returns the singleton sync metrics registry.
func Sync() *SyncMetrics {
	return SyncWithConfig(Config{})
}

// SyncWithConfig returns the singleton sync metrics registry using config labels.
func SyncWithConfig(cfg Config) *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = newSyncMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return syncMetrics
}

// ResetSyncMetricsForTest resets the sync metrics singleton for tests.
func ResetSyncMetricsForTest() {
	syncMetricsOnce = sync.Once{}
	syncMetrics = nil
}

func newSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "roadfuel"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SyncMetrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "roadfuel_sync_passes_total",
			Help:        "Drain passes per entity by result.",
			ConstLabels: constLabels,
		}, []string{"entity", "result"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "roadfuel_sync_pass_duration_seconds",
			Help:        "Drain pass latency per entity.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			ConstLabels: constLabels,
		}, []string{"entity"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "roadfuel_sync_rows_total",
			Help:        "Queued rows replayed by outcome.",
			ConstLabels: constLabels,
		}, []string{"entity", "outcome"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "roadfuel_writes_total",
			Help:        "Remote-first writes by outcome.",
			ConstLabels: constLabels,
		}, []string{"entity", "outcome"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "roadfuel_sync_skipped_total",
			Help:        "Drain passes skipped because another pass was in flight.",
			ConstLabels: constLabels,
		}, []string{"entity"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "roadfuel_queue_depth",
			Help:        "Rows left in a pending queue after the last pass.",
			ConstLabels: constLabels,
		}, []string{"entity"}),
		reachability: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "roadfuel_reachability_events_total",
			Help:        "Reachability transitions observed.",
			ConstLabels: constLabels,
		}, []string{"connected"}),
		orchestration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "roadfuel_sync_orchestrations_total",
			Help:        "Orchestrator runs by trigger and result.",
			ConstLabels: constLabels,
		}, []string{"trigger", "result"}),
	}

	registerer.MustRegister(
		m.passes,
		m.passDuration,
		m.rows,
		m.writes,
		m.skipped,
		m.queueDepth,
		m.reachability,
		m.orchestration,
	)
	return m
}

func (m *SyncMetrics) ObservePass(entity, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(entity, result).Inc()
	m.passDuration.WithLabelValues(entity).Observe(elapsed.Seconds())
}

func (m *SyncMetrics) AddRows(entity, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rows.WithLabelValues(entity, outcome).Add(float64(n))
}

func (m *SyncMetrics) IncWrite(entity, outcome string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(entity, outcome).Inc()
}

func (m *SyncMetrics) IncSkipped(entity string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(entity).Inc()
}

func (m *SyncMetrics) SetQueueDepth(entity string, depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(entity).Set(float64(depth))
}

func (m *SyncMetrics) IncReachability(connected bool) {
	if m == nil {
		return
	}
	label := "false"
	if connected {
		label = "true"
	}
	m.reachability.WithLabelValues(label).Inc()
}

func (m *SyncMetrics) IncOrchestration(trigger, result string) {
	if m == nil {
		return
	}
	m.orchestration.WithLabelValues(trigger, result).Inc()
}
