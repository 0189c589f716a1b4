// Package syncer drains every coordinator's queue when the network comes
// back, and on demand.
package syncer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/smallbiznis/roadfuel/internal/config"
	"github.com/smallbiznis/roadfuel/internal/gateway"
	obsmetrics "github.com/smallbiznis/roadfuel/internal/observability/metrics"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotReady is returned when no session or tenant is available.
var ErrNotReady = errors.New("sync_not_ready")

const (
	TriggerReachability = "reachability"
	TriggerInterval     = "interval"
	TriggerManual       = "manual"
)

// Reachability publishes connectivity transitions.
type Reachability interface {
	Subscribe() <-chan bool
}

type Params struct {
	fx.In

	Coordinators []offline.Coordinator `group:"coordinators"`
	Session      *session.Manager
	Reachability Reachability `optional:"true"`
	Config       config.Config
	SyncMetrics  *obsmetrics.SyncMetrics `optional:"true"`
	Log          *zap.Logger
}

// Summary is the outcome of one SyncAll call.
type Summary struct {
	Results []offline.Result
	Total   offline.Result
}

type Orchestrator struct {
	coordinators []offline.Coordinator
	session      *session.Manager
	events       <-chan bool
	concurrency  int
	interval     time.Duration
	metrics      *obsmetrics.SyncMetrics
	log          *zap.Logger
	tracer       trace.Tracer
}

func NewOrchestrator(p Params) *Orchestrator {
	coordinators := append([]offline.Coordinator(nil), p.Coordinators...)
	sort.SliceStable(coordinators, func(i, j int) bool {
		return coordinators[i].Entity() < coordinators[j].Entity()
	})
	concurrency := p.Config.SyncConcurrency
	if concurrency <= 0 {
		concurrency = len(coordinators)
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	// Subscribe before anything starts so the first transition is not lost.
	var events <-chan bool
	if p.Reachability != nil {
		events = p.Reachability.Subscribe()
	}
	return &Orchestrator{
		coordinators: coordinators,
		session:      p.Session,
		events:       events,
		concurrency:  concurrency,
		interval:     p.Config.SyncInterval,
		metrics:      p.SyncMetrics,
		log:          log.Named("syncer"),
		tracer:       otel.Tracer("roadfuel/syncer"),
	}
}

// Coordinators returns the registered coordinators ordered by entity.
func (o *Orchestrator) Coordinators() []offline.Coordinator {
	return append([]offline.Coordinator(nil), o.coordinators...)
}

// Ready reports whether a signed-in session with a tenant exists.
func (o *Orchestrator) Ready() bool {
	if _, ok := o.session.Current(); !ok {
		return false
	}
	return o.session.TenantDomain() != ""
}

// SyncAll drains every coordinator concurrently. Coordinators do not depend
// on each other; a row that needs another entity's server id is deferred by
// its own coordinator. A 401 tears down the session and stops coordinators
// that have not started yet. Other failures are joined and returned after
// every coordinator ran.
func (o *Orchestrator) SyncAll(ctx context.Context, opts offline.SyncOptions) (Summary, error) {
	if !o.Ready() {
		return Summary{}, ErrNotReady
	}

	ctx, span := o.tracer.Start(ctx, "sync.all", trace.WithAttributes(
		attribute.Int("sync.coordinators", len(o.coordinators)),
		attribute.Bool("sync.ignore_backoff", opts.IgnoreBackoff),
	))
	defer span.End()

	var (
		mu      sync.Mutex
		summary Summary
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, c := range o.coordinators {
		g.Go(func() error {
			if gctx.Err() != nil || !o.Ready() {
				return nil
			}
			res, err := c.SyncPending(gctx, opts)

			mu.Lock()
			defer mu.Unlock()
			summary.Results = append(summary.Results, res)
			summary.Total = summary.Total.Merge(res)
			switch {
			case err == nil:
				return nil
			case gateway.IsUnauthorized(err):
				return err
			case errors.Is(err, context.Canceled) && gctx.Err() != nil:
				return nil
			default:
				errs = append(errs, err)
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.log.Warn("sync.all.aborted", zap.Error(err))
		return summary, err
	}
	if ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync incomplete")
	}
	span.SetAttributes(
		attribute.Int("sync.synced", summary.Total.Synced),
		attribute.Int("sync.failed", summary.Total.Failed),
		attribute.Int64("sync.remaining", summary.Total.Remaining),
	)
	return summary, err
}

// Trigger runs SyncAll and records the outcome under trigger.
func (o *Orchestrator) Trigger(ctx context.Context, trigger string, opts offline.SyncOptions) (Summary, error) {
	start := time.Now()
	summary, err := o.SyncAll(ctx, opts)

	result := obsmetrics.PassResultOK
	switch {
	case errors.Is(err, ErrNotReady):
		result = obsmetrics.PassResultSkipped
	case gateway.IsUnauthorized(err):
		result = obsmetrics.PassResultUnauthorized
	case err != nil:
		result = obsmetrics.PassResultError
	}
	o.metrics.IncOrchestration(trigger, result)

	fields := []zap.Field{
		zap.String("trigger", trigger),
		zap.String("result", result),
		zap.Int("synced", summary.Total.Synced),
		zap.Int("failed", summary.Total.Failed),
		zap.Int("deferred", summary.Total.Deferred),
		zap.Int("buried", summary.Total.Buried),
		zap.Int64("remaining", summary.Total.Remaining),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	}
	switch {
	case result == obsmetrics.PassResultSkipped:
		o.log.Debug("sync.trigger.skipped", fields...)
	case err != nil:
		o.log.Warn("sync.trigger.finish", append(fields, zap.Error(err))...)
	default:
		o.log.Info("sync.trigger.finish", fields...)
	}
	return summary, err
}

// Run waits for reachability transitions and, when SYNC_INTERVAL is set,
// for the periodic timer. Every transition to connected triggers a full
// pass; flapping is not debounced because passes are idempotent.
func (o *Orchestrator) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if o.interval > 0 {
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case connected := <-o.events:
			o.metrics.IncReachability(connected)
			if !connected {
				o.log.Info("sync.reachability.lost")
				continue
			}
			_, _ = o.Trigger(ctx, TriggerReachability, offline.SyncOptions{})
		case <-tick:
			_, _ = o.Trigger(ctx, TriggerInterval, offline.SyncOptions{})
		}
	}
}

// Pending returns the queue depth of every coordinator.
func (o *Orchestrator) Pending(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(o.coordinators))
	for _, c := range o.coordinators {
		n, err := c.PendingCount(ctx)
		if err != nil {
			return nil, err
		}
		out[c.Entity()] += n
	}
	return out, nil
}
