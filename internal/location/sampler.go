package location

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/roadfuel/internal/config"
	"github.com/smallbiznis/roadfuel/internal/gateway"
	"github.com/smallbiznis/roadfuel/internal/geo"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultSampleInterval = time.Minute

type SamplerParams struct {
	fx.In

	Service  *Service
	Provider geo.Provider
	Config   config.Config
	Log      *zap.Logger
}

// Sampler posts the device position every interval while a journey is
// active. The trip id is handed over at Start and never read from shared
// state.
type Sampler struct {
	svc      *Service
	provider geo.Provider
	interval time.Duration
	enabled  bool
	log      *zap.Logger

	mu     sync.Mutex
	tripID string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSampler(p SamplerParams) *Sampler {
	interval := p.Config.LocationSampleInterval
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	return &Sampler{
		svc:      p.Service,
		provider: p.Provider,
		interval: interval,
		enabled:  p.Config.LocationTracking,
		log:      p.Log.Named("location.sampler"),
	}
}

// Start samples immediately and then every interval for tripID, replacing
// any previous run.
func (s *Sampler) Start(tripID string) {
	if !s.enabled {
		return
	}
	s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.tripID, s.cancel, s.done = tripID, cancel, done
	s.mu.Unlock()

	s.log.Info("location.sampler.started", zap.String("trip_id", tripID), zap.Duration("interval", s.interval))
	go s.run(ctx, tripID, done)
}

func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done, tripID := s.cancel, s.done, s.tripID
	s.cancel, s.done, s.tripID = nil, nil, ""
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("location.sampler.stopped", zap.String("trip_id", tripID))
}

// Halt cancels the current run without waiting for it. A 401 inside a
// sample tears the session down and lands here from the run goroutine.
func (s *Sampler) Halt(reason string) {
	s.mu.Lock()
	cancel, tripID := s.cancel, s.tripID
	s.cancel, s.done, s.tripID = nil, nil, ""
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.log.Info("location.sampler.halted", zap.String("trip_id", tripID), zap.String("reason", reason))
}

// TripID is the trip being sampled, or "".
func (s *Sampler) TripID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripID
}

func (s *Sampler) run(ctx context.Context, tripID string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sample(ctx, tripID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx, tripID)
		}
	}
}

func (s *Sampler) sample(ctx context.Context, tripID string) {
	pos, err := s.provider.Current(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Debug("location.sample.skipped", zap.Error(err))
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	err = s.svc.Add(ctx, Sample{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Timestamp: pos.Timestamp,
		TripID:    tripID,
	})
	switch {
	case err == nil, offline.IsQueued(err):
	case gateway.IsUnauthorized(err):
		s.log.Warn("location.sample.unauthorized", zap.String("trip_id", tripID))
	default:
		s.log.Error("location.sample.failed", zap.String("trip_id", tripID), zap.Error(err))
	}
}
