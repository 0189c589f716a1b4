package location

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/smallbiznis/roadfuel/internal/gateway"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/trip"
	"github.com/smallbiznis/roadfuel/internal/validation"
	"github.com/smallbiznis/roadfuel/internal/wire"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Runtime *offline.Runtime
	API     gateway.API
	Log     *zap.Logger
}

type Service struct {
	rt      *offline.Runtime
	api     gateway.API
	log     *zap.Logger
	queue   *offline.Queue[pendingLocation, *pendingLocation]
	drainer *offline.Drainer[pendingLocation, *pendingLocation]
}

func NewService(p Params) *Service {
	s := &Service{
		rt:    p.Runtime,
		api:   p.API,
		log:   p.Log.Named("location.service"),
		queue: offline.NewQueue[pendingLocation](p.Runtime, Entity),
	}
	s.drainer = offline.NewDrainer(p.Runtime, s.queue, s.send)
	return s
}

func (s *Service) Entity() string { return Entity }

// Add posts a sample, queueing it when the API cannot take it.
func (s *Service) Add(ctx context.Context, sample Sample) error {
	v := &validation.Errors{}
	tripID := v.Required("trip_id", sample.TripID)
	if sample.Latitude < -90 || sample.Latitude > 90 {
		v.Add("latitude", "out_of_range", "latitude must be between -90 and 90")
	}
	if sample.Longitude < -180 || sample.Longitude > 180 {
		v.Add("longitude", "out_of_range", "longitude must be between -180 and 180")
	}
	if err := v.Err(); err != nil {
		return err
	}

	ts := sample.Timestamp
	if ts.IsZero() {
		ts = s.rt.Clock.Now()
	}
	row := &pendingLocation{
		Latitude:  wire.Fixed(sample.Latitude, 6),
		Longitude: wire.Fixed(sample.Longitude, 6),
		Timestamp: wire.FormatTimestamp(ts),
		TripID:    tripID,
	}
	row.IdempotencyKey = uuid.NewString()
	row.CreatedAt = wire.FormatISO(s.rt.Clock.Now())

	remoteErr := s.send(gateway.WithIdempotencyKey(ctx, row.IdempotencyKey), row)
	return s.rt.Fallback(ctx, Entity, remoteErr, s.queue.Enqueuer(row))
}

func (s *Service) SyncPending(ctx context.Context, opts offline.SyncOptions) (offline.Result, error) {
	return s.drainer.Drain(ctx, opts)
}

func (s *Service) PendingCount(ctx context.Context) (int64, error) {
	return s.queue.Count(ctx)
}

// send posts row once its trip has a server id.
func (s *Service) send(ctx context.Context, row *pendingLocation) error {
	tripID, ok, err := s.rt.IDMap.Resolve(ctx, trip.Entity, row.TripID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("trip %s: %w: %w", row.TripID, trip.ErrNotSynced, offline.ErrDeferred)
	}
	body, err := row.body(tripID)
	if err != nil {
		return &gateway.RejectedError{Body: err.Error()}
	}
	_, err = s.api.Do(ctx, http.MethodPost, "/locations", body, nil)
	return err
}
