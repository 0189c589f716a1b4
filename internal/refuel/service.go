package refuel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/smallbiznis/roadfuel/internal/gateway"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/validation"
	"github.com/smallbiznis/roadfuel/internal/wire"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrStationNotSynced = errors.New("service_station_not_synced")

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
	queue   *offline.Queue[pendingRefuel, *pendingRefuel]
	drainer *offline.Drainer[pendingRefuel, *pendingRefuel]

	mu        sync.RWMutex
	confirmed []Refuel
}

func NewService(p Params) *Service {
	s := &Service{
		rt:    p.Runtime,
		api:   p.API,
		log:   p.Log.Named("refuel.service"),
		queue: offline.NewQueue[pendingRefuel](p.Runtime, Entity),
	}
	s.drainer = offline.NewDrainer(p.Runtime, s.queue, s.replay)
	return s
}

func (s *Service) Entity() string { return Entity }

func (s *Service) List(ctx context.Context) ([]Refuel, error) {
	resp, err := s.api.Do(ctx, http.MethodGet, "/refueling-logs", nil, nil)
	if err == nil {
		var items []apiRefuel
		if err = resp.Decode(&items); err == nil {
			logs := make([]Refuel, 0, len(items))
			for _, item := range items {
				logs = append(logs, item.toRefuel())
			}
			s.mu.Lock()
			s.confirmed = logs
			s.mu.Unlock()
			return s.Visible(ctx)
		}
		err = fmt.Errorf("decode refueling logs: %w", err)
	}

	s.log.Warn("refuel.list.failed", zap.String("reason", gateway.Reason(err)), zap.Error(err))
	s.mu.Lock()
	s.confirmed = nil
	s.mu.Unlock()
	visible, vErr := s.Visible(ctx)
	return visible, errors.Join(err, vErr)
}

func (s *Service) Visible(ctx context.Context) ([]Refuel, error) {
	s.mu.RLock()
	out := append([]Refuel(nil), s.confirmed...)
	s.mu.RUnlock()

	pending, err := s.queue.All(ctx)
	if err != nil {
		return out, fmt.Errorf("load pending refuel: %w", err)
	}
	for _, row := range pending {
		out = append(out, row.toRefuel())
	}
	return out, nil
}

// Add logs a refuel remote-first; amounts are stored with two decimals.
func (s *Service) Add(ctx context.Context, in CreateInput) (Refuel, error) {
	v := &validation.Errors{}
	stationID := v.Required("service_station_id", in.ServiceStationID)
	km := v.Positive("kilometers_at_refuel", in.KilometersAtRefuel)
	litres := v.Positive("litres_fueled", in.LitresFueled)
	price := v.Positive("price_per_litre", in.PricePerLitre)
	if err := v.Err(); err != nil {
		return Refuel{}, err
	}

	row := &pendingRefuel{
		ServiceStationID:   stationID,
		KilometersAtRefuel: wire.Fixed(km, 2),
		LitresFueled:       wire.Fixed(litres, 2),
		PricePerLitre:      wire.Fixed(price, 2),
	}
	row.IdempotencyKey = uuid.NewString()
	row.CreatedAt = wire.FormatISO(s.rt.Clock.Now())

	var created Refuel
	remoteErr := s.send(gateway.WithIdempotencyKey(ctx, row.IdempotencyKey), row, &created)
	err := s.rt.Fallback(ctx, Entity, remoteErr, s.queue.Enqueuer(row))
	switch {
	case err == nil:
		s.appendConfirmed(created)
		return created, nil
	case offline.IsQueued(err):
		return row.toRefuel(), err
	default:
		return Refuel{}, err
	}
}

func (s *Service) SyncPending(ctx context.Context, opts offline.SyncOptions) (offline.Result, error) {
	return s.drainer.Drain(ctx, opts)
}

func (s *Service) PendingCount(ctx context.Context) (int64, error) {
	return s.queue.Count(ctx)
}

func (s *Service) replay(ctx context.Context, row *pendingRefuel) error {
	var created Refuel
	if err := s.send(ctx, row, &created); err != nil {
		return err
	}
	s.appendConfirmed(created)
	return nil
}

// send posts row; a station that only exists as a placeholder is resolved
// through the id map first.
func (s *Service) send(ctx context.Context, row *pendingRefuel, out *Refuel) error {
	stationID, ok, err := s.rt.IDMap.Resolve(ctx, StationEntity, row.ServiceStationID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s: %w", ErrStationNotSynced, row.ServiceStationID, offline.ErrDeferred)
	}
	body, err := row.body(stationID)
	if err != nil {
		return &gateway.RejectedError{Body: err.Error()}
	}
	resp, err := s.api.Do(ctx, http.MethodPost, "/refueling-logs", body, nil)
	if err != nil {
		return err
	}
	var created apiRefuel
	if err := resp.Decode(&created); err != nil {
		return fmt.Errorf("decode created refuel: %w", err)
	}
	*out = created.toRefuel()
	if out.ServiceStationID == "" {
		out.ServiceStationID = stationID
	}
	if out.CreatedAt == "" {
		out.CreatedAt = row.CreatedAt
	}
	return nil
}

func (s *Service) appendConfirmed(r Refuel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.confirmed {
		if s.confirmed[i].ID == r.ID {
			s.confirmed[i] = r
			return
		}
	}
	s.confirmed = append(s.confirmed, r)
}
