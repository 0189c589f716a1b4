package station

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
	queue   *offline.Queue[pendingStation, *pendingStation]
	drainer *offline.Drainer[pendingStation, *pendingStation]

	mu        sync.RWMutex
	confirmed []Station
}

func NewService(p Params) *Service {
	s := &Service{
		rt:    p.Runtime,
		api:   p.API,
		log:   p.Log.Named("station.service"),
		queue: offline.NewQueue[pendingStation](p.Runtime, Entity),
	}
	s.drainer = offline.NewDrainer(p.Runtime, s.queue, s.replay)
	return s
}

func (s *Service) Entity() string { return Entity }

// List fetches stations; the endpoint answers with a bare array.
func (s *Service) List(ctx context.Context) ([]Station, error) {
	resp, err := s.api.Do(ctx, http.MethodGet, "/service-stations", nil, nil)
	if err == nil {
		var items []apiStation
		if err = resp.Decode(&items); err == nil {
			stations := make([]Station, 0, len(items))
			for _, item := range items {
				stations = append(stations, item.toStation())
			}
			s.mu.Lock()
			s.confirmed = stations
			s.mu.Unlock()
			return s.Visible(ctx)
		}
		err = fmt.Errorf("decode service stations: %w", err)
	}

	s.log.Warn("station.list.failed", zap.String("reason", gateway.Reason(err)), zap.Error(err))
	s.mu.Lock()
	s.confirmed = nil
	s.mu.Unlock()
	visible, vErr := s.Visible(ctx)
	return visible, errors.Join(err, vErr)
}

func (s *Service) Visible(ctx context.Context) ([]Station, error) {
	s.mu.RLock()
	out := append([]Station(nil), s.confirmed...)
	s.mu.RUnlock()

	pending, err := s.queue.All(ctx)
	if err != nil {
		return out, fmt.Errorf("load pending stations: %w", err)
	}
	for _, row := range pending {
		out = append(out, row.toStation())
	}
	return out, nil
}

func (s *Service) Add(ctx context.Context, in CreateInput) (Station, error) {
	v := &validation.Errors{}
	name := v.Required("name", in.Name)
	location := v.Required("location", in.Location)
	price := v.Positive("fuel_price", in.FuelPrice)
	rating := v.Between("rating", in.Rating, 1, 5)
	if err := v.Err(); err != nil {
		return Station{}, err
	}

	row := &pendingStation{
		Name:      name,
		Location:  location,
		FuelPrice: wire.Fixed(price, 2),
		Rating:    wire.Fixed(rating, 1),
		IsGlobal:  in.IsGlobal,
	}
	row.IdempotencyKey = uuid.NewString()
	row.CreatedAt = wire.FormatISO(s.rt.Clock.Now())

	var created Station
	remoteErr := s.send(gateway.WithIdempotencyKey(ctx, row.IdempotencyKey), row, &created)
	err := s.rt.Fallback(ctx, Entity, remoteErr, s.queue.Enqueuer(row))
	switch {
	case err == nil:
		s.appendConfirmed(created)
		return created, nil
	case offline.IsQueued(err):
		return row.toStation(), err
	default:
		return Station{}, err
	}
}

func (s *Service) SyncPending(ctx context.Context, opts offline.SyncOptions) (offline.Result, error) {
	return s.drainer.Drain(ctx, opts)
}

func (s *Service) PendingCount(ctx context.Context) (int64, error) {
	return s.queue.Count(ctx)
}

// replay posts a queued station and records its server id so refuels
// queued against the placeholder can follow.
func (s *Service) replay(ctx context.Context, row *pendingStation) error {
	var created Station
	if err := s.send(ctx, row, &created); err != nil {
		return err
	}
	if created.ID == "" {
		return errors.New("created station without id")
	}
	if err := s.rt.IDMap.Put(ctx, Entity, row.PlaceholderID, created.ID); err != nil {
		return err
	}
	s.appendConfirmed(created)
	return nil
}

func (s *Service) send(ctx context.Context, row *pendingStation, out *Station) error {
	body, err := row.body()
	if err != nil {
		return &gateway.RejectedError{Body: err.Error()}
	}
	resp, err := s.api.Do(ctx, http.MethodPost, "/service-stations", body, nil)
	if err != nil {
		return err
	}
	var created apiStation
	if err := resp.Decode(&created); err != nil {
		return fmt.Errorf("decode created station: %w", err)
	}
	*out = created.toStation()
	return nil
}

func (s *Service) appendConfirmed(st Station) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.confirmed {
		if s.confirmed[i].ID == st.ID {
			s.confirmed[i] = st
			return
		}
	}
	s.confirmed = append(s.confirmed, st)
}
