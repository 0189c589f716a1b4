package trip

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/smallbiznis/roadfuel/internal/gateway"
	"github.com/smallbiznis/roadfuel/internal/geo"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/session"
	"github.com/smallbiznis/roadfuel/internal/validation"
	"github.com/smallbiznis/roadfuel/internal/wire"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Tracker is told when a journey starts and stops.
type Tracker interface {
	Start(tripID string)
	Stop()
}

type Params struct {
	fx.In

	Runtime  *offline.Runtime
	API      gateway.API
	Session  *session.Manager
	Location geo.Provider
	Tracker  Tracker `optional:"true"`
	Log      *zap.Logger
}

type Service struct {
	rt       *offline.Runtime
	api      gateway.API
	journey  *session.Journey
	location geo.Provider
	tracker  Tracker
	log      *zap.Logger

	creates *offline.Queue[pendingTrip, *pendingTrip]
	updates *offline.Queue[pendingUpdate, *pendingUpdate]
	drainC  *offline.Drainer[pendingTrip, *pendingTrip]
	drainU  *offline.Drainer[pendingUpdate, *pendingUpdate]

	// lifecycle serializes Start, Finish and Complete.
	lifecycle sync.Mutex

	mu        sync.RWMutex
	confirmed []Trip
}

func NewService(p Params) *Service {
	s := &Service{
		rt:       p.Runtime,
		api:      p.API,
		journey:  p.Session.Journey(),
		location: p.Location,
		tracker:  p.Tracker,
		log:      p.Log.Named("trip.service"),
		creates:  offline.NewQueue[pendingTrip](p.Runtime, Entity),
		updates:  offline.NewQueue[pendingUpdate](p.Runtime, EntityUpdate),
	}
	s.drainC = offline.NewDrainer(p.Runtime, s.creates, s.replayCreate)
	s.drainU = offline.NewDrainer(p.Runtime, s.updates, s.replayUpdate)
	return s
}

func (s *Service) Entity() string { return Entity }

// List fetches confirmed trips. On failure the confirmed list is emptied and
// the pending view is still returned next to the error.
func (s *Service) List(ctx context.Context) ([]Trip, error) {
	resp, err := s.api.Do(ctx, http.MethodGet, "/trips", nil, nil)
	if err == nil {
		var items []apiTrip
		if err = resp.Decode(&items); err == nil {
			trips := make([]Trip, 0, len(items))
			for _, item := range items {
				trips = append(trips, item.toTrip())
			}
			s.setConfirmed(trips)
			s.restoreJourney(trips)
			return s.Visible(ctx)
		}
		err = fmt.Errorf("decode trips: %w", err)
	}

	s.log.Warn("trip.list.failed", zap.String("reason", gateway.Reason(err)), zap.Error(err))
	s.setConfirmed(nil)
	visible, vErr := s.Visible(ctx)
	return visible, errors.Join(err, vErr)
}

// Visible is the confirmed list plus queued trips, with queued finishes
// applied on top.
func (s *Service) Visible(ctx context.Context) ([]Trip, error) {
	s.mu.RLock()
	out := append([]Trip(nil), s.confirmed...)
	s.mu.RUnlock()

	pending, err := s.creates.All(ctx)
	if err != nil {
		return out, fmt.Errorf("load pending trips: %w", err)
	}
	for _, row := range pending {
		out = append(out, row.toTrip())
	}

	updates, err := s.updates.All(ctx)
	if err != nil {
		return out, fmt.Errorf("load pending trip updates: %w", err)
	}
	for _, u := range updates {
		id, ok, err := s.rt.IDMap.Resolve(ctx, Entity, u.TripID)
		if err != nil {
			return out, err
		}
		for i := range out {
			if out[i].ID == u.TripID || (ok && out[i].ID == id) {
				u.apply(&out[i])
			}
		}
	}
	return out, nil
}

// Add creates a trip remote-first. When the API is unreachable the trip is
// queued and returned with a placeholder id next to an offline.ErrQueued error.
func (s *Service) Add(ctx context.Context, in CreateInput) (Trip, error) {
	row, err := s.prepare(in)
	if err != nil {
		return Trip{}, err
	}
	body, err := row.body()
	if err != nil {
		return Trip{}, err
	}

	row.IdempotencyKey = uuid.NewString()
	var t Trip
	resp, remoteErr := s.api.Do(gateway.WithIdempotencyKey(ctx, row.IdempotencyKey), http.MethodPost, "/trips", body, nil)
	if remoteErr == nil {
		var created apiTrip
		if err := resp.Decode(&created); err != nil {
			return Trip{}, fmt.Errorf("decode created trip: %w", err)
		}
		t = created.toTrip()
		mergeCreate(&t, row)
	}

	err = s.rt.Fallback(ctx, Entity, remoteErr, s.creates.Enqueuer(row))
	switch {
	case err == nil:
		s.appendConfirmed(t)
		return t, nil
	case offline.IsQueued(err):
		return row.toTrip(), err
	default:
		return Trip{}, err
	}
}

// Start opens a journey: it captures the device position, creates the trip
// and marks it active. Only one journey may be active.
func (s *Service) Start(ctx context.Context, in CreateInput) (Trip, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if _, active := s.journey.Active(); active {
		return Trip{}, session.ErrJourneyActive
	}

	var start *geo.Position
	if pos, err := s.location.Current(ctx); err == nil {
		start = &pos
		in.StartLatitude = &pos.Latitude
		in.StartLongitude = &pos.Longitude
	} else {
		s.log.Warn("trip.start.position_unavailable", zap.Error(err))
	}
	in.Active = true

	t, err := s.Add(ctx, in)
	if err != nil && !offline.IsQueued(err) {
		return Trip{}, err
	}
	if bErr := s.journey.Begin(t.ID, start, s.rt.Clock.Now()); bErr != nil {
		return t, bErr
	}
	if s.tracker != nil {
		s.tracker.Start(t.ID)
	}
	s.log.Info("trip.journey.started", zap.String("trip_id", t.ID), zap.Bool("queued", err != nil))
	return t, err
}

// Finish closes trip id with the given odometer reading. The returned
// distance is the great-circle distance from the start position, or 0
// when no start position is known.
func (s *Service) Finish(ctx context.Context, id, endingKilometers, endedAt string) (FinishResult, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.finish(ctx, id, endingKilometers, endedAt, s.distance(ctx, id))
}

// Complete finishes with zero to learn the distance, then finishes again with
// beginning kilometers plus that distance.
func (s *Service) Complete(ctx context.Context, id, endedAt string) (FinishResult, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	distance := s.distance(ctx, id)
	first, err := s.finish(ctx, id, "0", endedAt, distance)
	if err != nil && !offline.IsQueued(err) {
		return first, err
	}
	begin, _ := strconv.ParseFloat(first.Trip.BeginningKilometers, 64)
	return s.finish(ctx, id, wire.Fixed(begin+distance, 2), endedAt, distance)
}

func (s *Service) finish(ctx context.Context, id, endingKilometers, endedAt string, distance float64) (FinishResult, error) {
	v := &validation.Errors{}
	id = v.Required("id", id)
	km := v.NonNegative("ending_kilometers", endingKilometers)
	ended, tsErr := wire.NormalizeTimestamp(endedAt)
	if tsErr != nil {
		v.Add("ended_at", "invalid_timestamp", "ended_at must be a timestamp")
	}
	if err := v.Err(); err != nil {
		return FinishResult{}, err
	}

	row := &pendingUpdate{
		TripID:           id,
		EndingKilometers: wire.Fixed(km, 2),
		EndedAt:          ended,
		Active:           false,
	}
	row.IdempotencyKey = uuid.NewString()
	enqueue := func(ctx context.Context) (string, error) {
		if err := s.updates.EnqueueReplacing(ctx, row, "trip_id = ?", id); err != nil {
			return "", err
		}
		return row.PlaceholderID, nil
	}

	serverID, mapped, err := s.rt.IDMap.Resolve(ctx, Entity, id)
	if err != nil {
		return FinishResult{}, err
	}

	var remoteErr error
	var updated *Trip
	if !mapped {
		remoteErr = fmt.Errorf("%w: %s: %w", ErrNotSynced, id, offline.ErrDeferred)
	} else {
		body, err := row.body()
		if err != nil {
			return FinishResult{}, err
		}
		resp, err := s.api.Do(gateway.WithIdempotencyKey(ctx, row.IdempotencyKey), http.MethodPatch, "/trips/"+serverID, body, nil)
		if err == nil {
			var patched apiTrip
			if dErr := resp.Decode(&patched); dErr == nil && patched.ID != "" {
				t := patched.toTrip()
				updated = &t
			}
		}
		remoteErr = err
	}

	err = s.rt.Fallback(ctx, EntityUpdate, remoteErr, enqueue)
	if err != nil && !offline.IsQueued(err) {
		return FinishResult{}, err
	}

	var t Trip
	if updated != nil {
		t = *updated
		s.replaceConfirmed(id, serverID, t)
	} else {
		t = s.lookup(ctx, id, serverID)
		row.apply(&t)
		if remoteErr == nil {
			s.replaceConfirmed(id, serverID, t)
		}
	}

	if s.journey.End(id) || (mapped && s.journey.End(serverID)) {
		if s.tracker != nil {
			s.tracker.Stop()
		}
		s.log.Info("trip.journey.finished", zap.String("trip_id", id), zap.Float64("distance_km", distance))
	}
	return FinishResult{Trip: t, Distance: distance}, err
}

// distance accepts either the placeholder or the server id of a synced trip.
func (s *Service) distance(ctx context.Context, id string) float64 {
	ids := []string{id}
	if serverID, ok, err := s.rt.IDMap.Resolve(ctx, Entity, id); err != nil {
		s.log.Warn("trip.finish.resolve_failed", zap.String("trip_id", id), zap.Error(err))
	} else if ok && serverID != id {
		ids = append(ids, serverID)
	}

	var start *geo.Position
	if snap := s.journey.Snapshot(); snap.Started && slices.Contains(ids, snap.TripID) && snap.Start != nil {
		start = snap.Start
	} else if t := s.lookup(ctx, ids...); t.StartLatitude != nil && t.StartLongitude != nil {
		start = &geo.Position{Latitude: *t.StartLatitude, Longitude: *t.StartLongitude}
	}
	if start == nil {
		s.log.Warn("trip.finish.distance_unavailable", zap.String("trip_id", id), zap.String("reason", "no start position"))
		return 0
	}
	end, err := s.location.Current(ctx)
	if err != nil {
		s.log.Warn("trip.finish.distance_unavailable", zap.String("trip_id", id), zap.Error(err))
		return 0
	}
	return geo.Distance(*start, end)
}

// SyncPending replays queued creates, then queued finishes.
func (s *Service) SyncPending(ctx context.Context, opts offline.SyncOptions) (offline.Result, error) {
	res, err := s.drainC.Drain(ctx, opts)
	if err != nil {
		return res, err
	}
	upd, err := s.drainU.Drain(ctx, opts)
	return res.Merge(upd), err
}

func (s *Service) PendingCount(ctx context.Context) (int64, error) {
	a, err := s.creates.Count(ctx)
	if err != nil {
		return 0, err
	}
	b, err := s.updates.Count(ctx)
	return a + b, err
}

func (s *Service) replayCreate(ctx context.Context, row *pendingTrip) error {
	body, err := row.body()
	if err != nil {
		return &gateway.RejectedError{Body: err.Error()}
	}
	resp, err := s.api.Do(ctx, http.MethodPost, "/trips", body, nil)
	if err != nil {
		return err
	}
	var created apiTrip
	if err := resp.Decode(&created); err != nil {
		return fmt.Errorf("decode created trip: %w", err)
	}
	if created.ID == "" {
		return errors.New("created trip without id")
	}
	t := created.toTrip()
	mergeCreate(&t, row)
	if err := s.rt.IDMap.Put(ctx, Entity, row.PlaceholderID, t.ID); err != nil {
		return err
	}
	if s.journey.Rebind(row.PlaceholderID, t.ID) {
		s.log.Info("trip.journey.rebound", zap.String("placeholder_id", row.PlaceholderID), zap.String("trip_id", t.ID))
	}
	s.appendConfirmed(t)
	return nil
}

func (s *Service) replayUpdate(ctx context.Context, row *pendingUpdate) error {
	serverID, ok, err := s.rt.IDMap.Resolve(ctx, Entity, row.TripID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("trip %s: %w", row.TripID, offline.ErrDeferred)
	}
	body, err := row.body()
	if err != nil {
		return &gateway.RejectedError{Body: err.Error()}
	}
	resp, err := s.api.Do(ctx, http.MethodPatch, "/trips/"+serverID, body, nil)
	if err != nil {
		return err
	}
	var patched apiTrip
	if err := resp.Decode(&patched); err == nil && patched.ID != "" {
		s.replaceConfirmed(row.TripID, serverID, patched.toTrip())
	}
	return nil
}

func (s *Service) prepare(in CreateInput) (*pendingTrip, error) {
	v := &validation.Errors{}
	origin := v.Required("origin", in.Origin)
	destination := v.Required("destination", in.Destination)
	km := v.NonNegative("beginning_kilometers", in.BeginningKilometers)
	startedAt, err := wire.NormalizeTimestamp(in.StartedAt)
	if err != nil {
		v.Add("started_at", "invalid_timestamp", "started_at must be a timestamp")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	row := &pendingTrip{
		Origin:              origin,
		Destination:         destination,
		BeginningKilometers: wire.Fixed(km, 2),
		StartedAt:           startedAt,
		Active:              in.Active,
		EndNotificationSent: in.EndNotificationSent,
		StartLatitude:       in.StartLatitude,
		StartLongitude:      in.StartLongitude,
	}
	row.CreatedAt = wire.FormatISO(s.rt.Clock.Now())
	return row, nil
}

// restoreJourney picks up an active trip after a restart.
func (s *Service) restoreJourney(trips []Trip) {
	if _, active := s.journey.Active(); active {
		return
	}
	for _, t := range trips {
		if !t.Active {
			continue
		}
		var start *geo.Position
		if t.StartLatitude != nil && t.StartLongitude != nil {
			start = &geo.Position{Latitude: *t.StartLatitude, Longitude: *t.StartLongitude}
		}
		if err := s.journey.Begin(t.ID, start, s.rt.Clock.Now()); err == nil {
			s.log.Info("trip.journey.restored", zap.String("trip_id", t.ID))
		}
		return
	}
}

func (s *Service) lookup(ctx context.Context, ids ...string) Trip {
	visible, _ := s.Visible(ctx)
	for _, t := range visible {
		for _, id := range ids {
			if t.ID == id {
				return t
			}
		}
	}
	return Trip{ID: ids[0]}
}

func (s *Service) setConfirmed(trips []Trip) {
	s.mu.Lock()
	s.confirmed = trips
	s.mu.Unlock()
}

func (s *Service) appendConfirmed(t Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.confirmed {
		if s.confirmed[i].ID == t.ID {
			s.confirmed[i] = t
			return
		}
	}
	s.confirmed = append(s.confirmed, t)
}

func (s *Service) replaceConfirmed(localID, serverID string, t Trip) {
	if t.ID == "" {
		t.ID = serverID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.confirmed {
		if s.confirmed[i].ID == localID || s.confirmed[i].ID == serverID {
			s.confirmed[i] = t
			return
		}
	}
}

// mergeCreate keeps locally known fields the API may not echo back.
func mergeCreate(t *Trip, row *pendingTrip) {
	if t.Origin == "" {
		t.Origin = row.Origin
	}
	if t.Destination == "" {
		t.Destination = row.Destination
	}
	if t.BeginningKilometers == "" || t.BeginningKilometers == "0" {
		t.BeginningKilometers = row.BeginningKilometers
	}
	if t.StartedAt == "" {
		t.StartedAt = row.StartedAt
	}
	if t.CreatedAt == "" {
		t.CreatedAt = row.CreatedAt
	}
	if t.StartLatitude == nil {
		t.StartLatitude, t.StartLongitude = row.StartLatitude, row.StartLongitude
	}
	if !t.Active && row.Active && t.EndedAt == nil {
		t.Active = true
	}
}
