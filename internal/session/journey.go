package session

import (
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/roadfuel/internal/geo"
)

var ErrJourneyActive = errors.New("journey_already_active")

// JourneyState is a copy of the active trip pointer.
type JourneyState struct {
	Started   bool          `json:"started"`
	TripID    string        `json:"trip_id,omitempty"`
	Start     *geo.Position `json:"start,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
}

// Journey is the one place the active trip id lives. At most one journey
// is active at a time.
type Journey struct {
	mu    sync.RWMutex
	state JourneyState
}

func NewJourney() *Journey { return &Journey{} }

func (j *Journey) Begin(tripID string, start *geo.Position, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Started {
		return ErrJourneyActive
	}
	j.state = JourneyState{Started: true, TripID: tripID, Start: copyPos(start), StartedAt: at}
	return nil
}

// End clears the journey if tripID is the active one.
func (j *Journey) End(tripID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.Started || j.state.TripID != tripID {
		return false
	}
	j.state = JourneyState{}
	return true
}

func (j *Journey) Snapshot() JourneyState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := j.state
	s.Start = copyPos(s.Start)
	return s
}

func (j *Journey) Active() (string, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state.TripID, j.state.Started
}

// Rebind swaps a placeholder trip id for the server id once the trip synced.
func (j *Journey) Rebind(localID, serverID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.Started || j.state.TripID != localID {
		return false
	}
	j.state.TripID = serverID
	return true
}

func (j *Journey) Reset() {
	j.mu.Lock()
	j.state = JourneyState{}
	j.mu.Unlock()
}

func copyPos(p *geo.Position) *geo.Position {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
