package trip

import (
	"errors"

	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/wire"
)

const (
	Entity       = "trip"
	EntityUpdate = "trip_update"
)

var (
	ErrTripNotFound = errors.New("trip_not_found")
	// ErrNotSynced means the trip only exists as a placeholder, so the
	// update cannot be sent yet.
	ErrNotSynced = errors.New("trip_not_synced")
)

type Trip struct {
	ID                  string   `json:"id"`
	Origin              string   `json:"origin"`
	Destination         string   `json:"destination"`
	BeginningKilometers string   `json:"beginning_kilometers"`
	EndingKilometers    *string  `json:"ending_kilometers"`
	StartedAt           string   `json:"started_at"`
	EndedAt             *string  `json:"ended_at"`
	Active              bool     `json:"active"`
	EndNotificationSent bool     `json:"end_notification_sent"`
	CreatedAt           string   `json:"created_at"`
	StartLatitude       *float64 `json:"start_latitude,omitempty"`
	StartLongitude      *float64 `json:"start_longitude,omitempty"`
	Pending             bool     `json:"pending"`
}

type CreateInput struct {
	Origin              string
	Destination         string
	BeginningKilometers string
	// StartedAt accepts RFC3339 or the wire layout.
	StartedAt           string
	Active              bool
	EndNotificationSent bool
	StartLatitude       *float64
	StartLongitude      *float64
}

// FinishResult carries the distance so callers can derive the final
// odometer reading.
type FinishResult struct {
	Trip     Trip    `json:"trip"`
	Distance float64 `json:"distance"`
}

type apiTrip struct {
	ID                  wire.ID      `json:"id"`
	Origin              string       `json:"origin"`
	Destination         string       `json:"destination"`
	BeginningKilometers wire.Number  `json:"beginning_kilometers"`
	EndingKilometers    *wire.Number `json:"ending_kilometers"`
	StartedAt           string       `json:"started_at"`
	EndedAt             *string      `json:"ended_at"`
	Active              wire.Bool    `json:"active"`
	EndNotificationSent wire.Bool    `json:"end_notification_sent"`
	CreatedAt           string       `json:"created_at"`
	StartLatitude       *wire.Number `json:"start_latitude"`
	StartLongitude      *wire.Number `json:"start_longitude"`
}

func (a apiTrip) toTrip() Trip {
	t := Trip{
		ID:                  a.ID.String(),
		Origin:              a.Origin,
		Destination:         a.Destination,
		BeginningKilometers: a.BeginningKilometers.String(),
		StartedAt:           a.StartedAt,
		EndedAt:             a.EndedAt,
		Active:              bool(a.Active),
		EndNotificationSent: bool(a.EndNotificationSent),
		CreatedAt:           a.CreatedAt,
	}
	if a.EndingKilometers != nil {
		km := a.EndingKilometers.String()
		t.EndingKilometers = &km
	}
	if a.StartLatitude != nil && a.StartLongitude != nil {
		lat, lng := a.StartLatitude.Float(), a.StartLongitude.Float()
		t.StartLatitude, t.StartLongitude = &lat, &lng
	}
	return t
}

type pendingTrip struct {
	offline.RowMeta
	Origin              string   `gorm:"column:origin" json:"origin"`
	Destination         string   `gorm:"column:destination" json:"destination"`
	BeginningKilometers string   `gorm:"column:beginning_kilometers" json:"beginning_kilometers"`
	StartedAt           string   `gorm:"column:started_at" json:"started_at"`
	Active              bool     `gorm:"column:active" json:"active"`
	EndNotificationSent bool     `gorm:"column:end_notification_sent" json:"end_notification_sent"`
	StartLatitude       *float64 `gorm:"column:start_latitude" json:"start_latitude"`
	StartLongitude      *float64 `gorm:"column:start_longitude" json:"start_longitude"`
}

func (pendingTrip) TableName() string { return "pending_trips" }

func (p pendingTrip) toTrip() Trip {
	return Trip{
		ID:                  p.PlaceholderID,
		Origin:              p.Origin,
		Destination:         p.Destination,
		BeginningKilometers: p.BeginningKilometers,
		StartedAt:           p.StartedAt,
		Active:              p.Active,
		EndNotificationSent: p.EndNotificationSent,
		CreatedAt:           p.CreatedAt,
		StartLatitude:       p.StartLatitude,
		StartLongitude:      p.StartLongitude,
		Pending:             true,
	}
}

func (p pendingTrip) body() (map[string]any, error) {
	km, err := wire.ParseNumber(p.BeginningKilometers)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"origin":                p.Origin,
		"destination":           p.Destination,
		"beginning_kilometers":  km,
		"started_at":            p.StartedAt,
		"active":                p.Active,
		"end_notification_sent": p.EndNotificationSent,
	}, nil
}

// pendingUpdate is a queued PATCH /trips/{id}. TripID may be a placeholder.
type pendingUpdate struct {
	offline.RowMeta
	TripID           string `gorm:"column:trip_id" json:"trip_id"`
	EndingKilometers string `gorm:"column:ending_kilometers" json:"ending_kilometers"`
	EndedAt          string `gorm:"column:ended_at" json:"ended_at"`
	Active           bool   `gorm:"column:active" json:"active"`
}

func (pendingUpdate) TableName() string { return "pending_trip_updates" }

func (u pendingUpdate) body() (map[string]any, error) {
	km, err := wire.ParseNumber(u.EndingKilometers)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"ending_kilometers": km,
		"ended_at":          u.EndedAt,
		"active":            u.Active,
	}, nil
}

func (u pendingUpdate) apply(t *Trip) {
	km, ended := u.EndingKilometers, u.EndedAt
	t.EndingKilometers = &km
	t.EndedAt = &ended
	t.Active = u.Active
}
