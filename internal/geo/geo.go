// Package geo holds device positions, the location-provider collaborator and
// great-circle distance.
package geo

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrNoFix is returned when the provider has no usable position.
var ErrNoFix = errors.New("no_position_fix")

const earthRadiusKm = 6371.0

type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// Provider yields the device position on demand.
//
//go:generate mockgen -source=geo.go -destination=mock/mock_provider.go -package=mock
type Provider interface {
	Current(ctx context.Context) (Position, error)
}

// HaversineKm returns the great-circle distance between two coordinates.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// Distance is HaversineKm between two positions.
func Distance(from, to Position) float64 {
	return HaversineKm(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
}
