package location

import (
	"strconv"
	"time"

	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/wire"
)

const Entity = "location"

// Sample is one position tagged with the trip it was taken on.
type Sample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	TripID    string    `json:"trip_id"`
}

type pendingLocation struct {
	offline.RowMeta
	Latitude  string `gorm:"column:latitude" json:"latitude"`
	Longitude string `gorm:"column:longitude" json:"longitude"`
	Timestamp string `gorm:"column:timestamp" json:"timestamp"`
	TripID    string `gorm:"column:trip_id" json:"trip_id"`
}

func (pendingLocation) TableName() string { return "pending_locations" }

func (p pendingLocation) body(tripID string) (map[string]any, error) {
	lat, err := strconv.ParseFloat(p.Latitude, 64)
	if err != nil {
		return nil, err
	}
	lng, err := strconv.ParseFloat(p.Longitude, 64)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"latitude":   lat,
		"longitude":  lng,
		"timestamp":  p.Timestamp,
		"trip_id":    wire.IDValue(tripID),
		"created_at": p.CreatedAt,
	}, nil
}
