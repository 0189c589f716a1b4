package refuel

import (
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/wire"
)

const Entity = "refuel"

// StationEntity is the id-mapping namespace of service stations.
const StationEntity = "service_station"

type Refuel struct {
	ID                 string `json:"id"`
	ServiceStationID   string `json:"service_station_id"`
	KilometersAtRefuel string `json:"kilometers_at_refuel"`
	LitresFueled       string `json:"litres_fueled"`
	PricePerLitre      string `json:"price_per_litre"`
	CreatedAt          string `json:"created_at"`
	Pending            bool   `json:"pending"`
}

// CreateInput mirrors the refuel form; numbers arrive as text.
type CreateInput struct {
	ServiceStationID   string
	KilometersAtRefuel string
	LitresFueled       string
	PricePerLitre      string
}

type apiRefuel struct {
	ID                 wire.ID     `json:"id"`
	ServiceStationID   wire.ID     `json:"service_station_id"`
	KilometersAtRefuel wire.Number `json:"kilometers_at_refuel"`
	LitresFueled       wire.Number `json:"litres_fueled"`
	PricePerLitre      wire.Number `json:"price_per_litre"`
	CreatedAt          string      `json:"created_at"`
}

func (a apiRefuel) toRefuel() Refuel {
	return Refuel{
		ID:                 a.ID.String(),
		ServiceStationID:   a.ServiceStationID.String(),
		KilometersAtRefuel: wire.Fixed(a.KilometersAtRefuel.Float(), 2),
		LitresFueled:       wire.Fixed(a.LitresFueled.Float(), 2),
		PricePerLitre:      wire.Fixed(a.PricePerLitre.Float(), 2),
		CreatedAt:          a.CreatedAt,
	}
}

type pendingRefuel struct {
	offline.RowMeta
	ServiceStationID   string `gorm:"column:service_station_id" json:"service_station_id"`
	KilometersAtRefuel string `gorm:"column:kilometers_at_refuel" json:"kilometers_at_refuel"`
	LitresFueled       string `gorm:"column:litres_fueled" json:"litres_fueled"`
	PricePerLitre      string `gorm:"column:price_per_litre" json:"price_per_litre"`
}

func (pendingRefuel) TableName() string { return "pending_refuel" }

func (p pendingRefuel) toRefuel() Refuel {
	return Refuel{
		ID:                 p.PlaceholderID,
		ServiceStationID:   p.ServiceStationID,
		KilometersAtRefuel: p.KilometersAtRefuel,
		LitresFueled:       p.LitresFueled,
		PricePerLitre:      p.PricePerLitre,
		CreatedAt:          p.CreatedAt,
		Pending:            true,
	}
}

// body renders the POST payload for stationID, which must already be a
// server id.
func (p pendingRefuel) body(stationID string) (map[string]any, error) {
	km, err := wire.ParseNumber(p.KilometersAtRefuel)
	if err != nil {
		return nil, err
	}
	litres, err := wire.ParseNumber(p.LitresFueled)
	if err != nil {
		return nil, err
	}
	price, err := wire.ParseNumber(p.PricePerLitre)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"service_station_id":   wire.IDValue(stationID),
		"kilometers_at_refuel": km,
		"litres_fueled":        litres,
		"price_per_litre":      price,
	}, nil
}
