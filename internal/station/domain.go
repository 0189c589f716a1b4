package station

import (
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/wire"
)

// Entity doubles as the id-mapping namespace refuels resolve against.
const Entity = "service_station"

type Station struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Location  string `json:"location"`
	FuelPrice string `json:"fuel_price"`
	Rating    string `json:"rating"`
	IsGlobal  bool   `json:"is_global"`
	Pending   bool   `json:"pending"`
}

type CreateInput struct {
	Name      string
	Location  string
	FuelPrice string
	// Rating must be within 1.0 and 5.0.
	Rating   string
	IsGlobal bool
}

type apiStation struct {
	ID        wire.ID     `json:"id"`
	Name      string      `json:"name"`
	Location  string      `json:"location"`
	FuelPrice wire.Number `json:"fuel_price"`
	Rating    wire.Number `json:"rating"`
	IsGlobal  wire.Bool   `json:"is_global"`
}

func (a apiStation) toStation() Station {
	return Station{
		ID:        a.ID.String(),
		Name:      a.Name,
		Location:  a.Location,
		FuelPrice: wire.Fixed(a.FuelPrice.Float(), 2),
		Rating:    wire.Fixed(a.Rating.Float(), 1),
		IsGlobal:  bool(a.IsGlobal),
	}
}

type pendingStation struct {
	offline.RowMeta
	Name      string `gorm:"column:name" json:"name"`
	Location  string `gorm:"column:location" json:"location"`
	FuelPrice string `gorm:"column:fuel_price" json:"fuel_price"`
	Rating    string `gorm:"column:rating" json:"rating"`
	IsGlobal  bool   `gorm:"column:is_global" json:"is_global"`
}

func (pendingStation) TableName() string { return "pending_service_stations" }

func (p pendingStation) toStation() Station {
	return Station{
		ID:        p.PlaceholderID,
		Name:      p.Name,
		Location:  p.Location,
		FuelPrice: p.FuelPrice,
		Rating:    p.Rating,
		IsGlobal:  p.IsGlobal,
		Pending:   true,
	}
}

func (p pendingStation) body() (map[string]any, error) {
	price, err := wire.ParseNumber(p.FuelPrice)
	if err != nil {
		return nil, err
	}
	rating, err := wire.ParseNumber(p.Rating)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"name":       p.Name,
		"location":   p.Location,
		"fuel_price": price,
		"rating":     rating,
		"is_global":  p.IsGlobal,
	}, nil
}
