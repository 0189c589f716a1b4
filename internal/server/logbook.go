package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/refuel"
	"github.com/smallbiznis/roadfuel/internal/station"
	"github.com/smallbiznis/roadfuel/internal/trip"
	"github.com/smallbiznis/roadfuel/internal/wire"
)

// numeric keeps form numbers as text; JSON numbers and strings both bind.
type numeric string

func (n *numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*n = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = numeric(s)
	default:
		var num json.Number
		if err := json.Unmarshal(data, &num); err != nil {
			return err
		}
		*n = numeric(num.String())
	}
	return nil
}

// writeResult answers a remote-first write: 201 when the API confirmed it,
// 202 when it was saved for later sync.
func writeResult(c *gin.Context, data any, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"data": data})
	case offline.IsQueued(err):
		c.JSON(http.StatusAccepted, gin.H{
			"data":   data,
			"queued": true,
			"reason": offline.QueueReason(err),
		})
	default:
		AbortWithError(c, err)
	}
}

// listResult answers a list call. A remote failure still returns the
// pending view, flagged as stale.
func listResult[T any](c *gin.Context, items []T, err error) {
	if err != nil && isUnauthorized(err) {
		AbortWithError(c, err)
		return
	}
	if items == nil {
		items = []T{}
	}
	resp := gin.H{"data": items}
	if err != nil {
		resp["stale"] = true
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) now() string {
	return wire.FormatTimestamp(s.clock.Now())
}

// -------- Trips --------

type startTripRequest struct {
	Origin              string  `json:"origin"`
	Destination         string  `json:"destination"`
	BeginningKilometers numeric `json:"beginning_kilometers"`
	StartedAt           string  `json:"started_at"`
}

func (s *Server) ListTrips(c *gin.Context) {
	trips, err := s.trips.List(c.Request.Context())
	listResult(c, trips, err)
}

func (s *Server) StartTrip(c *gin.Context) {
	var req startTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	startedAt := strings.TrimSpace(req.StartedAt)
	if startedAt == "" {
		startedAt = s.now()
	}

	t, err := s.trips.Start(c.Request.Context(), trip.CreateInput{
		Origin:              req.Origin,
		Destination:         req.Destination,
		BeginningKilometers: string(req.BeginningKilometers),
		StartedAt:           startedAt,
	})
	writeResult(c, t, err)
}

type finishTripRequest struct {
	EndingKilometers numeric `json:"ending_kilometers"`
	EndedAt          string  `json:"ended_at"`
}

func (s *Server) FinishTrip(c *gin.Context) {
	var req finishTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	endedAt := strings.TrimSpace(req.EndedAt)
	if endedAt == "" {
		endedAt = s.now()
	}

	res, err := s.trips.Finish(c.Request.Context(), c.Param("id"), string(req.EndingKilometers), endedAt)
	writeResult(c, res, err)
}

type completeTripRequest struct {
	EndedAt string `json:"ended_at"`
}

// CompleteTrip finishes with the odometer derived from the travelled distance.
func (s *Server) CompleteTrip(c *gin.Context) {
	var req completeTripRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	endedAt := strings.TrimSpace(req.EndedAt)
	if endedAt == "" {
		endedAt = s.now()
	}

	res, err := s.trips.Complete(c.Request.Context(), c.Param("id"), endedAt)
	writeResult(c, res, err)
}

// -------- Refuels --------

type createRefuelRequest struct {
	ServiceStationID   wire.ID `json:"service_station_id"`
	KilometersAtRefuel numeric `json:"kilometers_at_refuel"`
	LitresFueled       numeric `json:"litres_fueled"`
	PricePerLitre      numeric `json:"price_per_litre"`
}

func (s *Server) ListRefuels(c *gin.Context) {
	refuels, err := s.refuels.List(c.Request.Context())
	listResult(c, refuels, err)
}

func (s *Server) CreateRefuel(c *gin.Context) {
	var req createRefuelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	r, err := s.refuels.Add(c.Request.Context(), refuel.CreateInput{
		ServiceStationID:   req.ServiceStationID.String(),
		KilometersAtRefuel: string(req.KilometersAtRefuel),
		LitresFueled:       string(req.LitresFueled),
		PricePerLitre:      string(req.PricePerLitre),
	})
	writeResult(c, r, err)
}

// -------- Service stations --------

type createStationRequest struct {
	Name      string  `json:"name"`
	Location  string  `json:"location"`
	FuelPrice numeric `json:"fuel_price"`
	Rating    numeric `json:"rating"`
	IsGlobal  bool    `json:"is_global"`
}

func (s *Server) ListStations(c *gin.Context) {
	stations, err := s.stations.List(c.Request.Context())
	listResult(c, stations, err)
}

func (s *Server) CreateStation(c *gin.Context) {
	var req createStationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	st, err := s.stations.Add(c.Request.Context(), station.CreateInput{
		Name:      req.Name,
		Location:  req.Location,
		FuelPrice: string(req.FuelPrice),
		Rating:    string(req.Rating),
		IsGlobal:  req.IsGlobal,
	})
	writeResult(c, st, err)
}
