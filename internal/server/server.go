// Package server exposes the loopback API: session hand-over, the logbook
// (trips, refuels, stations) and diagnostics (queue depth, dead letters,
// manual sync, the active journey).
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/roadfuel/internal/clock"
	"github.com/smallbiznis/roadfuel/internal/config"
	"github.com/smallbiznis/roadfuel/internal/observability"
	obslogger "github.com/smallbiznis/roadfuel/internal/observability/logger"
	obstracing "github.com/smallbiznis/roadfuel/internal/observability/tracing"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/refuel"
	"github.com/smallbiznis/roadfuel/internal/session"
	"github.com/smallbiznis/roadfuel/internal/station"
	"github.com/smallbiznis/roadfuel/internal/syncer"
	"github.com/smallbiznis/roadfuel/internal/trip"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Log:             log,
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	return NewEngine(obsCfg, log)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.DiagnosticsAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("diagnostics server stopped", zap.String("addr", srv.Addr), zap.Error(err))
				}
			}()
			log.Info("diagnostics server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	orchestrator *syncer.Orchestrator
	deadLetters  *offline.DeadLetters
	sessions     *session.Manager
	trips        *trip.Service
	refuels      *refuel.Service
	stations     *station.Service
	clock        clock.Clock
	log          *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Orchestrator *syncer.Orchestrator
	DeadLetters  *offline.DeadLetters
	Sessions     *session.Manager
	Trips        *trip.Service
	Refuels      *refuel.Service
	Stations     *station.Service
	Clock        clock.Clock
	Log          *zap.Logger
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		orchestrator: p.Orchestrator,
		deadLetters:  p.DeadLetters,
		sessions:     p.Sessions,
		trips:        p.Trips,
		refuels:      p.Refuels,
		stations:     p.Stations,
		clock:        p.Clock,
		log:          p.Log.Named("http.server"),
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.GET("/pending", s.ListPending)
	v1.POST("/sync", s.TriggerSync)
	v1.GET("/journey", s.GetJourney)

	// -------- Session --------
	v1.POST("/session", s.BeginSession)
	v1.DELETE("/session", s.EndSession)

	// -------- Logbook --------
	v1.GET("/trips", s.ListTrips)
	v1.POST("/trips", s.StartTrip)
	v1.POST("/trips/:id/finish", s.FinishTrip)
	v1.POST("/trips/:id/complete", s.CompleteTrip)
	v1.GET("/refuels", s.ListRefuels)
	v1.POST("/refuels", s.CreateRefuel)
	v1.GET("/stations", s.ListStations)
	v1.POST("/stations", s.CreateStation)

	// -------- Dead letters --------
	v1.GET("/dead-letters", s.ListDeadLetters)
	v1.POST("/dead-letters/:id/requeue", s.RequeueDeadLetter)
}
