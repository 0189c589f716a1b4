package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/roadfuel/internal/clock"
	"github.com/smallbiznis/roadfuel/internal/config"
	"github.com/smallbiznis/roadfuel/internal/connectivity"
	"github.com/smallbiznis/roadfuel/internal/gateway"
	"github.com/smallbiznis/roadfuel/internal/geo"
	"github.com/smallbiznis/roadfuel/internal/location"
	"github.com/smallbiznis/roadfuel/internal/migration"
	"github.com/smallbiznis/roadfuel/internal/observability"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/refuel"
	"github.com/smallbiznis/roadfuel/internal/server"
	"github.com/smallbiznis/roadfuel/internal/session"
	"github.com/smallbiznis/roadfuel/internal/station"
	"github.com/smallbiznis/roadfuel/internal/syncer"
	"github.com/smallbiznis/roadfuel/internal/trip"
	"github.com/smallbiznis/roadfuel/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Session and transport
		session.Module,
		gateway.Module,
		offline.Module,
		geo.Module,

		// Coordinators
		trip.Module,
		refuel.Module,
		station.Module,
		location.Module,

		// Sync
		connectivity.Module,
		syncer.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
