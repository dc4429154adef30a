package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/smallbiznis/seatledger/internal/membership"
	"github.com/smallbiznis/seatledger/internal/migration"
	"github.com/smallbiznis/seatledger/internal/notification"
	"github.com/smallbiznis/seatledger/internal/observability"
	"github.com/smallbiznis/seatledger/internal/plan"
	"github.com/smallbiznis/seatledger/internal/scheduler"
	"github.com/smallbiznis/seatledger/internal/server"
	"github.com/smallbiznis/seatledger/internal/subscriptionprovider"
	"github.com/smallbiznis/seatledger/internal/tenantlock"
	"github.com/smallbiznis/seatledger/pkg/db"
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

		// Collaborators
		plan.Module,
		membership.Module,
		subscriptionprovider.Module,
		notification.Module,
		tenantlock.Module,

		server.Module,
		scheduler.Module,
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
