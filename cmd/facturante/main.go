package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/facturante/facturante/internal/clock"
	"github.com/facturante/facturante/internal/config"
	"github.com/facturante/facturante/internal/logger"
	"github.com/facturante/facturante/internal/migration"
	"github.com/facturante/facturante/internal/scheduler"
	"github.com/facturante/facturante/internal/seed"
	"github.com/facturante/facturante/internal/server"
	"github.com/facturante/facturante/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface plus the payment, invoice and public-link domains.
		server.Module,

		// Background status poller and optional demo data.
		scheduler.Module,
		seed.Module,
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
