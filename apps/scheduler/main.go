package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carlot/internal/anomaly"
	"github.com/smallbiznis/carlot/internal/clock"
	"github.com/smallbiznis/carlot/internal/cloudmetrics"
	"github.com/smallbiznis/carlot/internal/config"
	"github.com/smallbiznis/carlot/internal/inventory"
	"github.com/smallbiznis/carlot/internal/maintenance"
	"github.com/smallbiznis/carlot/internal/migration"
	"github.com/smallbiznis/carlot/internal/observability"
	"github.com/smallbiznis/carlot/internal/pipeline"
	"github.com/smallbiznis/carlot/internal/reconcile"
	"github.com/smallbiznis/carlot/internal/runlock"
	"github.com/smallbiznis/carlot/internal/scheduler"
	"github.com/smallbiznis/carlot/internal/server"
	"github.com/smallbiznis/carlot/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		inventory.Module,
		reconcile.Module,
		anomaly.Module,
		maintenance.Module,
		runlock.Module,
		pipeline.Module,

		scheduler.Module,
		server.Module,
		cloudmetrics.Module,
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
