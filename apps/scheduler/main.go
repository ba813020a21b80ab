package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billableusage/internal/clock"
	"github.com/smallbiznis/billableusage/internal/config"
	"github.com/smallbiznis/billableusage/internal/observability"
	"github.com/smallbiznis/billableusage/internal/pipeline"
	"github.com/smallbiznis/billableusage/internal/product"
	"github.com/smallbiznis/billableusage/internal/purge"
	"github.com/smallbiznis/billableusage/internal/reconciliation"
	"github.com/smallbiznis/billableusage/internal/remittance"
	"github.com/smallbiznis/billableusage/internal/scheduler"
	"github.com/smallbiznis/billableusage/internal/stream"
	"github.com/smallbiznis/billableusage/pkg/db"
	"go.uber.org/fx"
)

// Runs only the periodic jobs. Nothing is consumed here; resends and purge
// triggers are published for the workers.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		stream.Module,

		// Domain services required by scheduler
		product.Module,
		remittance.Module,
		reconciliation.Module,
		purge.Module,
		pipeline.ProducerModule,

		// No consumers!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1023)
	if err != nil {
		panic(err)
	}
	return node
}
