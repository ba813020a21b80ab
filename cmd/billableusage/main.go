package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billableusage/internal/billable"
	"github.com/smallbiznis/billableusage/internal/clock"
	"github.com/smallbiznis/billableusage/internal/config"
	"github.com/smallbiznis/billableusage/internal/contract"
	"github.com/smallbiznis/billableusage/internal/migration"
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

// Runs the consumers and the scheduler in one process.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		stream.Module,

		// Functional Domains
		product.Module,
		contract.Module,
		remittance.Module,
		billable.Module,
		reconciliation.Module,
		purge.Module,
		pipeline.ProducerModule,
		pipeline.Module,
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
