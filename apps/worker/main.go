package main

import (
	"os"
	"strconv"

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
	"github.com/smallbiznis/billableusage/internal/stream"
	"github.com/smallbiznis/billableusage/pkg/db"
	"go.uber.org/fx"
)

// Consumes the pipeline topics. Scale out by running more workers in the
// same consumer group, each with its own NODE_ID.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		stream.Module,

		product.Module,
		contract.Module,
		remittance.Module,
		billable.Module,
		reconciliation.Module,
		purge.Module,
		pipeline.ProducerModule,
		pipeline.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	nodeID, err := strconv.ParseInt(os.Getenv("NODE_ID"), 10, 64)
	if err != nil {
		nodeID = 1
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		panic(err)
	}
	return node
}
