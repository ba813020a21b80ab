package contract

import (
	"github.com/smallbiznis/billableusage/internal/contract/client"
	"github.com/smallbiznis/billableusage/internal/contract/service"
	"go.uber.org/fx"
)

var Module = fx.Module("contract.resolver",
	fx.Provide(
		client.NewHTTPClient,
		service.NewResolver,
	),
)
