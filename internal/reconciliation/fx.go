package reconciliation

import (
	"github.com/smallbiznis/billableusage/internal/reconciliation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation.service",
	fx.Provide(service.NewService),
)
