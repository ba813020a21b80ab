package remittance

import (
	"github.com/smallbiznis/billableusage/internal/remittance/repository"
	"github.com/smallbiznis/billableusage/internal/remittance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("remittance.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
