package product

import (
	"github.com/smallbiznis/billableusage/internal/product/service"
	"go.uber.org/fx"
)

var Module = fx.Module("product.registry",
	fx.Provide(
		service.NewCatalogHolder,
		func(h *service.CatalogHolder) service.CatalogSource { return h },
		service.NewRegistry,
	),
)
