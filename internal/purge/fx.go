package purge

import "go.uber.org/fx"

var Module = fx.Module("purge.service",
	fx.Provide(NewService),
)
