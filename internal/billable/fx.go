package billable

import (
	redis "github.com/redis/go-redis/v9"
	billabledomain "github.com/smallbiznis/billableusage/internal/billable/domain"
	"github.com/smallbiznis/billableusage/internal/billable/service"
	"github.com/smallbiznis/billableusage/internal/config"
	"github.com/smallbiznis/billableusage/internal/lock"
	"go.uber.org/fx"
)

var Module = fx.Module("billable.service",
	fx.Provide(
		ProvideLocker,
		service.NewService,
	),
)

// ProvideLocker returns nil when key locking is disabled or Redis is absent.
func ProvideLocker(cfg config.Config, client *redis.Client) billabledomain.Locker {
	if !cfg.Remittance.LockEnabled || client == nil {
		return nil
	}
	return lock.NewRedisLocker(client)
}
