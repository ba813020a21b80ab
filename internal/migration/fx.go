package migration

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/billableusage/internal/config"
	remittancedomain "github.com/smallbiznis/billableusage/internal/remittance/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply brings the ledger schema up to date. Postgres uses the versioned SQL
// migrations; other drivers fall back to gorm's AutoMigrate.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if strings.EqualFold(cfg.DBType, "postgres") {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		log.Info("migrations applied", zap.String("driver", "postgres"))
		return nil
	}

	if err := conn.AutoMigrate(&remittancedomain.Remittance{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	log.Info("schema auto-migrated", zap.String("driver", cfg.DBType))
	return nil
}
