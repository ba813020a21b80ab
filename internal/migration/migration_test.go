package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/billableusage/internal/config"
	remittancedomain "github.com/smallbiznis/billableusage/internal/remittance/domain"
	"github.com/smallbiznis/billableusage/internal/remittance/remittancetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	assert.Positive(t, ups)
	assert.Equal(t, ups, downs)
}

func TestApplyAutoMigratesNonPostgres(t *testing.T) {
	conn := remittancetest.NewDB(t)
	require.NoError(t, conn.Migrator().DropTable(&remittancedomain.Remittance{}))

	require.NoError(t, Apply(conn, config.Config{DBType: "sqlite"}, zap.NewNop()))
	assert.True(t, conn.Migrator().HasTable(&remittancedomain.Remittance{}))
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	assert.Error(t, RunMigrations(nil))
}
