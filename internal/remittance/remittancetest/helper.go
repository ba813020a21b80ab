// Package remittancetest provides an in-memory ledger for tests.
package remittancetest

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billableusage/internal/remittance/domain"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDB opens a private in-memory SQLite database with the ledger schema.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// every connection to :memory: is a new database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(&domain.Remittance{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// Key returns a fully populated dimension key for org.
func Key(orgID string) domain.DimensionKey {
	return domain.DimensionKey{
		OrgID:              orgID,
		BillingAccountID:   "123456789012",
		BillingProvider:    "aws",
		ProductID:          "rosa",
		MetricID:           "Cores",
		SLA:                "Premium",
		Usage:              "Production",
		AccumulationPeriod: "2026-03",
	}
}

// Row builds a PENDING remittance for key.
func Row(node *snowflake.Node, key domain.DimensionKey, value int64, at time.Time) *domain.Remittance {
	r := &domain.Remittance{
		ID:                    node.Generate(),
		UUID:                  uuid.NewString(),
		RemittedPendingValue:  decimal.NewFromInt(value),
		RemittancePendingDate: at.UTC(),
		Status:                domain.StatusPending,
		TallyID:               "tally-1",
	}
	r.ApplyKey(key)
	return r
}
