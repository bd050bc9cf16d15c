// Package dbtest opens throwaway SQLite registries for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"gorm.io/gorm"
)

var seq atomic.Int64

// RegistryModels lists every master registry model.
var RegistryModels = []any{
	&models.User{},
	&models.Store{},
	&models.StoreDatabase{},
	&models.StoreHostname{},
	&models.TenantMigration{},
	&models.CreditUsage{},
	&models.ServiceCreditCost{},
}

// NewSQLite opens a private in-memory database with the registry schema applied.
// A single connection keeps writers serialized the way row locks would on Postgres.
func NewSQLite(t testing.TB) *gorm.DB {
	t.Helper()
	conn, err := db.Open(db.DialectSQLite, MemoryDSN(t), db.PoolOptions{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(RegistryModels...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

// MemoryDSN returns a shared-cache in-memory DSN unique to this test.
func MemoryDSN(t testing.TB) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
}
