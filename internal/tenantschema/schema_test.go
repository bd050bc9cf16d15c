package tenantschema

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTenant(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open(db.DialectSQLite, dbtest.MemoryDSN(t), db.PoolOptions{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func TestCatalogIsSortedAndNamed(t *testing.T) {
	catalog, err := Catalog()
	require.NoError(t, err)
	require.NotEmpty(t, catalog)

	names := map[string]bool{}
	for i, m := range catalog {
		names[m.Name] = true
		assert.NotEmpty(t, m.Statements, m.Name)
		if i > 0 {
			assert.Less(t, catalog[i-1].Version, m.Version)
		}
	}
	assert.True(t, names["add_id_to_cms_translations"])
	assert.True(t, names["add_seo_fields_to_products"])

	latest, err := LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, catalog[len(catalog)-1].Version, latest)
}

func TestCatalogRejectsEmptyMigration(t *testing.T) {
	fsys := fstest.MapFS{
		"m/20260101000000_empty.sql": {Data: []byte("-- nothing here\n")},
	}
	_, err := catalogFrom(fsys, "m")
	assert.Error(t, err)
}

func TestBaselineSeedAndDemoAreIdempotent(t *testing.T) {
	conn := openTenant(t)
	ctx := context.Background()
	seed := SeedInput{StoreName: "Acme", Slug: "acme", Country: "US"}

	for i := 0; i < 2; i++ {
		require.NoError(t, db.WithTx(ctx, conn, func(tx *gorm.DB) error {
			if err := ApplyBaseline(ctx, tx); err != nil {
				return err
			}
			if err := Seed(ctx, tx, seed); err != nil {
				return err
			}
			return ApplyDemo(ctx, tx)
		}))
	}

	counts := map[string]int64{
		"store_settings":   6,
		"languages":        1,
		"tax_classes":      1,
		"categories":       2,
		"products":         2,
		"cms_pages":        1,
		"cms_translations": 1,
	}
	for table, want := range counts {
		var got int64
		require.NoError(t, conn.Table(table).Count(&got).Error)
		assert.Equal(t, want, got, table)
	}

	var name string
	require.NoError(t, conn.Raw("SELECT setting_value FROM store_settings WHERE setting_key = ?", "store_name").Scan(&name).Error)
	assert.Equal(t, "Acme", name)
}

func TestMigrationsApplyOnBaseline(t *testing.T) {
	conn := openTenant(t)
	ctx := context.Background()
	require.NoError(t, ApplyBaseline(ctx, conn))

	catalog, err := Catalog()
	require.NoError(t, err)
	for _, m := range catalog {
		for _, stmt := range m.Statements {
			require.NoError(t, conn.Exec(stmt).Error, m.Name)
		}
	}
	assert.True(t, conn.Migrator().HasColumn("products", "meta_title"))
	assert.True(t, conn.Migrator().HasColumn("cms_translations", "id"))
}

func TestSplitStatements(t *testing.T) {
	body := "-- header\nCREATE TABLE a (id TEXT);\n\n-- note\nCREATE TABLE b (id TEXT);\n"
	stmts := SplitStatements(body)
	assert.Equal(t, []string{"CREATE TABLE a (id TEXT)", "CREATE TABLE b (id TEXT)"}, stmts)
	assert.Empty(t, SplitStatements("-- only comments\n"))
}
