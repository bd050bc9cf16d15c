package tenantdb

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	"gorm.io/gorm"
)

// Opener opens and validates a tenant connection. The context bounds the ping.
type Opener func(ctx context.Context, dbType enums.DatabaseType, dsn string, pool db.PoolOptions) (*gorm.DB, error)

// DefaultOpener opens postgres/supabase tenants over pgx and sqlite tenants
// with the sqlite driver, then pings within ctx.
func DefaultOpener(ctx context.Context, dbType enums.DatabaseType, dsn string, pool db.PoolOptions) (*gorm.DB, error) {
	if !dbType.IsValid() {
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}
	conn, err := db.Open(dbType.Driver(), dsn, pool)
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return conn, nil
}

func closeConn(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
