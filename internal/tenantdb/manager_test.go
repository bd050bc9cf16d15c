package tenantdb

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/storegrid-backend/internal/credentials"
	"github.com/angelmondragon/storegrid-backend/pkg/config"
	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var vaultKey = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	registry *gorm.DB
	vault    *credentials.Vault
	opens    atomic.Int32
	fail     atomic.Bool
	delay    time.Duration
	bus      *fakeBus
	manager  *Manager
}

type fakeBus struct {
	mu        sync.Mutex
	published []uuid.UUID
	ch        chan uuid.UUID
}

func (b *fakeBus) Publish(_ context.Context, storeID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, storeID)
	return nil
}

func (b *fakeBus) Subscribe(context.Context) (<-chan uuid.UUID, func() error, error) {
	return b.ch, func() error { return nil }, nil
}

func (b *fakeBus) Published() []uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uuid.UUID(nil), b.published...)
}

func newFixture(t *testing.T, delay time.Duration) *fixture {
	t.Helper()
	vault, err := credentials.New(vaultKey, nil)
	require.NoError(t, err)

	f := &fixture{
		registry: dbtest.NewSQLite(t),
		vault:    vault,
		delay:    delay,
		bus:      &fakeBus{ch: make(chan uuid.UUID, 4)},
	}
	opener := func(ctx context.Context, dbType enums.DatabaseType, dsn string, pool db.PoolOptions) (*gorm.DB, error) {
		f.opens.Add(1)
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		if f.fail.Load() {
			return nil, errors.New("connection refused")
		}
		return DefaultOpener(ctx, dbType, dsn, pool)
	}

	manager, err := NewManager(ManagerParams{
		Repo:   NewRepository(f.registry),
		Vault:  vault,
		Opener: opener,
		Config: config.TenantConfig{
			MaxOpenConns:    2,
			ConnectTimeout:  time.Second,
			ConnectAttempts: 3,
			BackoffBase:     time.Millisecond,
			BackoffMax:      5 * time.Millisecond,
		},
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Bus:    f.bus,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	f.manager = manager
	return f
}

func (f *fixture) seedStore(t *testing.T, slug string, status enums.StoreStatus) uuid.UUID {
	t.Helper()
	user := models.User{Email: slug + "@example.com"}
	require.NoError(t, f.registry.Create(&user).Error)
	store := models.Store{
		UserID:             user.ID,
		Slug:               slug,
		Name:               slug,
		Status:             status,
		IsActive:           status.IsServing(),
		ProvisioningStatus: enums.ProvisioningStatusCompleted,
	}
	require.NoError(t, f.registry.Create(&store).Error)

	sealed, err := f.vault.Encrypt(dbtest.MemoryDSN(t))
	require.NoError(t, err)
	require.NoError(t, f.registry.Create(&models.StoreDatabase{
		StoreID:                   store.ID,
		DatabaseType:              enums.DatabaseTypeSQLite,
		ConnectionStringEncrypted: sealed,
		ConnectionStatus:          enums.ConnectionStatusPending,
	}).Error)
	return store.ID
}

func (f *fixture) connection(t *testing.T, storeID uuid.UUID) models.StoreDatabase {
	t.Helper()
	var row models.StoreDatabase
	require.NoError(t, f.registry.Where("store_id = ?", storeID).Take(&row).Error)
	return row
}

func TestGetReusesPooledHandle(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	storeID := f.seedStore(t, "acme", enums.StoreStatusActive)

	first, err := f.manager.Get(ctx, storeID)
	require.NoError(t, err)
	second, err := f.manager.Get(ctx, storeID)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "acme", first.Slug)
	assert.Equal(t, enums.DatabaseTypeSQLite, first.DatabaseType)
	assert.EqualValues(t, 1, f.opens.Load())
	assert.Equal(t, 1, f.manager.Pooled())

	row := f.connection(t, storeID)
	assert.Equal(t, enums.ConnectionStatusConnected, row.ConnectionStatus)
	assert.NotNil(t, row.LastConnectionTest)
	assert.Nil(t, row.LastConnectionError)
}

func TestGetKeepsTenantsIsolated(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	acme := f.seedStore(t, "acme", enums.StoreStatusActive)
	globex := f.seedStore(t, "globex", enums.StoreStatusDemo)

	a, err := f.manager.Get(ctx, acme)
	require.NoError(t, err)
	g, err := f.manager.Get(ctx, globex)
	require.NoError(t, err)

	require.NoError(t, a.DB(ctx).Exec("CREATE TABLE notes (body TEXT)").Error)
	require.NoError(t, a.DB(ctx).Exec("INSERT INTO notes (body) VALUES ('acme only')").Error)

	assert.False(t, g.DB(ctx).Migrator().HasTable("notes"))
	assert.True(t, a.DB(ctx).Migrator().HasTable("notes"))
	assert.Equal(t, 2, f.manager.Pooled())
}

func TestGetCollapsesConcurrentMisses(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	ctx := context.Background()
	storeID := f.seedStore(t, "acme", enums.StoreStatusActive)

	var wg sync.WaitGroup
	handles := make([]*Handle, 8)
	errs := make([]error, 8)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = f.manager.Get(ctx, storeID)
		}(i)
	}
	wg.Wait()

	for i := range handles {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i])
	}
	assert.EqualValues(t, 1, f.opens.Load())
}

func TestGetRefusesSuspendedAndInactiveStores(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	for _, status := range []enums.StoreStatus{enums.StoreStatusSuspended, enums.StoreStatusInactive} {
		storeID := f.seedStore(t, "store-"+string(status), status)
		_, err := f.manager.Get(ctx, storeID)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTenantUnavailable), "%s: %v", status, err)
	}
	assert.Zero(t, f.opens.Load())
	assert.Zero(t, f.manager.Pooled())
}

func TestGetRefusesFailedAndDeactivatedStores(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	failed := f.seedStore(t, "broken", enums.StoreStatusFailed)
	deactivated := f.seedStore(t, "paused", enums.StoreStatusActive)
	require.NoError(t, f.registry.Model(&models.Store{}).Where("id = ?", deactivated).Update("is_active", false).Error)

	for _, id := range []uuid.UUID{failed, deactivated} {
		_, err := f.manager.Get(ctx, id)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTenantUnavailable), "%s: %v", id, err)
	}
	assert.Zero(t, f.opens.Load())
	assert.Zero(t, f.manager.Pooled())
}

func TestGetAllowsStoresStillProvisioning(t *testing.T) {
	f := newFixture(t, 0)
	storeID := f.seedStore(t, "fresh", enums.StoreStatusProvisioning)

	_, err := f.manager.Get(context.Background(), storeID)
	require.NoError(t, err)
}

func TestGetUnknownStoreAndMissingDatabase(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.manager.Get(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	user := models.User{Email: "bare@example.com"}
	require.NoError(t, f.registry.Create(&user).Error)
	store := models.Store{UserID: user.ID, Slug: "bare", Name: "bare", Status: enums.StoreStatusPendingDatabase}
	require.NoError(t, f.registry.Create(&store).Error)

	_, err = f.manager.Get(ctx, store.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTenantUnavailable), "got %v", err)
	assert.ErrorIs(t, err, ErrNoDatabase)
}

func TestGetRetriesThenRecordsFailure(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	storeID := f.seedStore(t, "acme", enums.StoreStatusActive)
	f.fail.Store(true)

	_, err := f.manager.Get(ctx, storeID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTenantUnavailable))
	assert.EqualValues(t, 3, f.opens.Load())
	assert.Zero(t, f.manager.Pooled())

	row := f.connection(t, storeID)
	assert.Equal(t, enums.ConnectionStatusFailed, row.ConnectionStatus)
	require.NotNil(t, row.LastConnectionError)
	assert.Contains(t, *row.LastConnectionError, "connection refused")
	assert.NotContains(t, *row.LastConnectionError, "file:")

	f.fail.Store(false)
	_, err = f.manager.Get(ctx, storeID)
	require.NoError(t, err)
	assert.Equal(t, enums.ConnectionStatusConnected, f.connection(t, storeID).ConnectionStatus)
}

func TestGetRejectsUndecryptableCredentials(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	storeID := f.seedStore(t, "acme", enums.StoreStatusActive)
	require.NoError(t, f.registry.Model(&models.StoreDatabase{}).
		Where("store_id = ?", storeID).
		Update("connection_string_encrypted", "v1:garbage").Error)

	_, err := f.manager.Get(ctx, storeID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTenantUnavailable))
	assert.Zero(t, f.opens.Load())
	assert.Equal(t, enums.ConnectionStatusFailed, f.connection(t, storeID).ConnectionStatus)
}

func TestMarkStaleRevalidatesBeforeReuse(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	storeID := f.seedStore(t, "acme", enums.StoreStatusActive)

	first, err := f.manager.Get(ctx, storeID)
	require.NoError(t, err)
	f.manager.MarkStale(storeID)

	second, err := f.manager.Get(ctx, storeID)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.EqualValues(t, 1, f.opens.Load())
}

func TestStaleHandleThatFailsPingIsReplaced(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	storeID := f.seedStore(t, "acme", enums.StoreStatusActive)

	first, err := f.manager.Get(ctx, storeID)
	require.NoError(t, err)
	sqlDB, err := first.conn.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	f.manager.MarkStale(storeID)

	second, err := f.manager.Get(ctx, storeID)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.EqualValues(t, 2, f.opens.Load())
}

func TestInvalidateEvictsAndPublishes(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	storeID := f.seedStore(t, "acme", enums.StoreStatusActive)

	first, err := f.manager.Get(ctx, storeID)
	require.NoError(t, err)
	require.NoError(t, f.manager.Invalidate(ctx, storeID))
	assert.Zero(t, f.manager.Pooled())
	assert.Equal(t, []uuid.UUID{storeID}, f.bus.Published())

	second, err := f.manager.Get(ctx, storeID)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.EqualValues(t, 2, f.opens.Load())
}

func TestInvalidateDuringConnectDiscardsOutdatedHandle(t *testing.T) {
	f := newFixture(t, 80*time.Millisecond)
	ctx := context.Background()
	storeID := f.seedStore(t, "acme", enums.StoreStatusActive)

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Get(ctx, storeID)
		done <- err
	}()
	require.Eventually(t, func() bool { return f.opens.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.registry.Model(&models.Store{}).Where("id = ?", storeID).
		Updates(map[string]any{"status": enums.StoreStatusSuspended, "is_active": false}).Error)
	require.NoError(t, f.manager.Invalidate(ctx, storeID))

	err := <-done
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTenantUnavailable), "%v", err)
	assert.Zero(t, f.manager.Pooled())
	assert.EqualValues(t, 1, f.opens.Load())
}

func TestInvalidateDuringConnectReopensWithCurrentTarget(t *testing.T) {
	f := newFixture(t, 60*time.Millisecond)
	ctx := context.Background()
	storeID := f.seedStore(t, "acme", enums.StoreStatusActive)

	done := make(chan *Handle, 1)
	go func() {
		h, err := f.manager.Get(ctx, storeID)
		assert.NoError(t, err)
		done <- h
	}()
	require.Eventually(t, func() bool { return f.opens.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.manager.Invalidate(ctx, storeID))

	h := <-done
	require.NotNil(t, h)
	assert.EqualValues(t, 2, f.opens.Load())
	assert.Equal(t, 1, f.manager.Pooled())

	again, err := f.manager.Get(ctx, storeID)
	require.NoError(t, err)
	assert.Same(t, h, again)
}

func TestListenEvictsRemoteInvalidations(t *testing.T) {
	f := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	storeID := f.seedStore(t, "acme", enums.StoreStatusActive)

	_, err := f.manager.Get(ctx, storeID)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.manager.Listen(ctx) }()
	f.bus.ch <- storeID

	require.Eventually(t, func() bool { return f.manager.Pooled() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCheckHealthRecordsOutcome(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	healthy := f.seedStore(t, "healthy", enums.StoreStatusActive)
	broken := f.seedStore(t, "broken", enums.StoreStatusActive)

	_, err := f.manager.Get(ctx, healthy)
	require.NoError(t, err)
	h, err := f.manager.Get(ctx, broken)
	require.NoError(t, err)
	sqlDB, err := h.conn.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	results := f.manager.CheckHealth(ctx)
	require.Len(t, results, 2)
	for _, res := range results {
		if res.StoreID == broken {
			assert.Error(t, res.Err)
		} else {
			assert.NoError(t, res.Err)
		}
	}
	assert.Equal(t, enums.ConnectionStatusFailed, f.connection(t, broken).ConnectionStatus)
	assert.Equal(t, enums.ConnectionStatusConnected, f.connection(t, healthy).ConnectionStatus)
	assert.True(t, h.stale.Load())
}

func TestCloseDropsHandlesAndRefusesNewOnes(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	storeID := f.seedStore(t, "acme", enums.StoreStatusActive)

	_, err := f.manager.Get(ctx, storeID)
	require.NoError(t, err)
	require.NoError(t, f.manager.Close())
	assert.Zero(t, f.manager.Pooled())

	_, err = f.manager.Get(ctx, storeID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTenantUnavailable))
}

func TestInvalidateAllKeepsManagerUsable(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	a := f.seedStore(t, "acme", enums.StoreStatusActive)
	b := f.seedStore(t, "globex", enums.StoreStatusActive)

	for _, id := range []uuid.UUID{a, b} {
		_, err := f.manager.Get(ctx, id)
		require.NoError(t, err)
	}
	f.manager.InvalidateAll()
	assert.Zero(t, f.manager.Pooled())
	assert.Empty(t, f.bus.Published())

	_, err := f.manager.Get(ctx, a)
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.opens.Load())
}
