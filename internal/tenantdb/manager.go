package tenantdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/storegrid-backend/pkg/config"
	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/angelmondragon/storegrid-backend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Handle is a pooled connection to one tenant database. Callers must not keep
// a handle across unrelated long-running work.
type Handle struct {
	StoreID      uuid.UUID
	Slug         string
	DatabaseType enums.DatabaseType

	conn     *gorm.DB
	openedAt time.Time
	stale    atomic.Bool
}

// NewHandle wraps an already opened tenant connection outside the pool.
func NewHandle(storeID uuid.UUID, slug string, dbType enums.DatabaseType, conn *gorm.DB) *Handle {
	return &Handle{StoreID: storeID, Slug: slug, DatabaseType: dbType, conn: conn, openedAt: time.Now()}
}

// DB returns the tenant connection bound to ctx.
func (h *Handle) DB(ctx context.Context) *gorm.DB {
	return h.conn.WithContext(ctx)
}

// OpenedAt reports when the pool entry was created.
func (h *Handle) OpenedAt() time.Time {
	return h.openedAt
}

type targetLoader interface {
	LoadTarget(ctx context.Context, storeID uuid.UUID) (*Target, error)
	RecordConnection(ctx context.Context, storeID uuid.UUID, status enums.ConnectionStatus, errMsg *string, at time.Time) error
}

// Decrypter opens sealed connection strings.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Getter is the surface tenant-data collaborators depend on.
type Getter interface {
	Get(ctx context.Context, storeID uuid.UUID) (*Handle, error)
}

// ManagerParams configure the connection manager.
type ManagerParams struct {
	Repo    targetLoader
	Vault   Decrypter
	Opener  Opener
	Config  config.TenantConfig
	Logger  *logger.Logger
	Metrics *metrics.TenantPoolMetrics
	Bus     Bus
	Now     func() time.Time
}

// Manager is a cache-aside pool of tenant connections keyed by store id.
// Concurrent misses for the same store share a single open attempt.
type Manager struct {
	repo    targetLoader
	vault   Decrypter
	open    Opener
	cfg     config.TenantConfig
	logg    *logger.Logger
	metrics *metrics.TenantPoolMetrics
	bus     Bus
	now     func() time.Time

	mu      sync.RWMutex
	handles map[uuid.UUID]*Handle
	gens    map[uuid.UUID]uint64
	epoch   uint64
	group   singleflight.Group
	closed  bool
}

// errSuperseded reports that the store was invalidated while a connect was in
// flight, so the handle it opened may carry outdated credentials.
var errSuperseded = errors.New("tenant invalidated during connect")

const maxConnectPasses = 3

// NewManager builds a connection manager.
func NewManager(params ManagerParams) (*Manager, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("tenant repository required")
	}
	if params.Vault == nil {
		return nil, fmt.Errorf("credential vault required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	opener := params.Opener
	if opener == nil {
		opener = DefaultOpener
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	cfg := params.Config
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 3
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}
	return &Manager{
		repo:    params.Repo,
		vault:   params.Vault,
		open:    opener,
		cfg:     cfg,
		logg:    params.Logger,
		metrics: params.Metrics,
		bus:     params.Bus,
		now:     now,
		handles: make(map[uuid.UUID]*Handle),
		gens:    make(map[uuid.UUID]uint64),
	}, nil
}

// Get returns the pooled handle for storeID, opening it on a miss. A hit never
// touches the vault or the registry unless the handle was marked stale.
func (m *Manager) Get(ctx context.Context, storeID uuid.UUID) (*Handle, error) {
	if h := m.cached(storeID); h != nil {
		if !h.stale.Load() {
			return h, nil
		}
		if m.revalidate(ctx, h) {
			return h, nil
		}
		m.evict(storeID, h, "stale")
	}

	result, err, _ := m.group.Do(storeID.String(), func() (any, error) {
		if h := m.cached(storeID); h != nil && !h.stale.Load() {
			return h, nil
		}
		for pass := 1; ; pass++ {
			h, err := m.connect(ctx, storeID)
			if !errors.Is(err, errSuperseded) {
				return h, err
			}
			if pass == maxConnectPasses {
				return nil, pkgerrors.Wrap(pkgerrors.CodeTenantUnavailable, err, "tenant kept changing while connecting")
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return result.(*Handle), nil
}

func (m *Manager) cached(storeID uuid.UUID) *Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handles[storeID]
}

func (m *Manager) revalidate(ctx context.Context, h *Handle) bool {
	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	sqlDB, err := h.conn.DB()
	if err != nil {
		return false
	}
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return false
	}
	h.stale.Store(false)
	return true
}

func (m *Manager) connect(ctx context.Context, storeID uuid.UUID) (*Handle, error) {
	ctx = m.logg.WithStoreID(ctx, storeID.String())
	m.mu.RLock()
	gen, epoch := m.gens[storeID], m.epoch
	m.mu.RUnlock()

	target, err := m.repo.LoadTarget(ctx, storeID)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
		case errors.Is(err, ErrNoDatabase):
			return nil, pkgerrors.Wrap(pkgerrors.CodeTenantUnavailable, err, "store has no database")
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodeTenantUnavailable, err, "load tenant target")
		}
	}
	if reason := refusal(target); reason != "" {
		m.metrics.ObserveOpen(metrics.OutcomeRefused, 0)
		return nil, pkgerrors.New(pkgerrors.CodeTenantUnavailable, reason)
	}

	ctx = m.logg.WithFields(ctx, map[string]any{
		"slug":          target.Slug,
		"database_type": string(target.DatabaseType),
		"db_host":       target.Host,
		"db_port":       target.Port,
		"db_name":       target.DatabaseName,
	})

	dsn, err := m.vault.Decrypt(target.Ciphertext)
	if err != nil {
		m.record(ctx, storeID, enums.ConnectionStatusFailed, "connection string could not be decrypted")
		m.logg.Error(ctx, "tenant credential decryption failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeTenantUnavailable, err, "decrypt tenant credentials")
	}

	start := m.now()
	conn, err := m.openWithRetry(ctx, target.DatabaseType, dsn)
	elapsed := m.now().Sub(start)
	if err != nil {
		status := enums.ConnectionStatusFailed
		if errors.Is(err, context.DeadlineExceeded) {
			status = enums.ConnectionStatusTimeout
		}
		m.metrics.ObserveOpen(metrics.OutcomeFailure, elapsed)
		m.record(ctx, storeID, status, err.Error())
		m.logg.Error(ctx, "tenant database unavailable", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeTenantUnavailable, err, "open tenant database")
	}
	m.metrics.ObserveOpen(metrics.OutcomeSuccess, elapsed)
	m.record(ctx, storeID, enums.ConnectionStatusConnected, "")

	h := &Handle{
		StoreID:      storeID,
		Slug:         target.Slug,
		DatabaseType: target.DatabaseType,
		conn:         conn,
		openedAt:     m.now(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = closeConn(conn)
		return nil, pkgerrors.New(pkgerrors.CodeTenantUnavailable, "connection manager closed")
	}
	if m.gens[storeID] != gen || m.epoch != epoch {
		m.mu.Unlock()
		_ = closeConn(conn)
		m.logg.Warn(ctx, "tenant invalidated while connecting; reloading target")
		return nil, errSuperseded
	}
	if prev := m.handles[storeID]; prev != nil {
		_ = closeConn(prev.conn)
	}
	m.handles[storeID] = h
	pooled := len(m.handles)
	m.mu.Unlock()

	m.metrics.SetPooled(pooled)
	m.logg.Debug(ctx, "tenant connection pooled")
	return h, nil
}

// refusal explains why target must not be opened, or returns "". Stores still
// provisioning are opened with is_active=false; a serving status with
// is_active=false means an admin took the store offline.
func refusal(target *Target) string {
	switch target.Status {
	case enums.StoreStatusSuspended, enums.StoreStatusInactive, enums.StoreStatusFailed:
		return fmt.Sprintf("store is %s", target.Status)
	}
	if target.Status.IsServing() && !target.IsActive {
		return "store is deactivated"
	}
	return ""
}

func (m *Manager) openWithRetry(ctx context.Context, dbType enums.DatabaseType, dsn string) (*gorm.DB, error) {
	pool := db.PoolOptions{
		MaxOpenConns:    m.cfg.MaxOpenConns,
		MaxIdleConns:    m.cfg.MaxIdleConns,
		ConnMaxLifetime: m.cfg.ConnMaxLifetime,
		ConnMaxIdleTime: m.cfg.ConnMaxIdleTime,
	}

	backoff := retry.NewExponential(m.cfg.BackoffBase)
	backoff = retry.WithCappedDuration(m.cfg.BackoffMax, backoff)
	backoff = retry.WithMaxRetries(uint64(m.cfg.ConnectAttempts-1), backoff)

	var conn *gorm.DB
	var lastErr error
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
		opened, err := m.open(attemptCtx, dbType, dsn, pool)
		if err != nil {
			if attemptCtx.Err() != nil {
				err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			}
			lastErr = err
			m.logg.Warn(m.logg.WithField(ctx, "attempt", attempt), "tenant connection attempt failed")
			return retry.RetryableError(err)
		}
		conn = opened
		return nil
	})
	if err != nil {
		if lastErr != nil {
			return nil, fmt.Errorf("after %d attempts: %w", attempt, lastErr)
		}
		return nil, err
	}
	return conn, nil
}

func (m *Manager) record(ctx context.Context, storeID uuid.UUID, status enums.ConnectionStatus, errMsg string) {
	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	// the registry write must not outlive a caller that already gave up
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ConnectTimeout)
	defer cancel()
	if err := m.repo.RecordConnection(recordCtx, storeID, status, msg, m.now().UTC()); err != nil {
		m.logg.Error(ctx, "failed to record tenant connection status", err)
	}
}

// MarkStale forces the next Get to re-validate the handle before reuse.
func (m *Manager) MarkStale(storeID uuid.UUID) {
	if h := m.cached(storeID); h != nil {
		h.stale.Store(true)
	}
}

// Evict closes and drops the local handle without notifying peers.
func (m *Manager) Evict(storeID uuid.UUID, reason string) {
	m.evict(storeID, nil, reason)
}

// Invalidate evicts the handle here and on every peer subscribed to the bus.
func (m *Manager) Invalidate(ctx context.Context, storeID uuid.UUID) error {
	m.evict(storeID, nil, "invalidate")
	if m.bus == nil {
		return nil
	}
	if err := m.bus.Publish(ctx, storeID); err != nil {
		return fmt.Errorf("publish tenant invalidation: %w", err)
	}
	return nil
}

// evict removes storeID; when only is set, it is removed only if still current.
// An unconditional evict also supersedes any connect already in flight.
func (m *Manager) evict(storeID uuid.UUID, only *Handle, reason string) {
	m.mu.Lock()
	if only == nil {
		m.gens[storeID]++
		m.group.Forget(storeID.String())
	}
	h := m.handles[storeID]
	if h == nil || (only != nil && h != only) {
		m.mu.Unlock()
		return
	}
	delete(m.handles, storeID)
	pooled := len(m.handles)
	m.mu.Unlock()

	if err := closeConn(h.conn); err != nil {
		m.logg.Error(m.logg.WithStoreID(context.Background(), storeID.String()), "closing tenant handle", err)
	}
	m.metrics.IncEvicted(reason)
	m.metrics.SetPooled(pooled)
}

// InvalidateAll evicts every local handle. The manager stays usable.
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	m.epoch++
	ids := make([]uuid.UUID, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.evict(id, nil, "invalidate_all")
	}
}

// Listen evicts handles named on the invalidation bus until ctx is done.
func (m *Manager) Listen(ctx context.Context) error {
	if m.bus == nil {
		return nil
	}
	ids, closeFn, err := m.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe tenant invalidations: %w", err)
	}
	defer func() { _ = closeFn() }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id, ok := <-ids:
			if !ok {
				return nil
			}
			m.evict(id, nil, "remote_invalidate")
		}
	}
}

// Pooled returns the number of open handles.
func (m *Manager) Pooled() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

// HealthResult is the outcome of pinging one pooled handle.
type HealthResult struct {
	StoreID uuid.UUID
	Err     error
}

// CheckHealth pings every pooled handle, marks failures stale and records the outcome.
func (m *Manager) CheckHealth(ctx context.Context) []HealthResult {
	m.mu.RLock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.RUnlock()
	sort.Slice(handles, func(i, j int) bool { return handles[i].StoreID.String() < handles[j].StoreID.String() })

	results := make([]HealthResult, 0, len(handles))
	for _, h := range handles {
		if ctx.Err() != nil {
			break
		}
		pingCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		err := pingHandle(pingCtx, h)
		cancel()
		storeCtx := m.logg.WithStoreID(ctx, h.StoreID.String())
		if err != nil {
			h.stale.Store(true)
			status := enums.ConnectionStatusFailed
			if errors.Is(err, context.DeadlineExceeded) {
				status = enums.ConnectionStatusTimeout
			}
			m.record(storeCtx, h.StoreID, status, err.Error())
		} else {
			m.record(storeCtx, h.StoreID, enums.ConnectionStatusConnected, "")
		}
		results = append(results, HealthResult{StoreID: h.StoreID, Err: err})
	}
	return results
}

func pingHandle(ctx context.Context, h *Handle) error {
	sqlDB, err := h.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close drops every pooled handle. Get fails afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[uuid.UUID]*Handle)
	m.closed = true
	m.mu.Unlock()

	var errs error
	for _, h := range handles {
		errs = multierr.Append(errs, closeConn(h.conn))
	}
	m.metrics.SetPooled(0)
	return errs
}
