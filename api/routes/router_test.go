package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/storegrid-backend/internal/hostnames"
	"github.com/angelmondragon/storegrid-backend/internal/provisioning"
	"github.com/angelmondragon/storegrid-backend/internal/stores"
	"github.com/angelmondragon/storegrid-backend/internal/tenantdb"
	pkgAuth "github.com/angelmondragon/storegrid-backend/pkg/auth"
	"github.com/angelmondragon/storegrid-backend/pkg/config"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubStores struct {
	stores.Service
}

func (stubStores) Get(_ context.Context, id uuid.UUID) (*stores.StoreDTO, error) {
	return &stores.StoreDTO{ID: id, Slug: "shop", Status: enums.StoreStatusActive}, nil
}

type stubHostnames struct {
	hostnames.Service
}

func (stubHostnames) Resolve(_ context.Context, host string) (*hostnames.Resolution, error) {
	return nil, pkgerrors.New(pkgerrors.CodeUnknownHostname, "unknown hostname")
}

type stubProvisioning struct {
	provisioning.Service
}

func (stubProvisioning) Start(_ context.Context, storeID uuid.UUID, _ provisioning.Options) (*provisioning.ProgressView, error) {
	return &provisioning.ProgressView{StoreID: storeID, Status: enums.StoreStatusPendingDatabase}, nil
}

type stubPool struct{}

func (stubPool) Get(context.Context, uuid.UUID) (*tenantdb.Handle, error) {
	return nil, pkgerrors.New(pkgerrors.CodeTenantUnavailable, "unavailable")
}
func (stubPool) Invalidate(context.Context, uuid.UUID) error { return nil }
func (stubPool) Pooled() int                                 { return 0 }

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "storegrid", ExpirationMinutes: 5},
	}
}

func newTestRouter(t *testing.T) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})
	return NewRouter(Params{
		Config:       cfg,
		Logger:       logg,
		DB:           stubPinger{},
		Redis:        stubPinger{},
		Gatherer:     prometheus.NewRegistry(),
		Stores:       stubStores{},
		Hostnames:    stubHostnames{},
		Tenants:      stubPool{},
		Provisioning: stubProvisioning{},
	}), cfg
}

func bearer(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{UserID: uuid.New(), Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, rec.Code)
		}
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	router, cfg := newTestRouter(t)
	path := "/api/admin/v1/stores/" + uuid.NewString()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleUser))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user token got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleAdmin))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin token got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
}

func TestProvisionRouteAnswersAccepted(t *testing.T) {
	router, cfg := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/stores/"+uuid.NewString()+"/provision", strings.NewReader(`{"demo":false}`))
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleAdmin))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rec.Code)
	}
}

func TestStorefrontUnknownHostIs404(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/storefront/v1/ping", nil)
	req.Host = "nobody.example.com"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestCreditRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}
