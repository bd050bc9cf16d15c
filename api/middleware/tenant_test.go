package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/storegrid-backend/internal/hostnames"
	"github.com/angelmondragon/storegrid-backend/internal/tenantdb"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/google/uuid"
)

type stubResolver struct {
	hosts map[string]*hostnames.Resolution
	seen  []string
}

func (s *stubResolver) Resolve(_ context.Context, host string) (*hostnames.Resolution, error) {
	s.seen = append(s.seen, host)
	if res, ok := s.hosts[hostnames.Normalize(host)]; ok {
		return res, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeUnknownHostname, "unknown hostname")
}

type stubTenants struct {
	err error
}

func (s stubTenants) Get(_ context.Context, storeID uuid.UUID) (*tenantdb.Handle, error) {
	if s.err != nil {
		return nil, s.err
	}
	return tenantdb.NewHandle(storeID, "shop", enums.DatabaseTypeSQLite, nil), nil
}

func TestTenantHostAttachesResolvedTenant(t *testing.T) {
	storeID := uuid.New()
	resolver := &stubResolver{hosts: map[string]*hostnames.Resolution{
		"shop.storegrid.test": {StoreID: storeID, Slug: "shop", IsActive: true, Status: enums.StoreStatusActive},
	}}

	var gotStore uuid.UUID
	var gotSlug string
	handler := TenantHost(resolver, stubTenants{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := TenantFromContext(r.Context()); h != nil {
			gotStore = h.StoreID
		}
		if res := ResolutionFromContext(r.Context()); res != nil {
			gotSlug = res.Slug
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/storefront/v1/ping", nil)
	req.Host = "Shop.StoreGrid.test:443"
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if gotStore != storeID || gotSlug != "shop" {
		t.Fatalf("unexpected tenant %s/%s", gotStore, gotSlug)
	}
}

func TestTenantHostRejectsUnknownHost(t *testing.T) {
	handler := TenantHost(&stubResolver{}, stubTenants{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for unknown hosts")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "nobody.example.com"
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestTenantHostSurfacesUnavailableTenant(t *testing.T) {
	storeID := uuid.New()
	resolver := &stubResolver{hosts: map[string]*hostnames.Resolution{
		"shop.storegrid.test": {StoreID: storeID, Slug: "shop", IsActive: true, Status: enums.StoreStatusActive},
	}}
	tenants := stubTenants{err: pkgerrors.New(pkgerrors.CodeTenantUnavailable, "store suspended")}
	handler := TenantHost(resolver, tenants, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run when the tenant is unavailable")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "shop.storegrid.test"
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestTenantHostRefusesStoresNotServing(t *testing.T) {
	cases := map[string]*hostnames.Resolution{
		"failed":      {StoreID: uuid.New(), Slug: "failed", IsActive: false, Status: enums.StoreStatusFailed},
		"deactivated": {StoreID: uuid.New(), Slug: "off", IsActive: false, Status: enums.StoreStatusActive},
		"suspended":   {StoreID: uuid.New(), Slug: "held", IsActive: true, Status: enums.StoreStatusSuspended},
	}
	for name, res := range cases {
		t.Run(name, func(t *testing.T) {
			resolver := &stubResolver{hosts: map[string]*hostnames.Resolution{"shop.storegrid.test": res}}
			handler := TenantHost(resolver, stubTenants{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run for a store that is not serving")
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Host = "shop.storegrid.test"
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			if resp.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected 503 got %d", resp.Code)
			}
		})
	}
}
