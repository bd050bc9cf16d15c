package middleware

import (
	"context"

	"github.com/angelmondragon/storegrid-backend/internal/hostnames"
	"github.com/angelmondragon/storegrid-backend/internal/tenantdb"
)

type contextKey string

const (
	ctxUserID     contextKey = "user_id"
	ctxRole       contextKey = "actor_role"
	ctxTenant     contextKey = "tenant_handle"
	ctxResolution contextKey = "tenant_resolution"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// TenantFromContext returns the pooled tenant handle attached by TenantHost.
func TenantFromContext(ctx context.Context) *tenantdb.Handle {
	if ctx == nil {
		return nil
	}
	h, _ := ctx.Value(ctxTenant).(*tenantdb.Handle)
	return h
}

// ResolutionFromContext returns the hostname resolution attached by TenantHost.
func ResolutionFromContext(ctx context.Context) *hostnames.Resolution {
	if ctx == nil {
		return nil
	}
	res, _ := ctx.Value(ctxResolution).(*hostnames.Resolution)
	return res
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithRole injects the actor role into the context.
func WithRole(ctx context.Context, role string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRole, role)
}

// WithTenant attaches a resolved tenant to the context for downstream handlers.
func WithTenant(ctx context.Context, res *hostnames.Resolution, handle *tenantdb.Handle) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxResolution, res)
	return context.WithValue(ctx, ctxTenant, handle)
}
