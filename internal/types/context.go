package types

import (
	"context"
)

// ContextKey is the typed key used for values the engine stores on a context
type ContextKey string

const (
	CtxTenantID      ContextKey = "ctx_tenant_id"
	CtxEnvironmentID ContextKey = "ctx_environment_id"
	CtxUserID        ContextKey = "ctx_user_id"
	CtxRequestID     ContextKey = "ctx_request_id"
)

// DefaultUserID is used for system-initiated mutations (sweeps, event
// handlers) where no acting user is present
const DefaultUserID = "system"

// GetTenantID returns the tenant id from the context, if set
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(CtxTenantID).(string); ok {
		return v
	}
	return ""
}

// GetEnvironmentID returns the environment id from the context, if set
func GetEnvironmentID(ctx context.Context) string {
	if v, ok := ctx.Value(CtxEnvironmentID).(string); ok {
		return v
	}
	return ""
}

// GetUserID returns the acting user id from the context, falling back to the
// system user
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(CtxUserID).(string); ok && v != "" {
		return v
	}
	return DefaultUserID
}

// GetRequestID returns the request id from the context, if set
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(CtxRequestID).(string); ok {
		return v
	}
	return ""
}

// SetTenantID returns a child context carrying the tenant id
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, CtxTenantID, tenantID)
}

// SetEnvironmentID returns a child context carrying the environment id
func SetEnvironmentID(ctx context.Context, environmentID string) context.Context {
	return context.WithValue(ctx, CtxEnvironmentID, environmentID)
}

// SetUserID returns a child context carrying the acting user id
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, CtxUserID, userID)
}
