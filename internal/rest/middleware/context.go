package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/subkernel/subkernel/internal/types"
)

const (
	headerTenantID      = "X-Tenant-ID"
	headerEnvironmentID = "X-Environment-ID"
	headerUserID        = "X-User-ID"
	headerRequestID     = "X-Request-ID"
)

// ContextMiddleware copies the tenant, environment and user headers into the
// request context so services and repositories can scope their work
func ContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if tenantID := c.GetHeader(headerTenantID); tenantID != "" {
			ctx = types.SetTenantID(ctx, tenantID)
		}
		if environmentID := c.GetHeader(headerEnvironmentID); environmentID != "" {
			ctx = types.SetEnvironmentID(ctx, environmentID)
		}
		if userID := c.GetHeader(headerUserID); userID != "" {
			ctx = types.SetUserID(ctx, userID)
		}

		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = types.GenerateUUID()
		}
		ctx = context.WithValue(ctx, types.CtxRequestID, requestID)
		c.Header(headerRequestID, requestID)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
