// Package middleware holds gin middleware shared by the HTTP entry points.
package middleware

import (
	"context"
	"strings"

	"classjudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// idHeaders lists the correlation ids echoed between request, context and response.
var idHeaders = []struct {
	header string
	key    contextkey.Key
}{
	{"X-Trace-Id", contextkey.TraceID},
	{"X-Request-Id", contextkey.RequestID},
}

// TraceContextMiddleware reuses incoming trace and request ids or mints new ones.
// Each id is stored in the gin context under its key name, in the request
// context, and in the response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		for _, h := range idHeaders {
			id := strings.TrimSpace(c.GetHeader(h.header))
			if id == "" {
				id = uuid.NewString()
			}
			c.Set(string(h.key), id)
			ctx = context.WithValue(ctx, h.key, id)
			c.Writer.Header().Set(h.header, id)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
