package requestid

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header carries the request id in both directions.
const Header = "X-Request-ID"

const (
	ginKey = "request_id"
	maxLen = 128
)

type ctxKey struct{}

// Middleware reuses a sane inbound X-Request-ID or mints a UUID, and exposes it on
// the response, the gin context and the request context.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(Header))
		if id == "" || len(id) > maxLen {
			id = uuid.NewString()
		}

		c.Set(ginKey, id)
		c.Writer.Header().Set(Header, id)
		c.Request = c.Request.WithContext(WithValue(c.Request.Context(), id))

		c.Next()
	}
}

// Value returns the request id stored on the gin context.
func Value(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if v, ok := c.Get(ginKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithValue attaches id to ctx.
func WithValue(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request id carried by ctx, if any.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
