package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/class-scheduler-api/pkg/middleware/requestid"
)

const (
	responseMetaKey = "response_meta"
	cacheHitKey     = "cache_hit"
	processingKey   = "processing_time_ms"
)

// WithResponseMeta creates the per-request meta map rendered in response envelopes.
// processing_time_ms is filled after the handler unless the handler set it.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		meta := map[string]interface{}{}
		if id := requestid.Value(c); id != "" {
			meta["request_id"] = id
		}
		c.Set(responseMetaKey, meta)
		c.Next()
		if _, set := meta[processingKey]; !set {
			meta[processingKey] = time.Since(start).Milliseconds()
		}
	}
}

// SetMeta records one response meta value.
func SetMeta(c *gin.Context, key string, value interface{}) {
	if meta := lookupMeta(c, true); meta != nil {
		meta[key] = value
	}
}

// SetCacheHit records whether the payload came from the cache.
func SetCacheHit(c *gin.Context, hit bool) {
	SetMeta(c, cacheHitKey, hit)
}

// ExtractMeta returns the meta map of the request, or nil when none was created.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	return lookupMeta(c, false)
}

func lookupMeta(c *gin.Context, create bool) map[string]interface{} {
	if c == nil {
		return nil
	}
	if raw, ok := c.Get(responseMetaKey); ok {
		if meta, ok := raw.(map[string]interface{}); ok {
			return meta
		}
	}
	if !create {
		return nil
	}
	meta := map[string]interface{}{}
	c.Set(responseMetaKey, meta)
	return meta
}
