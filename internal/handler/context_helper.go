package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/class-scheduler-api/internal/middleware"
)

const anonymousActor = "anonymous"

// actorFromContext names the authenticated caller for audit fields.
func actorFromContext(c *gin.Context) string {
	claims := middleware.CurrentClaims(c)
	if claims == nil {
		return anonymousActor
	}
	if actor := claims.Actor(); actor != "" {
		return actor
	}
	return anonymousActor
}

func responseMeta(c *gin.Context) map[string]interface{} {
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return meta
}
