package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
	"github.com/noah-isme/class-scheduler-api/pkg/response"
)

// RequireRoles admits callers whose token carries one of roles. It must run after JWT.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	names := make([]string, len(roles))
	for i, role := range roles {
		allowed[role] = struct{}{}
		names[i] = string(role)
	}
	denied := appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("requires one of %s", strings.Join(names, ", ")))

	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, denied)
			c.Abort()
			return
		}
		c.Next()
	}
}
