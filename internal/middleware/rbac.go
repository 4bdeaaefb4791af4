package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/franciumm/edusite-api/internal/models"
	appErrors "github.com/franciumm/edusite-api/pkg/errors"
	"github.com/franciumm/edusite-api/pkg/response"
)

// RequireRoles blocks requests whose authenticated role is not listed.
// Fine-grained checks (stream entries, permissions, windows) happen in
// the services; this only gates whole route groups.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireTeacher admits either teacher role.
func RequireTeacher() gin.HandlerFunc {
	return RequireRoles(models.RoleMainTeacher, models.RoleAssistant)
}
