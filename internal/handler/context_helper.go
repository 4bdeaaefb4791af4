package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/franciumm/edusite-api/internal/middleware"
	"github.com/franciumm/edusite-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func currentUser(c *gin.Context) (models.User, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		return models.User{}, false
	}
	return claims.User(), true
}
