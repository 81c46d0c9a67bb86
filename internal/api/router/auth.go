package router

import (
	"net/http"
	"strings"

	"github.com/cuongbtq/pricecards/internal/auth"
	"github.com/gin-gonic/gin"
)

const subjectKey = "auth_subject"

// AuthMiddleware requires a valid "Authorization: Bearer <token>" header
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims, err := auth.ParseToken(secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(subjectKey, claims.Subject)
		c.Next()
	}
}

// GetSubject returns the token subject set by AuthMiddleware
func GetSubject(c *gin.Context) string {
	return c.GetString(subjectKey)
}
