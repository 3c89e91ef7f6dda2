package handlers

import (
	"net/http"
	"strings"

	"mpesa-payment-service/internal/auth"

	"github.com/gin-gonic/gin"
)

const merchantContextKey = "currentMerchantId"

// AuthMiddleware validates bearer tokens and loads the verified merchant id
// into the request context. The payment core trusts this identity without
// re-verifying it.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		merchantId, err := auth.ParseToken(jwtSecret, parts[1])
		if err != nil || merchantId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(merchantContextKey, merchantId)
		c.Next()
	}
}

// CurrentMerchantId extracts the authenticated merchant id from context.
func CurrentMerchantId(c *gin.Context) (string, bool) {
	value, exists := c.Get(merchantContextKey)
	if !exists {
		return "", false
	}
	id, ok := value.(string)
	return id, ok && id != ""
}
