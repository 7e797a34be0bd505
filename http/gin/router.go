// Package gin mounts the relay API on a Gin engine.
// This package is a thin adapter that translates gin.Context to stdlib http
// patterns and delegates to the handlers of the http package.
package gin

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/permit-relay/auth"
	"github.com/mark3labs/permit-relay/facilitator"
	httprelay "github.com/mark3labs/permit-relay/http"
)

// Register adds the relay routes to r.
//
// Example usage:
//
//	r := gin.Default()
//	gin.Register(r.Group("/"), relay, nil)
func Register(r gin.IRouter, relay facilitator.Interface, logger *slog.Logger) {
	h := httprelay.NewHandler(relay, logger)

	r.POST(httprelay.PaymentsPath, gin.WrapF(h.Submit))
	r.GET("/v1/payments/:requestId", func(c *gin.Context) {
		h.Status(c.Writer, c.Request, c.Param("requestId"))
	})
}

// AuthMiddleware requires a bearer token carrying scope. Verified claims are
// stored under the "relay_claims" key and in the request context.
func AuthMiddleware(a *auth.Authenticator, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing bearer token"})
			return
		}

		claims, err := a.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid bearer token"})
			return
		}
		if scope != "" && !claims.Allows(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "insufficient scope"})
			return
		}

		c.Set("relay_claims", claims)
		c.Request = c.Request.WithContext(auth.WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}
