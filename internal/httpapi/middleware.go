package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/coralbridge/msgbridge/internal/config"
	"github.com/coralbridge/msgbridge/internal/dispatch"
)

const apiKeyContextKey = "api_key_ctx"
const rawAPIKeyContextKey = "raw_api_key"

// APIKeyMiddleware authenticates the caller against the configured API
// keys, accepting either Authorization: Bearer <key> or X-Api-Key, matching
// the teacher's dual-header convention for model-facing routes.
func APIKeyMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Api-Key")
		if token == "" {
			auth := c.GetHeader("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error: ErrorDetail{Message: "missing API key", Type: "authentication_error"},
			})
			c.Abort()
			return
		}

		entry, ok := cfg.FindAPIKey(token)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error: ErrorDetail{Message: "invalid API key", Type: "authentication_error"},
			})
			c.Abort()
			return
		}

		c.Set(apiKeyContextKey, &dispatch.APIKeyContext{
			ID:                entry.ID,
			Permissions:       entry.Permissions,
			ModelRestrictions: entry.ModelRestrictions,
		})
		c.Set(rawAPIKeyContextKey, token)
		c.Next()
	}
}

func apiKeyFromContext(c *gin.Context) *dispatch.APIKeyContext {
	v, ok := c.Get(apiKeyContextKey)
	if !ok {
		return nil
	}
	ctx, _ := v.(*dispatch.APIKeyContext)
	return ctx
}

func rawAPIKeyFromContext(c *gin.Context) string {
	v, _ := c.Get(rawAPIKeyContextKey)
	s, _ := v.(string)
	return s
}
