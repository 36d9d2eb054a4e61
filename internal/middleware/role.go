package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/pz26/confpass/internal/models"
	"github.com/pz26/confpass/pkg/response"
)

// RequireRole lets the request through only when the JWT role is one of roles.
// Must run after JWT.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		name, _ := role.(string)
		if _, ok := allowed[models.Role(name)]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
