package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pz26/confpass/internal/auth"
	"github.com/pz26/confpass/pkg/response"
)

const (
	// ContextUserID is the key for the user ID (string uid) in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
)

// JWT returns a middleware that validates the bearer token, rejects revoked
// tokens and sets user claims in context.
func JWT(jwtService *auth.JWTService, revocations auth.Revocations, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		if revocations != nil {
			revoked, err := revocations.IsRevoked(c.Request.Context(), claims.ID)
			if err != nil {
				logger.Error("revocation check failed", zap.Error(err))
				response.ServiceUnavailable(c, "cannot verify session")
				c.Abort()
				return
			}
			if revoked {
				response.Unauthorized(c, "session signed out")
				c.Abort()
				return
			}
		}
		c.Set(auth.ContextClaims, claims)
		c.Set(ContextUserID, claims.UserID.String())
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// Identity returns the uid, email and role set by JWT.
func Identity(c *gin.Context) (uid, email, role string, ok bool) {
	uid = c.GetString(ContextUserID)
	email = c.GetString(ContextUserEmail)
	role = c.GetString(ContextUserRole)
	return uid, email, role, uid != "" && email != ""
}
