package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rilaconsulting/pmpulse-sub006/config"
	"github.com/rilaconsulting/pmpulse-sub006/models"
	"github.com/rilaconsulting/pmpulse-sub006/utils"
)

// SessionMiddleware resolves the bearer token to a user. The redis session
// cache is consulted first; a miss falls back to JWT validation plus a user
// lookup so sessions survive a cache flush.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		var user models.User
		exists, err := config.GetRedisObject("Token:"+token, &user)
		if err == nil && exists {
			attachUser(c, token, user)
			c.Next()
			return
		}

		validated, err := utils.JwtValidate(token)
		if err != nil || !validated.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		claim, ok := validated.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db is nil"})
			c.Abort()
			return
		}
		if err := db.WithContext(c.Request.Context()).
			Where("id = ?", claim.ID).
			Take(&user).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		attachUser(c, token, user)
		c.Next()
	}
}

// RequireAuth rejects requests that sessionMiddleware left anonymous.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRole additionally gates on the user's role.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("userRole")
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		c.Abort()
	}
}

func attachUser(c *gin.Context, token string, user models.User) {
	ctx := utils.SetTokenInContext(c.Request.Context(), token)
	ctx = utils.SetUsernameInContext(ctx, user.Username)
	ctx = utils.SetUserIdInContext(ctx, int(user.ID))
	c.Request = c.Request.WithContext(ctx)
	c.Set("userRole", user.Role)
}

func bearerToken(c *gin.Context) string {
	auth := strings.TrimSpace(c.Request.Header.Get("Authorization"))
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	// legacy clients send the token header directly
	return strings.TrimSpace(c.Request.Header.Get("token"))
}
