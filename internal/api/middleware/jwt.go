package middleware

import (
	"net/http"
	"strings"

	"flighthunter/internal/api/auth"

	"github.com/gin-gonic/gin"
)

// UserIDKey 是上下文中保存当前用户 ID 的键。
const UserIDKey = "userID"

// AuthMiddleware 校验 JWT 并将 userID 写入上下文。
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			c.Abort()
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			c.Abort()
			return
		}

		uid, err := auth.Parse(jwtSecret, strings.TrimSpace(parts[1]))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(UserIDKey, uid)
		c.Next()
	}
}

// UserID 返回当前请求的用户 ID（未认证时为 0）。
func UserID(c *gin.Context) uint {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0
	}
	uid, _ := v.(uint)
	return uid
}
