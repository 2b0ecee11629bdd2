// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserIDKey 是存放在 Gin 上下文中的用户标识键。
const UserIDKey = "userID"

// AuthMiddleware 从 Authorization 头中提取不透明的用户令牌。
// 身份认证由外部登录系统完成，令牌本身就是每用户唯一的标识，
// 这里按原样采用，不做任何凭证校验。
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "Authorization token is required. Please login first.",
				"data":    nil,
			})
			return
		}

		// 兼容 "Bearer <token>" 与裸 token 两种形式
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "Invalid authorization token.",
				"data":    nil,
			})
			return
		}

		c.Set(UserIDKey, token)
		c.Next()
	}
}
