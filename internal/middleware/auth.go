// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docchat-go/pkg/token"
)

// 存入 gin.Context 的键。
const (
	ContextClaims = "claims"
	ContextUserID = "userId"
)

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 从 Authorization 头（或 WebSocket 场景下的 token 查询参数）中提取 token，校验后把 claims 与用户 ID 存入上下文。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含有效的授权信息", "data": nil})
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token", "data": nil})
			return
		}

		c.Set(ContextClaims, claims)
		c.Set(ContextUserID, claims.UserID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	const bearerPrefix = "Bearer "
	if h := c.GetHeader("Authorization"); h != "" {
		if !strings.HasPrefix(h, bearerPrefix) {
			return "", false
		}
		t := strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
		return t, t != ""
	}
	// 浏览器无法为 WebSocket 握手设置请求头
	if websocketUpgrade(c.Request) {
		if t := c.Query("token"); t != "" {
			return t, true
		}
	}
	return "", false
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// Claims 返回 AuthMiddleware 写入的 claims。
func Claims(c *gin.Context) *token.CustomClaims {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*token.CustomClaims)
	return claims
}
