// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"innovacollab/internal/model"
	"innovacollab/internal/service"
	"innovacollab/pkg/log"
	"innovacollab/pkg/token"
)

const (
	// ContextUserKey 是 gin 上下文中存放 *model.User 的键。
	ContextUserKey   = "user"
	contextClaimsKey = "claims"
)

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求中提取 access token，验证其有效性与黑名单状态，并将完整的 User 对象存入 Gin 的上下文中。
func AuthMiddleware(jwtManager *token.JWTManager, userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含有效的授权信息", "data": nil})
			return
		}
		user, claims, err := authenticate(c, jwtManager, userService, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": err.Error(), "data": nil})
			return
		}
		c.Set(ContextUserKey, user)
		c.Set(contextClaimsKey, claims)
		c.Next()
	}
}

// OptionalAuth 携带有效 token 时注入用户，否则按匿名请求继续。
func OptionalAuth(jwtManager *token.JWTManager, userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString, ok := extractToken(c); ok {
			if user, claims, err := authenticate(c, jwtManager, userService, tokenString); err == nil {
				c.Set(ContextUserKey, user)
				c.Set(contextClaimsKey, claims)
			}
		}
		c.Next()
	}
}

type authError string

func (e authError) Error() string { return string(e) }

func authenticate(c *gin.Context, jwtManager *token.JWTManager, userService service.UserService, tokenString string) (*model.User, *token.CustomClaims, error) {
	claims, err := jwtManager.VerifyTokenOfType(tokenString, token.TypeAccess)
	if err != nil {
		return nil, nil, authError("无效或已过期的 token")
	}

	revoked, err := userService.IsTokenRevoked(c.Request.Context(), tokenString)
	if err != nil {
		// Redis 故障时拒绝请求
		log.Errorf("[AuthMiddleware] 检查 token 黑名单失败: %v", err)
		return nil, nil, authError("无法校验 token 状态")
	}
	if revoked {
		return nil, nil, authError("token 已注销")
	}

	profile, err := userService.GetProfile(claims.UserID)
	if err != nil {
		return nil, nil, authError("用户不存在")
	}
	return profile.User, claims, nil
}

// extractToken 依次尝试 Authorization 头与 token 查询参数（WebSocket 无法设置请求头）。
func extractToken(c *gin.Context) (string, bool) {
	const bearerPrefix = "Bearer "
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			return "", false
		}
		t := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
		return t, t != ""
	}
	if t := c.Query("token"); t != "" {
		return t, true
	}
	return "", false
}

// CurrentUser 返回认证中间件注入的用户，匿名请求返回 nil。
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*model.User)
	return user
}
