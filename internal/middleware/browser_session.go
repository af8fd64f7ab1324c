package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"innovacollab/internal/config"
)

// ContextSessionKey 是 gin 上下文中存放浏览器会话标识的键。
const ContextSessionKey = "browser_session"

// BrowserSession 为每个浏览器分配一个不透明的会话 cookie。
// 支付会话以此为键，回调只能在发起结账的同一浏览器中完成。
func BrowserSession(cfg config.SessionConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, err := c.Cookie(cfg.CookieName)
		if err != nil || uuid.Validate(sid) != nil {
			sid = uuid.NewString()
			http.SetCookie(c.Writer, &http.Cookie{
				Name:     cfg.CookieName,
				Value:    sid,
				Path:     "/",
				MaxAge:   cfg.MaxAge,
				Secure:   cfg.Secure,
				HttpOnly: true,
				// 支付网关回跳是顶层 GET 导航，Lax 可以带上 cookie
				SameSite: http.SameSiteLaxMode,
			})
		}
		c.Set(ContextSessionKey, sid)
		c.Next()
	}
}

// SessionKey 返回当前请求的浏览器会话标识。
func SessionKey(c *gin.Context) string {
	return c.GetString(ContextSessionKey)
}
