package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origin 校验浏览器 Origin；allowed 为空时放行所有。
// 没有 Origin 头的请求（非浏览器客户端）总是放行。
func Origin(allowed []string) gin.HandlerFunc {
	check := OriginChecker(allowed)
	return func(c *gin.Context) {
		if !check(c.Request) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

// OriginChecker 返回可直接用于 websocket.Upgrader.CheckOrigin 的函数
func OriginChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimRight(strings.TrimSpace(a), "/"))
		if a == "" {
			continue
		}
		if a == "*" {
			wildcard = true
		}
		set[a] = struct{}{}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 || wildcard {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
