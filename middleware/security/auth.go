package security

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ChatHub/tools/errs"
)

// —— context key ——
// 后续 handler 统一用这俩 key 读取
const (
	CtxAuthKey   = "authorization" // string, 原始 token
	CtxUserIDKey = "userID"        // int64, token 的 sub
)

// TokenDecoder 与 chat.TokenValidator 同形
type TokenDecoder interface {
	Decode(ctx context.Context, token string) (int64, error)
}

type Options struct {
	// 读取哪个请求头
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true
	EnableQueryToken          bool   // 允许 ?token=，默认 false
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:               CtxAuthKey,
		EnableAuthorizationBearer: true,
	}
}

// Middleware 校验 token 并把 user id 写入 context；失败返回 401 + CodeError
func Middleware(dec TokenDecoder, opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := TokenFrom(c.Request, opts)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenMissing)
			return
		}
		uid, err := dec.Decode(c.Request.Context(), token)
		if err != nil {
			code := errs.Code(err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.NewCodeError(code, errs.Msg(err)))
			return
		}
		c.Set(CtxAuthKey, token)
		c.Set(CtxUserIDKey, uid)
		c.Next()
	}
}

// TokenFrom 依次尝试自定义头、Authorization: Bearer xxx、query
func TokenFrom(r *http.Request, opts *Options) string {
	token := strings.TrimSpace(r.Header.Get(opts.HeaderToken))
	if token != "" && opts.HeaderToken == CtxAuthKey {
		// "authorization" 与标准头同名，可能带 Bearer 前缀
		token = stripBearer(token)
	}
	if token == "" && opts.EnableAuthorizationBearer {
		token = stripBearer(strings.TrimSpace(r.Header.Get("Authorization")))
	}
	if token == "" && opts.EnableQueryToken {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return token
}

func stripBearer(v string) string {
	if len(v) > len("bearer ") && strings.EqualFold(v[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(v[len("bearer "):])
	}
	return v
}

// UserID 读取 Middleware 写入的 user id
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(CtxUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
