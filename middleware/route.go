package middleware

import (
	"github.com/gin-gonic/gin"

	midsec "ChatHub/middleware/security"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
	Auth   midsec.TokenDecoder // IsAuth 时必填
}

// 封装 POST
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, chain(handler, opt)...)
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, chain(handler, opt)...)
}

func chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.IsAuth {
		if opt.Auth == nil {
			panic("middleware: RouteOpt.IsAuth requires RouteOpt.Auth")
		}
		return []gin.HandlerFunc{midsec.Middleware(opt.Auth, midsec.DefaultOptions()), handler}
	}
	return []gin.HandlerFunc{handler}
}
