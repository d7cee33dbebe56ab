package middleware

type httpConfig struct {
	// 不记录响应体的路由集，映射关系 route => true
	noLogResponseBodyRoutes map[string]bool
	// 不记录日志的路由集
	skipRoutes map[string]bool
}

// Option 拦截器选项
type Option func(*httpConfig)

func defaultHTTPConfig() *httpConfig {
	return &httpConfig{
		noLogResponseBodyRoutes: make(map[string]bool),
		skipRoutes:              make(map[string]bool),
	}
}

// NoResponseBodyLog 不记录指定路由的响应体，例如事件流与二维码
func NoResponseBodyLog(routes ...string) Option {
	return func(c *httpConfig) {
		for _, r := range routes {
			c.noLogResponseBodyRoutes[r] = true
		}
	}
}

// SkipLog 不记录指定路由的请求日志，例如 /metrics
func SkipLog(routes ...string) Option {
	return func(c *httpConfig) {
		for _, r := range routes {
			c.skipRoutes[r] = true
		}
	}
}
