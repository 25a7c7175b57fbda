package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/FeaturedFeed/internal/handler"
)

type RouterOptions struct {
	Mode              string
	RequestsPerMinute int
	// Metrics is served at /metrics when set.
	Metrics http.Handler
}

// NewRouter builds the HTTP surface of the bot.
func NewRouter(feedHandler *handler.FeedHandler, mw *MiddlewareManager, opts RouterOptions) *gin.Engine {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	r := gin.New()
	r.Use(mw.Trace(), mw.Recovery(), mw.Logger())
	// 前端挂件可能被嵌入任意站点
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Cache-Control", "X-Requested-With"},
		ExposeHeaders:   []string{TraceHeader},
		MaxAge:          12 * time.Hour,
	}))

	RegisterRoutes(r, feedHandler, mw, opts)
	return r
}

// RegisterRoutes registers all routes
func RegisterRoutes(r *gin.Engine, feedHandler *handler.FeedHandler, mw *MiddlewareManager, opts RouterOptions) {
	r.GET("/health", feedHandler.Health)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	limited := r.Group("/")
	limited.Use(mw.RateLimit(opts.RequestsPerMinute))
	{
		limited.GET("/widget", feedHandler.Widget)

		api := limited.Group("/api")
		{
			api.GET("/discussions", feedHandler.Discussions)
			api.GET("/status", feedHandler.Status)
		}
	}
}
