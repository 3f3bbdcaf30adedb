package handler

import (
	"github.com/gin-gonic/gin"

	"docchat-go/internal/middleware"
	"docchat-go/pkg/metrics"
	"docchat-go/pkg/token"
)

// Handlers 汇总所有路由处理器。
type Handlers struct {
	Threads   *ThreadHandler
	Documents *DocumentHandler
	Search    *SearchHandler
	Chat      *ChatHandler
	Settings  *SettingsHandler
	Health    *HealthHandler
}

// NewRouter 创建 gin 引擎并注册全部路由。除 /health 与 /metrics 外均需要 bearer token。
func NewRouter(jwtManager *token.JWTManager, h Handlers, maxMultipartMemory int64) *gin.Engine {
	r := gin.New()
	if maxMultipartMemory > 0 {
		r.MaxMultipartMemory = maxMultipartMemory
	}
	r.Use(middleware.CORS(), middleware.RequestLogger(), gin.Recovery())

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	apiV1 := r.Group("/api/v1")
	apiV1.GET("/health", h.Health.Health)

	authed := apiV1.Group("")
	authed.Use(middleware.AuthMiddleware(jwtManager))
	{
		threads := authed.Group("/threads")
		{
			threads.GET("", h.Threads.List)
			threads.POST("", h.Threads.Create)
			threads.GET("/:threadId", h.Threads.Get)
			threads.PATCH("/:threadId", h.Threads.Rename)
			threads.DELETE("/:threadId", h.Threads.Delete)

			threads.GET("/:threadId/messages", h.Threads.Messages)
			threads.POST("/:threadId/messages", h.Threads.PostMessage)
			threads.GET("/:threadId/ws", h.Chat.Handle)
			threads.GET("/:threadId/search", h.Search.Search)

			threads.GET("/:threadId/documents", h.Documents.List)
			threads.POST("/:threadId/documents", h.Documents.Upload)
			threads.POST("/:threadId/documents/refresh", h.Documents.Refresh)
			threads.DELETE("/:threadId/documents/:documentId", h.Documents.Delete)
			threads.GET("/:threadId/documents/:documentId/download", h.Documents.Download)
		}

		authed.GET("/documents/supported-types", h.Documents.SupportedTypes)
		authed.GET("/settings", h.Settings.Get)
		// 修改设置需要同时通过认证和管理员授权
		authed.PUT("/settings", middleware.AdminAuthMiddleware(), h.Settings.Update)
	}
	return r
}
