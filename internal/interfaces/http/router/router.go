// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bottle-agent-api/internal/config"
	"bottle-agent-api/internal/interfaces/http/handler"
	"bottle-agent-api/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的全部处理器
type Handlers struct {
	Health        *handler.HealthHandler
	KnowledgeBase *handler.KnowledgeBaseHandler
	Query         *handler.QueryHandler
	Agent         *handler.AgentHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers Handlers
	limiter  middleware.RateLimiter
}

// New 创建新的路由器
func New(cfg *config.Config, handlers Handlers, limiter middleware.RateLimiter) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:   gin.New(),
		cfg:      cfg,
		handlers: handlers,
		limiter:  limiter,
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// setupMiddleware 配置中间件
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.CORS(r.cfg.Security.CORS))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name))
		r.engine.Use(middleware.TraceContext())
	}

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}
}

// setupRoutes 配置路由
func (r *Router) setupRoutes() {
	// 系统端点
	r.engine.GET("/health", r.handlers.Health.Health)
	r.engine.GET("/ready", r.handlers.Health.Ready)
	r.engine.GET("/live", r.handlers.Health.Live)

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.GET(r.cfg.Observability.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	rateLimit := middleware.RateLimit(r.cfg.Security.RateLimit, r.limiter)

	v1 := r.engine.Group("/v1")
	{
		kbs := v1.Group("/knowledge-bases")
		{
			kbs.POST("", r.handlers.KnowledgeBase.Create)
			kbs.GET("", r.handlers.KnowledgeBase.List)
			kbs.GET("/:name", r.handlers.KnowledgeBase.Info)
			kbs.PUT("/:name", r.handlers.KnowledgeBase.Update)
			kbs.DELETE("/:name", r.handlers.KnowledgeBase.Delete)

			// 问答路由带限流
			kbs.POST("/:name/query", rateLimit, r.handlers.Query.Query)
			kbs.POST("/:name/query/stream", rateLimit, r.handlers.Query.QueryStream)
		}

		agents := v1.Group("/agents")
		{
			agents.POST("", r.handlers.Agent.Create)
			agents.GET("", r.handlers.Agent.List)
			agents.GET("/:name", r.handlers.Agent.Get)
			agents.PUT("/:name", r.handlers.Agent.Update)
			agents.DELETE("/:name", r.handlers.Agent.Delete)
		}
	}
}
