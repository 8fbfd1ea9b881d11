// internal/api/router.go
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/SceneWeaver/internal/config"
	"github.com/Corphon/SceneWeaver/internal/di"
	"github.com/Corphon/SceneWeaver/internal/services"
	"github.com/Corphon/SceneWeaver/internal/utils"
)

// RouterDeps 路由依赖
type RouterDeps struct {
	Sessions   *services.SessionManager
	WebSockets *WebSocketManager
	Limiter    *RateLimiter // nil disables rate limiting
	Logger     *utils.Logger
	Debug      bool
	// SavePacing persists PUT /api/config/pacing; nil keeps changes in memory
	SavePacing func(autoAdvance, reveal time.Duration) error
}

// SetupRouter 配置HTTP路由 from the services registered in the container
func SetupRouter() (*gin.Engine, error) {
	container := di.GetContainer()

	sessions, ok := container.Get("sessions").(*services.SessionManager)
	if !ok {
		return nil, fmt.Errorf("session manager not initialized")
	}
	ws, ok := container.Get("websocket").(*WebSocketManager)
	if !ok {
		return nil, fmt.Errorf("websocket manager not initialized")
	}
	limiter, _ := container.Get("ratelimiter").(*RateLimiter)
	debug, _ := container.Get("debug").(bool)

	return NewRouter(RouterDeps{
		Sessions:   sessions,
		WebSockets: ws,
		Limiter:    limiter,
		Logger:     utils.GetLogger(),
		Debug:      debug,
		SavePacing: config.UpdatePacing,
	}), nil
}

// NewRouter builds the engine
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = utils.GetLogger()
	}
	if !deps.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := NewHandler(deps.Sessions, deps.WebSockets, deps.Logger)
	handler.savePacing = deps.SavePacing

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(deps.Logger))
	r.Use(MetricsMiddleware(deps.Sessions.Metrics()))
	r.Use(corsMiddleware())

	// WebSocket 支持
	r.GET("/ws/sessions/:id", handler.SessionWebSocket)

	api := r.Group("/api")
	if deps.Limiter != nil {
		api.Use(DefaultRateLimit(deps.Limiter))
	}
	{
		api.GET("/health", handler.Health)
		api.GET("/metrics", handler.Metrics)
		api.GET("/ws/status", handler.WebSocketStatus)
		api.GET("/config/pacing", handler.GetPacing)
		api.PUT("/config/pacing", handler.UpdatePacing)

		// ===============================
		// 场景目录
		// ===============================
		scenesGroup := api.Group("/scenes")
		{
			scenesGroup.GET("", handler.ListScenes)
			scenesGroup.GET("/:id", handler.GetScene)
		}

		// ===============================
		// 会话
		// ===============================
		sessionsGroup := api.Group("/sessions")
		{
			sessionsGroup.POST("", handler.CreateSession)
			sessionsGroup.GET("/:id", handler.GetSession)
			sessionsGroup.POST("/:id/advance", handler.Advance)
			sessionsGroup.POST("/:id/choices/:index", handler.Choose)
			sessionsGroup.POST("/:id/navigate", handler.Navigate)
			sessionsGroup.POST("/:id/reset", handler.Reset)
			sessionsGroup.PUT("/:id/player/name", handler.SetPlayerName)
			sessionsGroup.POST("/:id/save", handler.Save)
		}
	}

	return r
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
