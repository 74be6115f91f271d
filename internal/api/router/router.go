package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/config"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/api/handler"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/api/middleware"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/jwt"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/redis"
)

// Setup 初始化并返回 Gin 路由引擎
// rdb 为 nil 时不启用限流
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	var limiter middleware.RateLimiter
	if rdb != nil {
		limiter = rdb
	}
	rateLimit := middleware.RateLimit(limiter, cfg.Attendance.RateLimit, cfg.Attendance.RateWindow, logger)

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	authorized := v1.Group("")
	authorized.Use(middleware.JWTAuth(jwtMgr))
	{
		// 点名模块
		days := authorized.Group("/attendance/days")
		{
			days.GET("", h.Attendance.ListDays)
			days.GET("/:date", h.Attendance.GetDay)
			days.GET("/:date/stream", h.Attendance.Stream)
			days.POST("/:date/start", rateLimit, h.Attendance.Start)
			days.POST("/:date/cancel", rateLimit, h.Attendance.Cancel)
			days.PUT("/:date/records/:student_id", rateLimit, h.Attendance.UpdateStatus)
			days.PUT("/:date/observation", rateLimit, h.Attendance.UpdateObservation)
		}
	}

	return r
}
