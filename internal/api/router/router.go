package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"workday-reconcile/backend/config"
	"workday-reconcile/backend/internal/api/handler"
	"workday-reconcile/backend/internal/api/middleware"
	"workday-reconcile/backend/pkg/jwt"
	"workday-reconcile/backend/pkg/redis"
)

const (
	jsonBodyLimit   = 1 << 20  // 1MB
	uploadBodyLimit = 20 << 20 // 20MB
)

// Setup 初始化并返回 Gin 路由引擎；rdb 为 nil 时黑名单与限流降级放行
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, db *gorm.DB, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	var (
		checker middleware.TokenChecker
		limiter middleware.RateLimiter
	)
	if rdb != nil {
		checker = rdb
		limiter = rdb
	}

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "redis": rdb != nil})
	})

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 认证模块（无需认证）
		auth := v1.Group("/auth")
		auth.Use(middleware.BodyLimit(jsonBodyLimit))
		{
			auth.POST("/login", middleware.RateLimit(limiter, 10, time.Minute), h.Auth.Login)
		}

		// 需要认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(jwtMgr, checker))
		{
			authorized.POST("/auth/logout", h.Auth.Logout)
			authorized.GET("/auth/me", h.Auth.Me)

			// 上传单独放宽请求体上限
			authorized.POST("/reconciliation/import",
				middleware.RoleAuth("admin", "operator"),
				middleware.BodyLimit(uploadBodyLimit),
				h.Reconciliation.Import,
			)

			api := authorized.Group("")
			api.Use(middleware.BodyLimit(jsonBodyLimit))

			// 对账行模块
			recon := api.Group("/reconciliation")
			{
				recon.GET("/rows", h.Reconciliation.List)
				recon.GET("/rows/:id", h.Reconciliation.Get)
				recon.PUT("/rows/:id", h.Reconciliation.Update)
				recon.POST("/rows/:id/resolve", h.Reconciliation.Resolve)
				recon.POST("/bulk-resolve", h.Reconciliation.BulkResolve)
				recon.GET("/summary", h.Reconciliation.Summary)
				recon.GET("/export", h.Reconciliation.Export)
				recon.POST("/reclassify", middleware.RoleAuth("admin"), h.Reconciliation.Reclassify)
			}

			// 待入库条目模块
			ingestion := api.Group("/ingestion")
			{
				ingestion.GET("/items", h.Ingestion.List)
				ingestion.GET("/items/:id", h.Ingestion.Get)
				ingestion.POST("/items/:id/resolve", h.Ingestion.Resolve)
				ingestion.POST("/detect-duplicates", middleware.RoleAuth("admin"), h.Ingestion.DetectDuplicates)
			}

			// 辅助修正模块（会话按操作员隔离）
			corrections := api.Group("/corrections/session")
			{
				corrections.POST("", h.Correction.Start)
				corrections.GET("", h.Correction.Current)
				corrections.POST("/resolve", h.Correction.Resolve)
				corrections.POST("/advance", h.Correction.Advance)
				corrections.DELETE("", h.Correction.Cancel)
			}
		}
	}

	return r
}
