package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"workday-reconcile/backend/config"
	"workday-reconcile/backend/internal/api/handler"
	"workday-reconcile/backend/internal/api/router"
	"workday-reconcile/backend/internal/repository"
	"workday-reconcile/backend/internal/service"
	"workday-reconcile/backend/pkg/database"
	"workday-reconcile/backend/pkg/jwt"
	applogger "workday-reconcile/backend/pkg/logger"
	"workday-reconcile/backend/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("RECON_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("对账服务异常退出", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("对账服务已关闭")
}

// run 装配存储、服务与路由并阻塞到 ctx 取消
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	rdb := openRedis(cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}
	logReconcileSettings(logger, &cfg.Reconcile, rdb != nil)

	jwtMgr := jwt.NewManager(&cfg.Auth)
	svc := service.NewService(cfg, repository.NewRepository(db), jwtMgr, rdb, logger)
	engine := router.Setup(cfg, handler.NewHandler(svc), jwtMgr, rdb, db, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // 导出大表格需要更长写超时
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP 服务器异常: %w", err)
	case <-ctx.Done():
	}

	logger.Info("收到关闭信号，等待进行中的提交完成...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("服务器关闭异常: %w", err)
	}
	return nil
}

// openStore 连接 PostgreSQL 并执行迁移
func openStore(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}
	logger.Info("对账存储就绪", zap.String("database", cfg.Database.Name))
	return db, nil
}

// openRedis 连接失败时返回 nil，服务降级运行
func openRedis(cfg *config.Config, logger *zap.Logger) *redis.Client {
	rdb, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis 不可用，Token 黑名单与登录限流停用，条目处理只依赖数据库行锁", zap.Error(err))
		return nil
	}
	return rdb
}

func logReconcileSettings(logger *zap.Logger, rc *config.ReconcileConfig, redisLock bool) {
	lockMode := "db_row"
	if redisLock {
		lockMode = "redis+db_row"
	}
	logger.Info("对账参数",
		zap.Int("bulk_concurrency", rc.BulkConcurrency),
		zap.Duration("lock_ttl", rc.LockTTL),
		zap.String("lock_mode", lockMode),
		zap.Int("session_batch_size", rc.SessionBatchSize),
		zap.Int("import_max_rows", rc.ImportMaxRows),
	)
}
