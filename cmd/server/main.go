package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/config"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/api/handler"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/api/router"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/realtime"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/repository"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/service"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/database"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/jwt"
	applogger "github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/logger"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/pgnotify"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（默认查找 ./config/config.yaml）")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 连接数据库
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	logger.Info("数据库连接成功")

	// 3.1 执行数据库迁移（含变更通知触发器）
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 4. 连接 Redis（可选：连接失败时降级为进程内 Hub，限流关闭）
	var feed interface {
		realtime.Feed
		realtime.Publisher
	}
	rdb, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis 连接失败，实时变更仅在本实例内推送，限流关闭", zap.Error(err))
		rdb = nil
		hub := realtime.NewHub(logger.Named("hub"))
		defer hub.Close()
		feed = hub
	} else {
		feed = realtime.NewRedisFeed(rdb, cfg.Realtime.RedisPrefix, logger.Named("redis_feed"))
	}

	// 5. 初始化 JWT 管理器（仅校验外部签发的 Token）
	jwtMgr := jwt.NewManager(&cfg.Auth)

	// 6. 依赖注入: Repository → Service → Handler
	repo := repository.NewRepository(db)
	svc := service.NewService(repo, logger)
	h := handler.NewHandler(cfg, svc, feed, logger)

	// 7. 数据库变更通知 → 实时通道
	relayCtx, stopRelay := context.WithCancel(context.Background())
	var relayWG sync.WaitGroup
	if cfg.Realtime.RelayEnabled {
		listener := pgnotify.NewListener(
			cfg.Database.DSN(),
			cfg.Realtime.PGChannel,
			cfg.Realtime.ListenerMinReconnect,
			cfg.Realtime.ListenerMaxReconnect,
			logger.Named("pgnotify"),
		)
		relay := realtime.NewRelay(listener, feed, logger.Named("relay"))
		relayWG.Add(1)
		go func() {
			defer relayWG.Done()
			if err := relay.Run(relayCtx); err != nil {
				logger.Error("变更通知转发已停止", zap.Error(err))
			}
		}()
	}

	// 8. 初始化路由
	engine := router.Setup(cfg, h, jwtMgr, rdb, logger)

	// 9. 启动 HTTP 服务器（优雅关闭）
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 10. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// SSE 连接不会自行结束，由 Shutdown 超时后强制关闭
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("服务器关闭超时，强制断开剩余连接", zap.Error(err))
		_ = srv.Close()
	}

	stopRelay()
	relayWG.Wait()

	// 关闭数据库连接
	if closeDB, _ := db.DB(); closeDB != nil {
		closeDB.Close()
	}

	// 关闭 Redis 连接
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("服务器已关闭")
}
