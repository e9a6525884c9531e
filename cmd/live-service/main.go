package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livecode/internal/common/cache"
	"livecode/internal/common/db"
	commonmw "livecode/internal/common/http/middleware"
	"livecode/internal/common/mq"
	"livecode/internal/common/storage"
	"livecode/internal/execution/archive"
	runcontroller "livecode/internal/execution/controller"
	"livecode/internal/execution/engine"
	"livecode/internal/execution/registry"
	"livecode/internal/execution/runner"
	"livecode/internal/execution/session"
	monitorcontroller "livecode/internal/monitor/controller"
	"livecode/internal/monitor/repository"
	"livecode/internal/monitor/service"
	"livecode/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/live_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "live service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	database, err := db.Open(appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = database.Close()
	}()

	var cohortCache cache.Cache
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		cohortCache = redisCache
	} else {
		logger.Warn(ctx, "redis not configured, cohort lookups go to the database")
	}

	eng, err := engine.NewEngine(appCfg.Execution.Engine)
	if err != nil {
		return fmt.Errorf("init process engine failed: %w", err)
	}
	runners, err := runner.NewSet(appCfg.Execution.Runner, eng)
	if err != nil {
		return fmt.Errorf("init runners failed: %w", err)
	}
	if err := runners.CheckToolchains(ctx); err != nil {
		return err
	}

	var archiver session.Archiver
	if appCfg.Archive.Enabled {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio failed: %w", err)
		}
		transcripts, err := archive.New(objStorage, appCfg.Archive)
		if err != nil {
			return fmt.Errorf("init transcript archive failed: %w", err)
		}
		defer transcripts.Close()
		if err := transcripts.EnsureBucket(ctx); err != nil {
			return err
		}
		archiver = transcripts
	}

	reg := registry.New(registry.FromSet(runners), archiver, appCfg.Session)

	monitorRepo := repository.NewMonitorRepositoryWithTTL(database, cohortCache, appCfg.CohortCache.TTL, appCfg.CohortCache.EmptyTTL)
	synchronizer := service.NewSynchronizer(monitorRepo)
	hub := monitorcontroller.NewHub()
	rooms := service.NewRoomManager(synchronizer, hub)
	trigger := service.NewTrigger(rooms, synchronizer)

	var publisher service.BroadcastPublisher
	var queue pinger
	if appCfg.Kafka.Enabled {
		mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = mqClient.Close()
		}()
		group := appCfg.Kafka.consumerGroup()
		if err := trigger.Subscribe(ctx, mqClient, appCfg.Kafka.BroadcastTopic, group); err != nil {
			return fmt.Errorf("subscribe broadcast topic failed: %w", err)
		}
		if err := mqClient.Start(); err != nil {
			return fmt.Errorf("start kafka consumer failed: %w", err)
		}
		logger.Info(ctx, "broadcast consumer started",
			zap.String("topic", appCfg.Kafka.BroadcastTopic),
			zap.String("group", group))
		publisher = service.NewMQBroadcastPublisher(mqClient, appCfg.Kafka.BroadcastTopic, appCfg.Kafka.MessageTTL)
		queue = mqClient
	}

	var cachePinger pinger
	if cohortCache != nil {
		cachePinger = cohortCache
	}

	httpServer := buildHTTPServer(appCfg, routes{
		run:       runcontroller.NewRunController(reg, appCfg.RunChannel),
		monitor:   monitorcontroller.NewMonitorController(rooms, hub, appCfg.Monitor),
		broadcast: monitorcontroller.NewBroadcastController(trigger, publisher),
		health: health{
			database: database,
			cache:    cachePinger,
			queue:    queue,
			sessions: reg,
			rooms:    rooms,
		},
	})
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "live http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.Strings("languages", runners.Available()))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	stopCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	// Shutdown leaves hijacked websocket connections open
	if err := httpServer.Shutdown(stopCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if err := reg.Shutdown(stopCtx); err != nil {
		logger.Error(ctx, "session shutdown incomplete", zap.Error(err), zap.Int("remaining", reg.Len()))
	}
	return nil
}

type routes struct {
	run       *runcontroller.RunController
	monitor   *monitorcontroller.MonitorController
	broadcast *monitorcontroller.BroadcastController
	health    health
}

func buildHTTPServer(cfg *AppConfig, r routes) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.CORSMiddleware(cfg.CORS))
	router.Use(requestLogger())

	router.GET("/healthz", r.health.serve)
	router.GET("/ws/run", r.run.Serve)
	router.GET("/ws/monitor", r.monitor.Serve)

	api := router.Group("/api/v1/monitor")
	api.POST("/tests/:testId/broadcast", r.broadcast.Broadcast)

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
