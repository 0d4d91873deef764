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

	"classjudge/internal/common/cache"
	commonmw "classjudge/internal/common/http/middleware"
	"classjudge/internal/common/mq"
	"classjudge/internal/common/storage"
	"classjudge/internal/judge/controller"
	"classjudge/internal/judge/datapack"
	"classjudge/internal/judge/repository"
	"classjudge/internal/judge/sandbox"
	"classjudge/internal/judge/sandbox/config"
	"classjudge/internal/judge/sandbox/engine"
	"classjudge/internal/judge/sandbox/observer"
	"classjudge/internal/judge/sandbox/runner"
	"classjudge/internal/judge/sandbox/workspace"
	"classjudge/internal/judge/service"
	"classjudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/judge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load env failed: %v\n", err)
		os.Exit(1)
	}
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
		logger.Error(context.Background(), "judge service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observer.NewPrometheusRecorder(registry)

	localRepo := config.NewLocalRepository(appCfg.Language.Languages, appCfg.Language.Profiles)
	eng, err := engine.NewEngine(appCfg.Engine)
	if err != nil {
		return fmt.Errorf("init sandbox engine failed: %w", err)
	}
	jobRunner := runner.NewRunnerWithObserver(eng, metrics)
	worker := sandbox.NewWorker(jobRunner, localRepo, localRepo, workspace.NewProvisioner(appCfg.Judge.WorkRoot))
	worker.SetMetrics(metrics)

	var mqClient *mq.KafkaQueue
	if appCfg.Kafka.enabled() {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = mqClient.Close()
		}()
	} else {
		logger.Warn(context.Background(), "kafka brokers not configured, queued submissions disabled")
	}

	var packs service.DataPackSource
	if appCfg.dataPacksEnabled() {
		store, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init object storage failed: %w", err)
		}
		packCache, err := datapack.NewCache(appCfg.DataPack, store, redisCache)
		if err != nil {
			return fmt.Errorf("init data pack cache failed: %w", err)
		}
		defer func() {
			if err := packCache.Close(); err != nil {
				logger.Warn(context.Background(), "close data pack cache failed", zap.Error(err))
			}
		}()
		packs = packCache
	} else {
		logger.Warn(context.Background(), "minio endpoint not configured, data packs disabled")
	}

	statusRepo := repository.NewStatusRepository(redisCache, appCfg.Status.TTL)
	svcCfg := service.Config{
		Evaluator:      worker,
		Languages:      localRepo,
		StatusRepo:     statusRepo,
		DataRoot:       appCfg.Judge.DataRoot,
		DataPacks:      packs,
		MaxSourceBytes: appCfg.Judge.MaxSourceBytes,
		MaxTestCases:   appCfg.Judge.MaxTestCases,
		WorkerTimeout:  appCfg.Worker.Timeout,
		StatusTimeout:  appCfg.Status.Timeout,
		ClaimTTL:       appCfg.Worker.ClaimTTL,
		SlotWait:       appCfg.Worker.SlotWait,
		WorkerPoolSize: appCfg.Worker.PoolSize,
		PoolRetry: service.PoolRetryConfig{
			MaxRetries:      appCfg.Kafka.PoolRetryMax,
			BaseDelay:       appCfg.Kafka.PoolRetryBase,
			MaxDelay:        appCfg.Kafka.PoolRetryMaxD,
			DeadLetterTopic: appCfg.Kafka.DeadLetter,
		},
	}
	if mqClient != nil {
		svcCfg.Queue = mqClient
		svcCfg.EvaluateTopic = appCfg.Kafka.EvaluateTopic
		svcCfg.Publisher = repository.NewQueuePublisher(mqClient, appCfg.Status.FinalTopic)
	}
	judgeSvc, err := service.NewService(svcCfg)
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}
	worker.SetStatusReporter(judgeSvc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mqClient != nil {
		err = mqClient.SubscribeWithOptions(ctx, appCfg.Kafka.EvaluateTopic, judgeSvc.HandleMessage, appCfg.Kafka.subscribeOptions())
		if err != nil {
			return fmt.Errorf("subscribe kafka failed: %w", err)
		}
		if err := mqClient.Start(); err != nil {
			return fmt.Errorf("start kafka consumer failed: %w", err)
		}
	}

	httpServer := buildHTTPServer(appCfg, judgeSvc, registry)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "judge http server started", zap.String("addr", appCfg.Server.Addr))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
		}
		if mqClient != nil {
			_ = mqClient.Stop()
		}
		return nil
	})
	return g.Wait()
}

func buildHTTPServer(appCfg *AppConfig, judgeSvc *service.Service, registry *prometheus.Registry) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	controller.NewJudgeController(judgeSvc).RegisterRoutes(router)
	if appCfg.Metrics.Enabled {
		router.GET(appCfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	}

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
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
