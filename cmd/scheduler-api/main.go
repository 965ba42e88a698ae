package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/class-scheduler-api/api/swagger"
	"github.com/noah-isme/class-scheduler-api/internal/handler"
	internalmiddleware "github.com/noah-isme/class-scheduler-api/internal/middleware"
	"github.com/noah-isme/class-scheduler-api/internal/repository"
	"github.com/noah-isme/class-scheduler-api/internal/scenario"
	"github.com/noah-isme/class-scheduler-api/internal/service"
	"github.com/noah-isme/class-scheduler-api/pkg/cache"
	"github.com/noah-isme/class-scheduler-api/pkg/config"
	"github.com/noah-isme/class-scheduler-api/pkg/database"
	"github.com/noah-isme/class-scheduler-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/class-scheduler-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/class-scheduler-api/pkg/middleware/requestid"
	"github.com/noah-isme/class-scheduler-api/pkg/notify"
	"github.com/noah-isme/class-scheduler-api/pkg/telemetry"
)

// @title Class Scheduler API
// @version 1.0.0
// @description Content-aware class auto-scheduling
// @BasePath /api/v1
// @schemes http

const shutdownGrace = 15 * time.Second

type stores struct {
	directory       service.SchedulingDirectory
	resources       service.ResourceStore
	recommendations service.RecommendationStore
	db              *sqlx.DB
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("scheduler api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	tracer, shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Env, logr)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logr.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	metrics := service.NewMetricsService()

	st, err := openStores(ctx, cfg, metrics, logr)
	if err != nil {
		return err
	}
	checks := map[string]handler.ReadinessCheck{}
	if st.db != nil {
		defer st.db.Close() //nolint:errcheck
		checks["postgres"] = database.Check(st.db)
	}

	var cacheRepo service.CacheRepository
	if cfg.Redis.Enabled {
		client, err := cache.Open(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		} else {
			repo := repository.NewCacheRepository(client, cfg.Redis.KeyPrefix, logr)
			defer repo.Close() //nolint:errcheck
			cacheRepo = repo
			checks["redis"] = cache.Check(client)
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Scheduler.MetricsCacheTTL, logr, cacheRepo != nil)

	var publisher notify.Publisher = notify.NewLogPublisher(logr)
	if cfg.NATS.Enabled {
		nc, err := notify.NewNatsPublisher(cfg.NATS, logr)
		if err != nil {
			return err
		}
		publisher = nc
		checks["nats"] = func(context.Context) error { return nc.Health() }
	}
	dispatcher := service.NewNotificationDispatcher(publisher, service.NotificationDispatcherConfig{
		Workers:    2,
		Buffer:     cfg.NATS.Buffer,
		Retries:    2,
		RetryDelay: 200 * time.Millisecond,
	}, logr)

	validate := validator.New()
	overrides := service.NewOverrideService(st.resources, validate, logr,
		service.WithOverrideEvents(dispatcher),
		service.WithOverrideMetrics(metrics),
	)
	recommendations := service.NewRecommendationService(st.recommendations, logr,
		service.WithRecommendationLifecycle(overrides),
	)
	runs := service.NewSchedulingRunService(st.directory, st.resources, recommendations, validate, logr,
		service.SchedulingRunConfig{
			RunTTL:              cfg.Scheduler.RunTTL,
			Workers:             cfg.Scheduler.WorkerConcurrency,
			Retries:             cfg.Scheduler.WorkerRetries,
			RetryDelay:          cfg.Scheduler.RetryDelay,
			Passes:              cfg.Scheduler.OptimizationPasses,
			MaxAlternatives:     cfg.Scheduler.MaxAlternatives,
			ConfidenceThreshold: cfg.Scheduler.ConfidenceThreshold,
			Weights: service.GoalWeights{
				ContentPriority:     cfg.Scheduler.Weights.ContentPriority,
				TeacherUtilization:  cfg.Scheduler.Weights.TeacherUtilization,
				StudentSatisfaction: cfg.Scheduler.Weights.StudentSatisfaction,
				ClassSize:           cfg.Scheduler.Weights.ClassSize,
			},
		},
		service.WithRunCache(cacheSvc),
		service.WithRunMetrics(metrics),
		service.WithRunEvents(dispatcher),
		service.WithRunTracer(tracer),
	)
	bulk := service.NewBulkOperationService(runs, overrides, recommendations, metrics, cfg.Scheduler.BulkConcurrency, logr)
	verifier := service.NewTokenVerifier(cfg.JWT.Secret)

	dispatcher.Start(ctx)
	defer dispatcher.Stop()
	runs.Start(ctx)
	defer runs.Stop()

	if cfg.AutoRun.Enabled {
		auto, err := service.NewAutoRunner(runs, cfg.AutoRun, logr)
		if err != nil {
			return fmt.Errorf("configure auto runs: %w", err)
		}
		auto.Start(ctx)
		defer auto.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(internalmiddleware.Metrics(metrics))
	r.Use(internalmiddleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handler.Handlers{
		Scheduling:      handler.NewSchedulingHandler(runs),
		Recommendations: handler.NewRecommendationHandler(recommendations),
		Classes:         handler.NewClassHandler(overrides),
		Bulk:            handler.NewBulkHandler(bulk),
		Metrics:         metricsHandler,
	}, verifier, logr)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.Scheduler.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStores(ctx context.Context, cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger) (*stores, error) {
	if cfg.Scheduler.Store == config.StorePostgres {
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return &stores{
			directory:       repository.NewDirectoryRepository(db),
			resources:       repository.NewResourceModelRepository(db).WithQueryObserver(metrics.ObserveDBQuery),
			recommendations: repository.NewRecommendationRepository(db),
			db:              db,
		}, nil
	}

	st := &stores{
		directory:       repository.NewMemoryDirectory(),
		resources:       repository.NewMemoryResourceStore(nil),
		recommendations: repository.NewMemoryRecommendationRepository(),
	}
	if path := cfg.Scheduler.SeedScenario; path != "" {
		sc, err := scenario.Load(path)
		if err != nil {
			return nil, err
		}
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("seed scenario %s: %w", path, err)
		}
		directory, resources, err := sc.Build()
		if err != nil {
			return nil, err
		}
		st.directory, st.resources = directory, resources
		logr.Info("memory store seeded", zap.String("scenario", sc.Name), zap.String("path", path))
	}
	return st, nil
}
