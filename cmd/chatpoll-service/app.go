package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/rapls/lms-chat-system-sub004/internal/auth"
	"github.com/rapls/lms-chat-system-sub004/internal/config"
	"github.com/rapls/lms-chat-system-sub004/internal/constants"
	"github.com/rapls/lms-chat-system-sub004/internal/event"
	"github.com/rapls/lms-chat-system-sub004/internal/logger"
	"github.com/rapls/lms-chat-system-sub004/internal/membership"
	"github.com/rapls/lms-chat-system-sub004/internal/poll"
	"github.com/rapls/lms-chat-system-sub004/internal/retention"
	"github.com/rapls/lms-chat-system-sub004/internal/rollout"
	"github.com/rapls/lms-chat-system-sub004/pkg/bootstrap"
	"github.com/rapls/lms-chat-system-sub004/pkg/circuitbreaker"
	"github.com/rapls/lms-chat-system-sub004/pkg/health"
	"github.com/rapls/lms-chat-system-sub004/pkg/metrics"
	"github.com/rapls/lms-chat-system-sub004/pkg/middleware"
	"github.com/rapls/lms-chat-system-sub004/pkg/ratelimit"
	"github.com/rapls/lms-chat-system-sub004/pkg/tracing"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	server         *http.Server
	router         *gin.Engine
	tracerProvider *tracing.TracerProvider

	rolloutService *rollout.Service
	sweeper        *retention.Sweeper
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initRouter(ctx); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	tp, err := tracing.Init(a.config.Tracing, "chatpoll-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	// Redis is optional: without it polling degrades to store-only and
	// the per-user limits go advisory-off on this node.
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.logger.WarnwCtx(ctx, "Redis connection failed, continuing without fast path and limiter", "error", err)
	} else {
		a.redis = rdb
	}

	return nil
}

func (a *App) redisBreaker() *circuitbreaker.Wrapper {
	cfg := circuitbreaker.DefaultConfig("redis")
	if a.config.Breaker.MaxRequests > 0 {
		cfg.MaxRequests = a.config.Breaker.MaxRequests
	}
	if a.config.Breaker.Interval > 0 {
		cfg.Interval = a.config.Breaker.Interval
	}
	if a.config.Breaker.Timeout > 0 {
		cfg.Timeout = a.config.Breaker.Timeout
	}
	if a.config.Breaker.FailureRatio > 0 && a.config.Breaker.MinRequests > 0 {
		ratio := a.config.Breaker.FailureRatio
		minRequests := a.config.Breaker.MinRequests
		cfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		}
	}
	return circuitbreaker.NewWrapper(cfg)
}

func (a *App) initRouter(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("chatpoll-service"))
	}

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	eventRepo := event.NewRepository(a.db)
	memberChecker := membership.NewChecker(a.db)

	var fastPath event.FastPath = event.NopFastPath{}
	var limiter poll.Limiter = poll.NopLimiter{}
	if a.redis != nil {
		breaker := a.redisBreaker()
		if !a.config.Poll.FastPathDisabled {
			fastPath = event.NewRedisFastPath(a.redis, breaker, a.config.Poll.FastPathTTL, a.logger)
		}
		limiter = poll.NewRedisLimiter(a.redis, breaker,
			a.config.Limits.MaxConnectionsPerUser,
			a.config.Limits.RequestsPerMinute,
			a.logger)
	}

	rolloutRepo := rollout.NewRepository(a.db)
	auditRepo := rollout.NewAuditRepository(a.db)
	a.rolloutService = rollout.NewService(rolloutRepo, auditRepo, a.config.Rollout, a.logger)
	if err := a.rolloutService.Refresh(ctx); err != nil {
		// Tolerable on a cold start; the refresh ticker retries and
		// routing stays at the disabled default until it succeeds.
		a.logger.WarnwCtx(ctx, "Initial rollout config load failed", "error", err)
	}

	a.sweeper = retention.NewSweeper(eventRepo, a.config.Retention, a.logger)

	producer := event.NewProducer(eventRepo, fastPath, a.config.Retention.Window, a.logger)

	coordinator := poll.NewCoordinator(
		eventRepo,
		fastPath,
		memberChecker,
		limiter,
		a.rolloutService,
		a.sweeper,
		a.config.Poll,
		a.config.Retention.InlineProbability,
		a.logger,
	)

	verifier := auth.NewVerifier(a.config.Auth.NonceSecret, a.config.Auth.NonceScopes, a.config.Auth.NonceMaxAge)

	pollHandler := poll.NewHandler(coordinator, verifier, a.rolloutService, a.logger)
	pollHandler.RegisterRoutes(router)

	eventHandler := event.NewHandler(producer, a.config.Auth.AdminToken, a.logger)
	eventHandler.RegisterRoutes(router)

	var adminMiddlewares []gin.HandlerFunc
	if a.config.RateLimit.Enabled {
		rlConfig := ratelimit.Config{
			RPS:             a.config.RateLimit.RPS,
			Burst:           a.config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.config.RateLimit.MaxAge) * time.Second,
		}
		adminMiddlewares = append(adminMiddlewares, ratelimit.Middleware(rlConfig))
		a.logger.InfowCtx(ctx, "Admin rate limiting enabled", "rps", rlConfig.RPS, "burst", rlConfig.Burst)
	}

	rolloutHandler := rollout.NewHandler(a.rolloutService, a.config.Auth.AdminToken, a.logger)
	rolloutHandler.RegisterRoutes(router, adminMiddlewares...)

	metrics.Register()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	if a.redis != nil {
		healthRegistry.RegisterOptional(health.NewRedisChecker(a.redis))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
	return nil
}

func (a *App) initServer() error {
	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Server.Port),
		Handler: a.router,
	}
	if a.config.Server.ReadTimeoutSeconds > 0 {
		a.server.ReadTimeout = a.config.Server.ReadTimeoutSeconds
	}
	// The write timeout must exceed the longest admissible poll or the
	// server kills responses mid-wait.
	writeTimeout := a.config.Server.WriteTimeoutSeconds
	if writeTimeout <= a.config.Poll.MaxTimeout {
		writeTimeout = a.config.Poll.MaxTimeout + 10*time.Second
	}
	a.server.WriteTimeout = writeTimeout
	return nil
}

func (a *App) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return ignoreCancel(a.sweeper.Run(groupCtx))
	})

	group.Go(func() error {
		return ignoreCancel(a.rolloutService.Run(groupCtx))
	})

	group.Go(func() error {
		<-groupCtx.Done()
		return a.Shutdown(ctx)
	})

	return group.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	errs = append(errs, a.dbConnector.ShutdownDatabases(a.redis, a.db)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Server exited successfully")
	return nil
}
