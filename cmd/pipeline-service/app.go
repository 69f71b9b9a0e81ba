package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"msgvault/internal/api"
	"msgvault/internal/backup"
	"msgvault/internal/capture"
	"msgvault/internal/clean"
	"msgvault/internal/config"
	"msgvault/internal/dedup"
	"msgvault/internal/ledger"
	"msgvault/internal/logger"
	"msgvault/internal/pipeline"
	"msgvault/internal/staging"
	"msgvault/pkg/bootstrap"
	"msgvault/pkg/health"
	"msgvault/pkg/metrics"
	"msgvault/pkg/middleware"
	"msgvault/pkg/ratelimit"
)

type App struct {
	*bootstrap.Base
	storeConnector *bootstrap.StoreConnector
	db             *sql.DB
	server         *http.Server
	router         *gin.Engine

	Runner    *pipeline.Runner
	Snapshots *backup.Manager
	Status    *api.StatusService
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:           bootstrap.NewBase(cfg, log),
		storeConnector: bootstrap.NewStoreConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initStore(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	return nil
}

func (a *App) initStore(ctx context.Context) error {
	db, err := a.storeConnector.OpenStore(ctx)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	captureRepo := capture.NewRepository(a.db)
	fingerprinter := dedup.NewFingerprinter(a.Config.Dedup)
	stagingRepo := staging.NewRepository(a.db, fingerprinter)
	cleanRepo := clean.NewRepository(a.db, captureRepo)
	ledgerRepo := ledger.NewRepository(a.db)
	deduper := dedup.NewService(stagingRepo, cleanRepo, fingerprinter, a.Logger)

	snapshotRepo := backup.NewRepository(a.db)
	snapshots, err := backup.NewManager(a.db, a.Config.Database.Path, a.Config.Backup, snapshotRepo, a.Logger)
	if err != nil {
		return err
	}

	a.Snapshots = snapshots
	a.Runner = pipeline.NewRunner(
		captureRepo,
		stagingRepo,
		cleanRepo,
		ledgerRepo,
		deduper,
		snapshots,
		a.Config.Pipeline,
		a.Config.Backup.PreOperation,
		a.Logger,
	)
	a.Status = api.NewStatusService(captureRepo, cleanRepo, ledgerRepo, snapshots)

	if recovered, err := a.Runner.RecoverStale(ctx); err != nil {
		return err
	} else if recovered > 0 {
		a.Logger.InfowCtx(ctx, "Recovered stale batches at startup", "count", recovered)
	}

	return nil
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.Config{
			RPS:             a.Config.RateLimit.RPS,
			Burst:           a.Config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.Middleware(rateLimitConfig))
		a.Logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	captureRepo := capture.NewRepository(a.db)
	captureSvc := capture.NewService(captureRepo, a.Logger)
	cleanRepo := clean.NewRepository(a.db, captureRepo)
	ledgerRepo := ledger.NewRepository(a.db)

	handler := api.NewHandler(captureSvc, cleanRepo, ledgerRepo, a.Snapshots, a.Runner, a.Status, a.Logger)
	handler.RegisterRoutes(router)

	metrics.RegisterPipelineMetrics()
	metrics.RegisterSnapshotMetrics()
	metrics.RegisterHTTPMetrics()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewStoreChecker(a.db))
	healthRegistry.Register(health.NewSnapshotDirChecker(a.Config.Backup.Dir))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	return nil
}

func (a *App) initServer() error {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  time.Duration(a.Config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.Config.Server.WriteTimeoutSeconds) * time.Second,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gctx, "Server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.Runner.RunLoop(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(gctx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}

		errs = append(errs, a.storeConnector.ShutdownStore(a.db)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
