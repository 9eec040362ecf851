package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/trialsift/trialsift-engine/pkg/config"
	"github.com/trialsift/trialsift-engine/pkg/database"
	"github.com/trialsift/trialsift-engine/pkg/events"
	"github.com/trialsift/trialsift-engine/pkg/handlers"
	"github.com/trialsift/trialsift-engine/pkg/ingestion"
	"github.com/trialsift/trialsift-engine/pkg/metrics"
	"github.com/trialsift/trialsift-engine/pkg/middleware"
	"github.com/trialsift/trialsift-engine/pkg/repositories"
	"github.com/trialsift/trialsift-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("database", cfg.Database.Database),
		zap.String("reconcile_schedule", cfg.ReconcileSchedule))

	ctx := context.Background()

	// Migrations run over database/sql; the service itself uses pgx pools.
	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	provider := database.NewScopeProvider(db)

	// Repositories
	workRepo := repositories.NewWorkRepository()
	decisionRepo := repositories.NewDecisionRepository()
	conflictRepo := repositories.NewConflictRepository()
	projectRepo := repositories.NewProjectRepository()

	// Events
	dispatcher := events.NewDispatcher(logger)
	defer dispatcher.Close()
	dispatcher.Subscribe(metrics.Subscriber())

	// Ingestion queue. The handler here only logs; the real pipeline consumes
	// the queue snapshots through its own poller.
	queue := ingestion.NewMemoryQueue(func(ctx context.Context, req ingestion.Request) error {
		logger.Info("Ingestion requested",
			zap.String("work_id", req.WorkID.String()),
			zap.String("source", string(req.Source)))
		return nil
	}, cfg.Ingestion.Workers, ingestion.DefaultRetryConfig(), logger)
	defer queue.Close()

	// Services
	screeningService := services.NewScreeningService(workRepo, decisionRepo, conflictRepo, projectRepo, queue, dispatcher, logger)
	conflictService := services.NewConflictService(workRepo, conflictRepo, queue, dispatcher, logger)
	phaseService := services.NewPhaseService(workRepo, decisionRepo, conflictRepo, projectRepo, dispatcher, logger)

	// Reconciliation sweep
	scheduler := cron.New()
	if cfg.ReconcileSchedule != "" {
		reconciler := services.NewReconciler(provider, projectRepo, phaseService, logger)
		if _, err := scheduler.AddFunc(cfg.ReconcileSchedule, func() {
			reconciler.Sweep(context.Background())
		}); err != nil {
			logger.Fatal("Invalid reconcile schedule", zap.Error(err))
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// HTTP surface
	mux := http.NewServeMux()
	scoped := handlers.NewProjectScopeMiddleware(provider, logger)

	screeningHandler := handlers.NewScreeningHandler(screeningService, conflictService, phaseService, logger)
	screeningHandler.RegisterRoutes(mux, scoped)

	healthHandler := handlers.NewHealthHandler(cfg.Version, logger)
	healthHandler.RegisterRoutes(mux)

	mux.Handle("GET /metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		logger.Info("Starting trialsift-engine",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
