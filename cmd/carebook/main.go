package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/carebook/carebook/internal/app"
	"github.com/carebook/carebook/internal/auth"
	"github.com/carebook/carebook/internal/authz"
	"github.com/carebook/carebook/internal/directory"
	"github.com/carebook/carebook/internal/observability"
	"github.com/carebook/carebook/internal/platform/cache"
	"github.com/carebook/carebook/internal/platform/db"
	"github.com/carebook/carebook/internal/shared"
	"github.com/carebook/carebook/internal/users"
	"github.com/carebook/carebook/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "carebook_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool)
	metrics := observability.NewMetrics()

	catalog := authz.DefaultCatalog()
	authzStore := authz.NewPGStore(dbpool)
	resolver := authz.NewResolver(catalog, authzStore, logger, cfg.IsProduction())
	snapshots := authz.NewSnapshotCache(redisClient, cfg.SnapshotTTL)
	authzService := authz.NewService(catalog, authzStore, resolver, snapshots, auditLogger, logger)
	guard := authz.Guard{
		Resolver:   resolver,
		Logger:     logger,
		Metrics:    metrics,
		Production: cfg.IsProduction(),
	}
	authzHandler := authz.NewHandler(logger, authzService, guard)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, authzService, sessionManager, csrfManager)

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, auditLogger, logger)
	usersHandler := users.NewHandler(logger, usersService, guard)

	directoryRepo := directory.NewRepository(dbpool)
	directoryService := directory.NewService(directoryRepo, auditLogger, logger)
	ownership := authz.NewOwnershipChecker(directoryRepo, directoryRepo, directoryRepo)
	directoryHandler := directory.NewHandler(logger, directoryService, guard, ownership)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		AuthService:      authService,
		AuthHandler:      authHandler,
		AuthzHandler:     authzHandler,
		UsersHandler:     usersHandler,
		DirectoryHandler: directoryHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
