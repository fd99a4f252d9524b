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
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/periodledger/internal/app"
	ledgerhttp "github.com/odyssey-erp/periodledger/internal/ledger/http"
	"github.com/odyssey-erp/periodledger/internal/rbac"
	"github.com/odyssey-erp/periodledger/jobs"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	svc, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close services", slog.Any("error", err))
		}
	}()

	var jobHandler *jobs.Handler
	if opts, ok := svc.RedisOpts(); ok && !app.InTestMode() {
		inspector := asynq.NewInspector(opts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("close inspector", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	rbacMiddleware := rbac.Middleware{Gate: svc.Gate, Logger: logger}
	router := app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: cfg,
		LedgerHandler: ledgerhttp.NewHandler(logger, ledgerhttp.Deps{
			Registry:    svc.Registry,
			Migrator:    svc.Migrator,
			Statements:  svc.Statements,
			Backups:     svc.Backups,
			RBAC:        rbacMiddleware,
			Idempotency: svc.Idempotency,
			Coordinator: svc.CoordinatorOptions(),
			PDF:         svc.PDF,
		}),
		PermissionsHandler: rbac.NewPermissionsHandler(svc.Gate),
		JobHandler:         jobHandler,
		Metrics:            svc.Metrics,
		Ready:              svc.Ready,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
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
