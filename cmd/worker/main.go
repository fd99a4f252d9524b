package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/periodledger/internal/app"
	"github.com/odyssey-erp/periodledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
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

	redisOpts, ok := svc.RedisOpts()
	if !ok {
		logger.Error("worker requires REDIS_ADDR")
		os.Exit(1)
	}

	uploader, err := svc.Uploader(ctx)
	if err != nil {
		logger.Error("init backup uploader", slog.Any("error", err))
		os.Exit(1)
	}
	jobMetrics := svc.Metrics.Jobs()
	integrityJob := jobs.NewIntegrityJob(svc.Registry, logger, jobMetrics)
	carryForwardJob := jobs.NewCarryForwardJob(svc.Migrator, svc.Registry, logger, jobMetrics)
	backupJob := jobs.NewBackupJob(svc.Backups, nil, logger, jobMetrics)
	if uploader != nil {
		backupJob.Uploader = uploader
	}

	integrityTask, err := jobs.NewIntegrityScanTask(jobs.AllPeriods)
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	cron := []jobs.CronRegistration{
		{Spec: cfg.IntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
	}
	if uploader != nil {
		backupTask, err := jobs.NewBackupTask()
		if err != nil {
			logger.Error("build backup task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.BackupCron, Task: backupTask})
	} else {
		logger.Info("BACKUP_S3_BUCKET not set, nightly backup disabled")
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskIntegrityScan, Handler: integrityJob.Handle},
			{Type: jobs.TaskCarryForward, Handler: carryForwardJob.Handle},
			{Type: jobs.TaskBackupUpload, Handler: backupJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
