package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/roleterms/internal/app"
	"github.com/odyssey-erp/roleterms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	services, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap services", slog.Any("error", err))
		os.Exit(1)
	}
	defer services.Close()
	services.Objects.ListenForFlush(ctx)

	syncJob := jobs.NewRolesSyncJob(services.Syncer, logger, services.Metrics.Jobs())

	var cron []jobs.CronRegistration
	if cfg.SyncCron != "" {
		task, err := jobs.NewRolesSyncTask(jobs.RolesSyncPayload{TenantID: cfg.TenantID, BatchSize: cfg.SyncBatchSize})
		if err != nil {
			logger.Error("build sync task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.SyncCron, Task: task, Options: []asynq.Option{asynq.MaxRetry(0)}})
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRolesSync, Handler: syncJob.Handle},
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
