package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/roleterms/internal/jobs"
	"github.com/odyssey-erp/roleterms/internal/rolesync"
)

// SyncRunner executes one sync run.
type SyncRunner interface {
	Run(ctx context.Context, opts rolesync.Options, progress rolesync.Reporter, verbose io.Writer) (rolesync.Result, error)
}

// RolesSyncJob runs queued role syncs.
type RolesSyncJob struct {
	Runner  SyncRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRolesSyncJob initialises the sync handler.
func NewRolesSyncJob(runner SyncRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *RolesSyncJob {
	return &RolesSyncJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle executes a roles:sync task. Malformed payloads and invalid options
// are not retried.
func (j *RolesSyncJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Runner == nil {
		return errors.New("roles sync: handler not configured")
	}
	var payload RolesSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = rolesync.DefaultBatchSize
	}
	opts := rolesync.Options{
		TenantID:     payload.TenantID,
		BatchSize:    payload.BatchSize,
		Offset:       payload.Offset,
		Limit:        payload.Limit,
		FastPopulate: payload.FastPopulate,
	}

	tracker := j.Metrics.Track(TaskRolesSync)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.Int64("tenant_id", opts.TenantID),
		slog.String("strategy", opts.StrategyName()),
	)
	logger.Info("starting roles sync")

	res, err := j.Runner.Run(ctx, opts, nil, nil)
	j.Metrics.AddSynced(res.Strategy, opts.TenantID, res.Synced)
	j.Metrics.AddInsertFailures(opts.TenantID, res.InsertFailures)
	if err != nil {
		logger.Error("roles sync failed", slog.Int("synced", res.Synced), slog.Any("error", err))
		if errors.Is(err, rolesync.ErrInvalidOptions) {
			return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
		}
		return err
	}

	logger.Info("completed roles sync",
		slog.String("run_id", res.RunID),
		slog.Int("synced", res.Synced),
		slog.Int("insert_failures", res.InsertFailures),
		slog.Duration("duration", res.Duration),
	)
	return nil
}

func (j *RolesSyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
