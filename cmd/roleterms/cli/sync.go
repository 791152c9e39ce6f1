package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/schollz/progressbar/v3"

	"github.com/odyssey-erp/roleterms/internal/rolesync"
	"github.com/odyssey-erp/roleterms/jobs"
)

// SyncRunner executes role syncs inline.
type SyncRunner interface {
	Total(ctx context.Context, opts rolesync.Options) (int64, error)
	Run(ctx context.Context, opts rolesync.Options, progress rolesync.Reporter, verbose io.Writer) (rolesync.Result, error)
}

// SyncEnqueuer submits syncs to the worker queue.
type SyncEnqueuer interface {
	EnqueueRolesSync(ctx context.Context, payload jobs.RolesSyncPayload) (*asynq.TaskInfo, error)
}

// ProgressFactory builds the progress indicator shown with --progress.
type ProgressFactory func(total int64, description string, w io.Writer) rolesync.Reporter

// SyncCLI implements the sync command.
type SyncCLI struct {
	runner      SyncRunner
	queue       SyncEnqueuer
	newProgress ProgressFactory
}

// NewSyncCLI builds the command. queue may be nil when --enqueue is not
// supported.
func NewSyncCLI(runner SyncRunner, queue SyncEnqueuer) (*SyncCLI, error) {
	if runner == nil {
		return nil, errors.New("sync cli: runner required")
	}
	return &SyncCLI{runner: runner, queue: queue, newProgress: NewProgressBar}, nil
}

// SyncOptions defines available flags for the sync command.
type SyncOptions struct {
	TenantID     int64
	BatchSize    int
	Offset       int
	Limit        int
	Verbose      bool
	Progress     bool
	FastPopulate bool
	Enqueue      bool
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
}

// EnqueueSummary describes the JSON response for sync --enqueue.
type EnqueueSummary struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

// SyncCommand runs or enqueues a sync and prints the outcome. Failed bulk
// inserts are reported but do not change the exit code.
func (c *SyncCLI) SyncCommand(ctx context.Context, opts SyncOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	runOpts := rolesync.Options{
		TenantID:     opts.TenantID,
		BatchSize:    opts.BatchSize,
		Offset:       opts.Offset,
		Limit:        opts.Limit,
		Verbose:      opts.Verbose,
		FastPopulate: opts.FastPopulate,
	}
	if err := runOpts.Validate(); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 1
	}

	if opts.Enqueue {
		return c.enqueue(ctx, opts)
	}

	// keep stdout parseable when emitting JSON
	lines := opts.Stdout
	if opts.JSONOutput {
		lines = opts.Stderr
	}

	var progress rolesync.Reporter
	if opts.Progress {
		if opts.Verbose {
			_, _ = fmt.Fprintln(lines, "Counting users...")
		}
		total, err := c.runner.Total(ctx, runOpts)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "Error: count users: %v\n", err)
			return 1
		}
		progress = c.newProgress(total, fmt.Sprintf("Syncing %d Users", total), opts.Stderr)
	}

	res, err := c.runner.Run(ctx, runOpts, progress, lines)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 1
	}
	if res.InsertFailures > 0 {
		_, _ = fmt.Fprintf(opts.Stderr, "Warning: %d bulk inserts failed; affected users were not synced.\n", res.InsertFailures)
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(res); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "Error: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "Success: Synced %d users.\n", res.Synced)
	return 0
}

func (c *SyncCLI) enqueue(ctx context.Context, opts SyncOptions) int {
	if c.queue == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "Error: job queue not configured")
		return 1
	}
	info, err := c.queue.EnqueueRolesSync(ctx, jobs.RolesSyncPayload{
		TenantID:     opts.TenantID,
		BatchSize:    opts.BatchSize,
		Offset:       opts.Offset,
		Limit:        opts.Limit,
		FastPopulate: opts.FastPopulate,
	})
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "Error: enqueue: %v\n", err)
		return 1
	}
	summary := EnqueueSummary{Queue: jobs.QueueDefault}
	if info != nil {
		summary = EnqueueSummary{TaskID: info.ID, Queue: info.Queue}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "Error: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "Success: Enqueued sync task %s on queue %s.\n", summary.TaskID, summary.Queue)
	return 0
}

// NewProgressBar renders progress on w.
func NewProgressBar(total int64, description string, w io.Writer) rolesync.Reporter {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(w) }),
	)
}
