package rolesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/roleterms/internal/roleterms"
	"github.com/odyssey-erp/roleterms/internal/taxonomy"
	"github.com/odyssey-erp/roleterms/internal/users"
)

// Strategy names.
const (
	StrategyIncremental = "incremental"
	StrategyFastBulk    = "fast-bulk"
)

// UserSource is the user store a run reads from.
type UserSource interface {
	UserPager
	CountMembers(ctx context.Context, tenantID int64) (int64, error)
	GetUser(ctx context.Context, tenantID, id int64) (users.User, error)
	AttributeRows(ctx context.Context, tenantID int64, userIDs []int64, key string) ([]users.AttributeRow, error)
}

// ObjectCache is the cache a run resets between pages and flushes after a
// bulk population.
type ObjectCache interface {
	PageResetter
	FlushAll(ctx context.Context) error
}

// Reporter receives progress in processed users.
type Reporter interface {
	Add(n int) error
	Finish() error
}

// Strategy converts pages of users into term assignments.
type Strategy interface {
	Name() string
	// SyncPage processes ids and returns how many users it handled.
	SyncPage(ctx context.Context, run *Run, ids []int64) (int, error)
	// Finish runs once on every exit path of a run.
	Finish(ctx context.Context, run *Run) error
}

// Run is the state of one sync invocation. It is discarded when the run ends.
type Run struct {
	ID       uuid.UUID
	TenantID int64
	Logger   *slog.Logger
	Verbose  io.Writer

	Counts   *taxonomy.DeferredCounts
	Resolver *taxonomy.Resolver

	InsertFailures int
}

func (r *Run) verbosef(format string, args ...any) {
	if r.Verbose != nil {
		fmt.Fprintf(r.Verbose, format+"\n", args...)
	}
}

// Result summarises a finished run.
type Result struct {
	RunID          string        `json:"run_id"`
	Strategy       string        `json:"strategy"`
	TenantID       int64         `json:"tenant_id"`
	Synced         int           `json:"synced"`
	Pages          int           `json:"pages"`
	InsertFailures int           `json:"insert_failures"`
	Duration       time.Duration `json:"duration"`
}

// Deps wires a Syncer to its stores.
type Deps struct {
	Users  UserSource
	Terms  taxonomy.Store
	Hooks  users.Listener
	Cache  ObjectCache
	Logger *slog.Logger
}

// Syncer runs sync jobs.
type Syncer struct {
	deps  Deps
	clock func() time.Time
}

// NewSyncer builds a Syncer.
func NewSyncer(deps Deps) *Syncer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Syncer{deps: deps, clock: time.Now}
}

// Total returns how many users a run with opts will visit at most.
func (s *Syncer) Total(ctx context.Context, opts Options) (int64, error) {
	n, err := s.deps.Users.CountMembers(ctx, opts.TenantID)
	if err != nil {
		return 0, err
	}
	n -= int64(opts.Offset)
	if n < 0 {
		n = 0
	}
	if opts.Limit > 0 && int64(opts.Limit) < n {
		n = int64(opts.Limit)
	}
	return n, nil
}

func (s *Syncer) strategy(opts Options) Strategy {
	if opts.FastPopulate {
		return NewFastBulk(s.deps.Users, s.deps.Terms, s.deps.Cache)
	}
	return NewIncremental(s.deps.Users, s.deps.Hooks, s.deps.Terms)
}

// Run executes one sync. progress and verbose may be nil. Pages already
// written stay written when a later page fails.
func (s *Syncer) Run(ctx context.Context, opts Options, progress Reporter, verbose io.Writer) (result Result, err error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	strategy := s.strategy(opts)
	run := &Run{
		ID:       uuid.New(),
		TenantID: opts.TenantID,
		Counts:   taxonomy.NewDeferredCounts(),
		Resolver: taxonomy.NewResolver(s.deps.Terms, opts.TenantID),
	}
	if opts.Verbose {
		run.Verbose = verbose
	}
	run.Logger = s.deps.Logger.With(
		slog.String("run_id", run.ID.String()),
		slog.String("strategy", strategy.Name()),
		slog.Int64("tenant_id", opts.TenantID),
	)
	start := s.clock()
	cursor := NewCursor(s.deps.Users, CursorConfig{
		TenantID: opts.TenantID,
		PageSize: opts.BatchSize,
		Offset:   opts.Offset,
		Limit:    opts.Limit,
	}, s.deps.Cache)

	if err := roleterms.EnsureNamespaces(ctx, s.deps.Terms, opts.TenantID); err != nil {
		return Result{}, fmt.Errorf("rolesync: register namespaces: %w", err)
	}

	run.Logger.Info("sync started", slog.Int("batch_size", opts.BatchSize), slog.Int("offset", opts.Offset), slog.Int("limit", opts.Limit))
	defer func() {
		if ferr := strategy.Finish(ctx, run); ferr != nil {
			err = errors.Join(err, fmt.Errorf("rolesync: finish %s: %w", strategy.Name(), ferr))
		}
		if progress != nil {
			_ = progress.Finish()
		}
		result = Result{
			RunID:          run.ID.String(),
			Strategy:       strategy.Name(),
			TenantID:       opts.TenantID,
			Synced:         cursor.Processed(),
			Pages:          cursor.Pages(),
			InsertFailures: run.InsertFailures,
			Duration:       s.clock().Sub(start),
		}
		if err != nil {
			run.Logger.Error("sync aborted", slog.Int("synced", result.Synced), slog.Any("error", err))
			return
		}
		run.Logger.Info("sync finished", slog.Int("synced", result.Synced), slog.Int("pages", result.Pages), slog.Int("insert_failures", result.InsertFailures))
	}()

	for {
		ids, err := cursor.Next(ctx)
		if errors.Is(err, ErrExhausted) {
			return result, nil
		}
		if err != nil {
			return result, err
		}
		if rem, limited := cursor.Remaining(); limited && len(ids) > rem {
			ids = ids[:rem]
		}
		n, err := strategy.SyncPage(ctx, run, ids)
		cursor.Record(n)
		if progress != nil && n > 0 {
			_ = progress.Add(n)
		}
		if err != nil {
			return result, err
		}
	}
}
