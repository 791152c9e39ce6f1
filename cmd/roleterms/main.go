package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/roleterms/cmd/roleterms/cli"
	"github.com/odyssey-erp/roleterms/internal/app"
	"github.com/odyssey-erp/roleterms/internal/roleterms"
	"github.com/odyssey-erp/roleterms/internal/users"
	"github.com/odyssey-erp/roleterms/jobs"
)

// exitError carries a command exit code through cobra.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func exitWith(code int) error {
	if code == 0 {
		return nil
	}
	return exitError{code: code}
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping cli startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	var exit exitError
	switch {
	case err == nil:
	case errors.As(err, &exit):
		stop()
		os.Exit(exit.code)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "roleterms",
		Short:         "Role taxonomy migration and user listing service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSyncCmd(), newCountCmd(), newServeCmd(), newMigrateCmd())
	return root
}

// withServices loads configuration, wires the services and runs fn.
func withServices(ctx context.Context, fn func(*app.Services) error) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	services, err := app.Bootstrap(ctx, cfg, app.NewLogger(cfg))
	if err != nil {
		return err
	}
	defer services.Close()
	return fn(services)
}

func newSyncCmd() *cobra.Command {
	var opts cli.SyncOptions
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Backfill the roles and levels taxonomies from legacy user attributes",
		Long: `Walks tenant members page by page and assigns role and level terms.

The default strategy replaces each user's assignments and can be re-run safely.
--fast-populate appends rows with one insert per page; run it once on an empty
taxonomy only, since re-running it duplicates assignments.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(s *app.Services) error {
				if !cmd.Flags().Changed("tenant") {
					opts.TenantID = s.Config.TenantID
				}
				if !cmd.Flags().Changed("batch-size") {
					opts.BatchSize = s.Config.SyncBatchSize
				}
				var queue cli.SyncEnqueuer
				if opts.Enqueue {
					client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: s.Config.RedisAddr, DB: s.Config.RedisDB})
					if err != nil {
						return err
					}
					defer func() { _ = client.Close() }()
					queue = client
				}
				c, err := cli.NewSyncCLI(s.Syncer, queue)
				if err != nil {
					return err
				}
				opts.Stdout = cmd.OutOrStdout()
				opts.Stderr = cmd.ErrOrStderr()
				return exitWith(c.SyncCommand(cmd.Context(), opts))
			})
		},
	}
	flags := cmd.Flags()
	flags.Int64Var(&opts.TenantID, "tenant", 0, "Tenant to sync (default from TENANT_ID)")
	flags.IntVar(&opts.BatchSize, "batch-size", 100, "Users per page (at most 16383)")
	flags.IntVar(&opts.Offset, "offset", 0, "Users to skip before the first page")
	flags.IntVar(&opts.Limit, "limit", 0, "Maximum users to process (0 for all)")
	flags.BoolVar(&opts.Verbose, "verbose", false, "Print one line per synced user")
	flags.BoolVar(&opts.Progress, "progress", false, "Show a progress bar")
	flags.BoolVar(&opts.FastPopulate, "fast-populate", false, "Bulk insert assignments, bypassing the role hooks")
	flags.BoolVar(&opts.Enqueue, "enqueue", false, "Submit the sync to the worker queue instead of running it")
	flags.BoolVar(&opts.JSONOutput, "json", false, "Print the run summary as JSON")
	return cmd
}

func newCountCmd() *cobra.Command {
	var opts cli.CountOptions
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print how many users hold each role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(s *app.Services) error {
				if !cmd.Flags().Changed("tenant") {
					opts.TenantID = s.Config.TenantID
				}
				c, err := cli.NewCountCLI(s.Rewriter)
				if err != nil {
					return err
				}
				opts.Stdout = cmd.OutOrStdout()
				opts.Stderr = cmd.ErrOrStderr()
				return exitWith(c.CountCommand(cmd.Context(), opts))
			})
		},
	}
	cmd.Flags().Int64Var(&opts.TenantID, "tenant", 0, "Tenant to count (default from TENANT_ID)")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "Print counts as JSON")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(s *app.Services) error {
				if err := s.Migrate(cmd.Context()); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Success: Schema applied.")
				return nil
			})
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the user listing HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(s *app.Services) error {
				return serve(cmd.Context(), s)
			})
		},
	}
}

func serve(ctx context.Context, s *app.Services) error {
	logger := s.Logger
	s.Objects.ListenForFlush(ctx)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: s.Config.RedisAddr, DB: s.Config.RedisDB})
	defer func() { _ = inspector.Close() }()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        s.Config,
		UsersHandler:  users.NewHandler(logger, s.Users, s.Config.TenantID),
		CountsHandler: roleterms.NewHandler(logger, s.Rewriter, s.Config.TenantID),
		JobHandler:    jobs.NewHandler(inspector, logger),
		Metrics:       s.Metrics,
	})

	server := &http.Server{
		Addr:         s.Config.AppAddr,
		Handler:      router,
		ReadTimeout:  s.Config.AppReadTimeout,
		WriteTimeout: s.Config.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", s.Config.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}
