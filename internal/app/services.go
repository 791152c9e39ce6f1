package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/roleterms/internal/observability"
	"github.com/odyssey-erp/roleterms/internal/platform/cache"
	"github.com/odyssey-erp/roleterms/internal/platform/db"
	"github.com/odyssey-erp/roleterms/internal/roles"
	"github.com/odyssey-erp/roleterms/internal/rolesync"
	"github.com/odyssey-erp/roleterms/internal/roleterms"
	"github.com/odyssey-erp/roleterms/internal/taxonomy"
	"github.com/odyssey-erp/roleterms/internal/users"
)

// Services holds the wired domain components shared by the server, the
// worker and the CLI.
type Services struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Objects *cache.Objects
	Metrics *observability.Metrics

	Terms    *taxonomy.Repository
	Users    *users.Service
	Hooks    *roleterms.Hooks
	Rewriter *roleterms.Rewriter
	Syncer   *rolesync.Syncer
}

// Bootstrap connects to Postgres and Redis and wires the services. Redis is
// optional: when it cannot be reached the object cache runs process-local.
func Bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, err
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable, using process-local cache", slog.Any("error", err))
		redisClient = nil
	}
	objects, err := cache.NewObjects(redisClient, cache.Options{TTL: cfg.CacheTTL, LocalSize: cfg.LocalCacheSize})
	if err != nil {
		pool.Close()
		return nil, err
	}

	registry, err := roles.NewService(roles.NewRepository(pool)).LoadRegistry(ctx)
	if err != nil {
		logger.Warn("load role definitions, using defaults", slog.Any("error", err))
		registry = roles.DefaultRegistry()
	}

	terms := taxonomy.NewRepository(pool)
	userService := users.NewService(users.NewRepository(pool), objects, registry, logger)
	hooks := roleterms.NewHooks(terms, userService)
	userService.Subscribe(hooks)
	rewriter := roleterms.NewRewriter(terms, cfg.TenantID, logger)
	userService.UseQueryHooks(rewriter)

	syncer := rolesync.NewSyncer(rolesync.Deps{
		Users:  userService,
		Terms:  terms,
		Hooks:  hooks,
		Cache:  objects,
		Logger: logger,
	})

	return &Services{
		Config:   cfg,
		Logger:   logger,
		Pool:     pool,
		Redis:    redisClient,
		Objects:  objects,
		Metrics:  observability.NewMetrics(),
		Terms:    terms,
		Users:    userService,
		Hooks:    hooks,
		Rewriter: rewriter,
		Syncer:   syncer,
	}, nil
}

// Close releases the database pool and the Redis client.
func (s *Services) Close() {
	if s == nil {
		return
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Migrate applies the embedded schema.
func (s *Services) Migrate(ctx context.Context) error {
	if err := db.Migrate(ctx, s.Pool); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	return nil
}
