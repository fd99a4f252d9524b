package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/periodledger/internal/backup"
	"github.com/odyssey-erp/periodledger/internal/carryforward"
	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/observability"
	"github.com/odyssey-erp/periodledger/internal/periods"
	"github.com/odyssey-erp/periodledger/internal/platform/cache"
	"github.com/odyssey-erp/periodledger/internal/platform/db"
	"github.com/odyssey-erp/periodledger/internal/platform/memstore"
	"github.com/odyssey-erp/periodledger/internal/platform/pgstore"
	"github.com/odyssey-erp/periodledger/internal/rbac"
	"github.com/odyssey-erp/periodledger/internal/shared"
	"github.com/odyssey-erp/periodledger/internal/statements"
	"github.com/odyssey-erp/periodledger/report"
)

// Services is the ledger object graph shared by the server, the worker and
// the admin CLI.
type Services struct {
	Config     *Config
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Registry   *periods.Registry
	Statements *statements.Service
	Migrator   *carryforward.Migrator
	Backups    *backup.Service
	Gate       *rbac.StaticGate

	// Idempotency is disabled when Redis is unavailable.
	Idempotency *shared.IdempotencyStore
	// PDF answers report.ErrDisabled without GOTENBERG_URL.
	PDF         *report.StatementRenderer
}

// Build connects the configured backends and wires every service. A Redis
// outage disables caching and locking instead of failing startup.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, error) {
	s := &Services{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	var (
		catalog periods.Catalog
		backend periods.Backend
	)
	switch cfg.StoreDriver {
	case DriverPostgres:
		pool, err := db.New(ctx, cfg.PGDSN, 0)
		if err != nil {
			return nil, err
		}
		s.Pool = pool
		pgCatalog := pgstore.NewCatalog(pool)
		if err := pgCatalog.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		catalog = pgCatalog
		backend = pgstore.NewBackend(pool, logger, s.Metrics)
	case DriverMemory:
		catalog, backend = memstore.NewCatalog(), memstore.NewBackend()
	default:
		return nil, fmt.Errorf("app: unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Warn("redis unavailable, statement cache and carry-forward lock disabled", slog.Any("error", err))
		} else {
			s.Redis = client
		}
	}

	roles, err := rbac.ParseRolePermissions(cfg.RolePermissions)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Gate = rbac.NewStaticGate(roles)

	s.Registry = periods.NewRegistry(catalog, backend, logger)

	stmtOpts := []statements.Option{
		statements.WithCurrency(cfg.Currency),
		statements.WithLogger(logger),
		statements.WithCacheObserver(s.Metrics),
	}
	migOpts := []carryforward.Option{carryforward.WithLogger(logger)}
	if s.Redis != nil {
		stmtOpts = append(stmtOpts, statements.WithCache(statements.NewCache(s.Redis, cfg.StatementCacheTTL)))
		migOpts = append(migOpts, carryforward.WithLocker(cache.NewLocker(s.Redis), cfg.CarryForwardLock))
	}
	s.Idempotency = shared.NewIdempotencyStore(s.Redis, 24*time.Hour)
	s.PDF = report.NewStatementRenderer(report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout))
	s.Statements = statements.NewService(s.Registry, stmtOpts...)
	s.Registry.OnSwitch(s.Statements.OnSwitch)
	s.Registry.OnDelete(s.invalidateStatements)
	s.Migrator = carryforward.NewMigrator(s.Registry, append(migOpts, carryforward.WithAfterCommit(s.invalidateStatements))...)
	s.Backups = backup.NewService(s.Registry,
		backup.WithLogger(logger),
		backup.WithAfterRestore(s.invalidateStatements))
	return s, nil
}

// invalidateStatements drops cached statements of a period whose rows
// changed outside a coordinator.
func (s *Services) invalidateStatements(ctx context.Context, periodID string) {
	if err := s.Statements.Invalidate(ctx, periodID); err != nil {
		s.Logger.Warn("invalidate statements", slog.String("period", periodID), slog.Any("error", err))
	}
}

// CoordinatorOptions are applied to every coordinator the process creates.
func (s *Services) CoordinatorOptions() []ledger.Option {
	return []ledger.Option{
		ledger.WithLogger(s.Logger),
		ledger.WithMetrics(s.Metrics),
		ledger.WithCommitHook(s.Statements.CommitHook()),
	}
}

// Coordinator binds a coordinator to period, which may be "active".
func (s *Services) Coordinator(ctx context.Context, period string) (*ledger.Coordinator, error) {
	id, err := s.Registry.Resolve(ctx, period)
	if err != nil {
		return nil, err
	}
	store, err := s.Registry.GetStore(ctx, id)
	if err != nil {
		return nil, err
	}
	return ledger.NewCoordinator(store, s.CoordinatorOptions()...), nil
}

// Uploader returns the S3 uploader, or nil when no bucket is configured.
func (s *Services) Uploader(ctx context.Context) (*backup.S3Uploader, error) {
	if !s.Config.BackupEnabled() {
		return nil, nil
	}
	return backup.NewS3Uploader(ctx, s.Config.S3())
}

// RedisOpts are the asynq connection settings. ok is false without Redis.
func (s *Services) RedisOpts() (opts asynq.RedisClientOpt, ok bool) {
	if s.Config.RedisAddr == "" {
		return opts, false
	}
	return asynq.RedisClientOpt{Addr: s.Config.RedisAddr, Password: s.Config.RedisPassword, DB: s.Config.RedisDB}, true
}

// Ready pings the backing services.
func (s *Services) Ready(ctx context.Context) error {
	if s.Pool != nil {
		if err := s.Pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases store handles and connections.
func (s *Services) Close() error {
	var errs []error
	if s.Registry != nil {
		errs = append(errs, s.Registry.Close())
	}
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
	return errors.Join(errs...)
}
