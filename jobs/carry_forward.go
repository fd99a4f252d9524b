package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/periodledger/internal/carryforward"
	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/observability"
	"github.com/odyssey-erp/periodledger/internal/periods"
)

// Migrator runs one carry-forward. *carryforward.Migrator satisfies it.
type Migrator interface {
	Migrate(ctx context.Context, sourceID, destID string) (carryforward.Delta, error)
}

// Resolver maps the "active" alias. *periods.Registry satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, id string) (string, error)
}

// CarryForwardJob runs queued migrations. A held destination lock is
// retried by asynq; bad requests are dropped.
type CarryForwardJob struct {
	Migrator Migrator
	Resolver Resolver
	Logger   *slog.Logger
	Metrics  *observability.JobMetrics
}

// NewCarryForwardJob constructs the job handler.
func NewCarryForwardJob(m Migrator, r Resolver, logger *slog.Logger, metrics *observability.JobMetrics) *CarryForwardJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CarryForwardJob{Migrator: m, Resolver: r, Logger: logger, Metrics: metrics}
}

// Handle executes the migration.
func (j *CarryForwardJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Migrator == nil || j.Resolver == nil {
		return errors.New("carry forward: dependencies not configured")
	}
	var payload CarryForwardPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskCarryForward)
	defer func() { err = tracker.End(err) }()

	src, err := j.Resolver.Resolve(ctx, payload.Source)
	if err != nil {
		return permanent(err)
	}
	dst, err := j.Resolver.Resolve(ctx, payload.Dest)
	if err != nil {
		return permanent(err)
	}
	delta, err := j.Migrator.Migrate(ctx, src, dst)
	if err != nil {
		j.Logger.Error("carry forward failed", slog.String("source", src), slog.String("dest", dst), slog.Any("error", err))
		return permanent(err)
	}
	j.Logger.Info("carry forward completed",
		slog.String("source", src),
		slog.String("dest", dst),
		slog.Int("customers", len(delta.Customers)),
		slog.Int("partners", len(delta.Partners)),
		slog.Int("openings", len(delta.Openings)))
	return nil
}

// permanent marks errors a retry cannot fix.
func permanent(err error) error {
	switch {
	case errors.Is(err, carryforward.ErrSamePeriod),
		errors.Is(err, periods.ErrPeriodNotFound),
		errors.Is(err, periods.ErrNoActivePeriod),
		ledger.IsValidation(err):
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
