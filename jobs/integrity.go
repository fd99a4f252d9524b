package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/observability"
	"github.com/odyssey-erp/periodledger/internal/periods"
)

// PeriodSource lists periods and opens their stores. *periods.Registry satisfies it.
type PeriodSource interface {
	Periods(ctx context.Context) ([]periods.FiscalPeriod, error)
	Resolve(ctx context.Context, id string) (string, error)
	GetStore(ctx context.Context, id string) (ledger.Store, error)
}

// IntegrityJob recomputes derived balances and reports drift. Drift is
// logged and exported as a gauge; it does not fail the task.
type IntegrityJob struct {
	Source  PeriodSource
	Logger  *slog.Logger
	Metrics *observability.JobMetrics
}

// NewIntegrityJob constructs the job handler.
func NewIntegrityJob(source PeriodSource, logger *slog.Logger, metrics *observability.JobMetrics) *IntegrityJob {
	return &IntegrityJob{Source: source, Logger: logger, Metrics: metrics}
}

// Handle executes the scan.
func (j *IntegrityJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Source == nil {
		return errors.New("integrity scan: dependencies not configured")
	}
	var payload IntegrityPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskIntegrityScan)
	defer func() { err = tracker.End(err) }()

	ids, err := j.targets(ctx, payload.Period)
	if err != nil {
		if errors.Is(err, periods.ErrNoActivePeriod) {
			j.log().Info("integrity scan skipped, no active period")
			return nil
		}
		return err
	}
	for _, id := range ids {
		report, err := j.Scan(ctx, id)
		if err != nil {
			return err
		}
		for _, issue := range report.Issues {
			j.log().Warn("integrity issue",
				slog.String("period", id),
				slog.String("kind", string(issue.Kind)),
				slog.String("entity", issue.EntityID),
				slog.String("detail", issue.Detail))
		}
	}
	return nil
}

// Scan checks one period and publishes its issue count.
func (j *IntegrityJob) Scan(ctx context.Context, periodID string) (ledger.IntegrityReport, error) {
	store, err := j.Source.GetStore(ctx, periodID)
	if err != nil {
		return ledger.IntegrityReport{}, err
	}
	report, err := ledger.CheckIntegrity(ctx, store)
	if err != nil {
		return report, err
	}
	j.Metrics.SetIntegrityIssues(periodID, len(report.Issues))
	return report, nil
}

func (j *IntegrityJob) targets(ctx context.Context, period string) ([]string, error) {
	if period == "" || period == AllPeriods {
		list, err := j.Source.Periods(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(list))
		for _, p := range list {
			ids = append(ids, p.ID)
		}
		return ids, nil
	}
	id, err := j.Source.Resolve(ctx, period)
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}

func (j *IntegrityJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIntegrityScan))
	}
	return slog.Default().With(slog.String("job", TaskIntegrityScan))
}
