package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/periods"
)

// Registry is the slice of *periods.Registry the service needs.
type Registry interface {
	Periods(ctx context.Context) ([]periods.FiscalPeriod, error)
	ActiveID(ctx context.Context) (string, error)
	GetStore(ctx context.Context, id string) (ledger.Store, error)
	Restore(ctx context.Context, ps []periods.FiscalPeriod, active string) error
	Activate(ctx context.Context, id string) error
}

// Service exports and restores archives.
type Service struct {
	registry     Registry
	logger       *slog.Logger
	now          func() time.Time
	afterRestore func(ctx context.Context, periodID string)
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the archive timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAfterRestore runs fn for every period once its tables are replaced.
func WithAfterRestore(fn func(ctx context.Context, periodID string)) Option {
	return func(s *Service) { s.afterRestore = fn }
}

// NewService wires the backup service.
func NewService(registry Registry, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const exportConcurrency = 4

// Export dumps the catalog and every period. Each period is read in one
// consistent snapshot; periods are read independently.
func (s *Service) Export(ctx context.Context) (Archive, error) {
	list, err := s.registry.Periods(ctx)
	if err != nil {
		return Archive{}, fmt.Errorf("backup: list periods: %w", err)
	}
	active, err := s.registry.ActiveID(ctx)
	if err != nil && !errors.Is(err, periods.ErrNoActivePeriod) {
		return Archive{}, fmt.Errorf("backup: active period: %w", err)
	}

	out := Archive{
		Version:      ArchiveVersion,
		CreatedAt:    s.now().UTC(),
		ActivePeriod: active,
		Periods:      make([]PeriodArchive, len(list)),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(exportConcurrency)
	for i, p := range list {
		g.Go(func() error {
			store, err := s.registry.GetStore(gctx, p.ID)
			if err != nil {
				return fmt.Errorf("backup: open %s: %w", p.ID, err)
			}
			snap, err := store.Export(gctx)
			if err != nil {
				return fmt.Errorf("backup: export %s: %w", p.ID, err)
			}
			out.Periods[i] = PeriodArchive{Period: p, Data: snap}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Archive{}, err
	}
	s.logger.Info("ledger exported", slog.Int("periods", len(out.Periods)), slog.String("active", active))
	return out, nil
}

// Restore recreates missing periods, replaces every table of each archived
// period in one transaction per period, then applies the active period.
// Periods absent from the archive are left untouched.
func (s *Service) Restore(ctx context.Context, a Archive) error {
	if err := a.validate(); err != nil {
		return err
	}
	list := make([]periods.FiscalPeriod, 0, len(a.Periods))
	for _, p := range a.Periods {
		list = append(list, p.Period)
	}
	if err := s.registry.Restore(ctx, list, ""); err != nil {
		return fmt.Errorf("backup: restore catalog: %w", err)
	}
	for _, p := range a.Periods {
		store, err := s.registry.GetStore(ctx, p.Period.ID)
		if err != nil {
			return fmt.Errorf("backup: open %s: %w", p.Period.ID, err)
		}
		err = store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			for _, t := range ledger.Tables {
				if err := tx.Replace(ctx, t, p.Data); err != nil {
					return fmt.Errorf("replace %s: %w", t, err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("backup: restore %s: %w", p.Period.ID, err)
		}
		if s.afterRestore != nil {
			s.afterRestore(ctx, p.Period.ID)
		}
	}
	if a.ActivePeriod != "" {
		if err := s.registry.Activate(ctx, a.ActivePeriod); err != nil {
			return fmt.Errorf("backup: activate %s: %w", a.ActivePeriod, err)
		}
	}
	s.logger.Info("ledger restored", slog.Int("periods", len(a.Periods)), slog.String("active", a.ActivePeriod))
	return nil
}
