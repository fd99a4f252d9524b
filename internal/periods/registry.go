package periods

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/periodledger/internal/ledger"
)

// SwitchListener is told when the active period changes. from is "" when
// no period was active before.
type SwitchListener func(ctx context.Context, from, to string)

// DeleteListener is told after a period and its store are gone.
type DeleteListener func(ctx context.Context, id string)

// Registry resolves period ids to their store handles and owns the period
// lifecycle. Handles are cached for the life of the process until evicted.
type Registry struct {
	catalog Catalog
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	// lifecycle serializes create, delete, activate and restore.
	lifecycle sync.Mutex

	mu     sync.Mutex
	stores map[string]ledger.Store

	// generations change whenever the store behind an id may have been
	// replaced. An open that straddles a change is discarded.
	generations map[string]uint64
	listeners   []SwitchListener
	onDelete    []DeleteListener
	opens       singleflight.Group
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock overrides the clock used for CreatedAt stamps.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry wires a registry over a catalog and a store backend.
func NewRegistry(catalog Catalog, backend Backend, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Registry{
		catalog: catalog,
		backend: backend,
		logger:  logger,
		now:     time.Now,
		stores:  make(map[string]ledger.Store),

		generations: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnSwitch registers a listener for active-period changes.
func (r *Registry) OnSwitch(fn SwitchListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// OnDelete registers a listener for period deletions.
func (r *Registry) OnDelete(fn DeleteListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDelete = append(r.onDelete, fn)
}

// GetStore returns the cached store for id, opening it on first use.
// Concurrent first calls share a single open.
func (r *Registry) GetStore(ctx context.Context, id string) (ledger.Store, error) {
	if store, ok := r.cached(id); ok {
		return store, nil
	}
	v, err, _ := r.opens.Do(id, func() (any, error) {
		for {
			store, ok, err := r.open(ctx, id)
			if err != nil || ok {
				return store, err
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return v.(ledger.Store), nil
}

// open opens and caches id. ok is false when the period was deleted or
// restored while the backend was opening; the handle is closed then.
func (r *Registry) open(ctx context.Context, id string) (ledger.Store, bool, error) {
	r.mu.Lock()
	if store, ok := r.stores[id]; ok {
		r.mu.Unlock()
		return store, true, nil
	}
	gen := r.generations[id]
	r.mu.Unlock()

	if _, err := r.catalog.GetPeriod(ctx, id); err != nil {
		return nil, false, err
	}
	store, err := r.backend.Open(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("periods: open %s: %w", id, err)
	}

	r.mu.Lock()
	if r.generations[id] != gen {
		r.mu.Unlock()
		if err := store.Close(); err != nil {
			r.logger.Warn("close stale store", slog.String("period", id), slog.Any("error", err))
		}
		r.logger.Debug("period store replaced during open", slog.String("period", id))
		return nil, false, nil
	}
	r.stores[id] = store
	r.mu.Unlock()
	r.logger.Debug("period store opened", slog.String("period", id))
	return store, true, nil
}

// invalidate bumps the generation of id and evicts its cached handle.
func (r *Registry) invalidate(id string) error {
	r.mu.Lock()
	r.generations[id]++
	r.mu.Unlock()
	return r.Evict(id)
}

func (r *Registry) cached(id string) (ledger.Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	store, ok := r.stores[id]
	return store, ok
}

// ActiveStore returns the store of the active period.
func (r *Registry) ActiveStore(ctx context.Context) (ledger.Store, error) {
	id, err := r.ActiveID(ctx)
	if err != nil {
		return nil, err
	}
	return r.GetStore(ctx, id)
}

// ActiveID returns the active period id or ErrNoActivePeriod.
func (r *Registry) ActiveID(ctx context.Context) (string, error) {
	id, err := r.catalog.ActivePeriod(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNoActivePeriod
	}
	return id, nil
}

// Resolve maps the "active" alias onto the active id and passes other ids through.
func (r *Registry) Resolve(ctx context.Context, id string) (string, error) {
	if id == ActiveAlias {
		return r.ActiveID(ctx)
	}
	return id, nil
}

// Period returns one catalog row.
func (r *Registry) Period(ctx context.Context, id string) (FiscalPeriod, error) {
	return r.catalog.GetPeriod(ctx, id)
}

// Periods lists the catalog.
func (r *Registry) Periods(ctx context.Context) ([]FiscalPeriod, error) {
	return r.catalog.ListPeriods(ctx)
}

// CreatePeriod provisions an empty store and records the period. The store is
// destroyed again if the catalog insert fails.
func (r *Registry) CreatePeriod(ctx context.Context, in CreatePeriodInput) (FiscalPeriod, error) {
	in.ID = strings.TrimSpace(in.ID)
	if err := validate.Struct(in); err != nil {
		return FiscalPeriod{}, fmt.Errorf("%w: %v", ledger.ErrValidation, err)
	}
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if _, err := r.catalog.GetPeriod(ctx, in.ID); err == nil {
		return FiscalPeriod{}, fmt.Errorf("%s: %w", in.ID, ErrDuplicatePeriod)
	} else if !errors.Is(err, ErrPeriodNotFound) {
		return FiscalPeriod{}, err
	}

	p := FiscalPeriod{
		ID:        in.ID,
		Name:      strings.TrimSpace(in.Name),
		StartDate: in.StartDate,
		CreatedAt: r.now().UTC(),
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if err := r.backend.Provision(ctx, p.ID); err != nil {
		return FiscalPeriod{}, fmt.Errorf("periods: provision %s: %w", p.ID, err)
	}
	if err := r.catalog.InsertPeriod(ctx, p); err != nil {
		if derr := r.backend.Destroy(ctx, p.ID); derr != nil {
			err = errors.Join(err, derr)
		}
		return FiscalPeriod{}, err
	}
	r.logger.Info("period created", slog.String("period", p.ID))

	if in.Activate {
		if err := r.activateLocked(ctx, p.ID); err != nil {
			return p, err
		}
	}
	return p, nil
}

// DeletePeriod destroys an inactive period together with its store.
func (r *Registry) DeletePeriod(ctx context.Context, id string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if _, err := r.catalog.GetPeriod(ctx, id); err != nil {
		return err
	}
	active, err := r.catalog.ActivePeriod(ctx)
	if err != nil {
		return err
	}
	if active == id {
		return fmt.Errorf("%s: %w", id, ErrPeriodInUse)
	}
	if err := r.invalidate(id); err != nil {
		r.logger.Warn("close evicted store", slog.String("period", id), slog.Any("error", err))
	}
	if err := r.backend.Destroy(ctx, id); err != nil {
		return fmt.Errorf("periods: destroy %s: %w", id, err)
	}
	if err := r.catalog.DeletePeriod(ctx, id); err != nil {
		return err
	}
	// A handle opened between the first eviction and Destroy is dropped here.
	if err := r.invalidate(id); err != nil {
		r.logger.Warn("close evicted store", slog.String("period", id), slog.Any("error", err))
	}
	r.logger.Info("period deleted", slog.String("period", id))

	r.mu.Lock()
	listeners := append([]DeleteListener(nil), r.onDelete...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(ctx, id)
	}
	return nil
}

// Activate makes id the active period. The previously active handle is
// evicted and every switch listener is notified.
func (r *Registry) Activate(ctx context.Context, id string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.activateLocked(ctx, id)
}

func (r *Registry) activateLocked(ctx context.Context, id string) error {
	if _, err := r.catalog.GetPeriod(ctx, id); err != nil {
		return err
	}
	prev, err := r.catalog.ActivePeriod(ctx)
	if err != nil {
		return err
	}
	if prev == id {
		return nil
	}
	if err := r.catalog.SetActivePeriod(ctx, id); err != nil {
		return err
	}
	if prev != "" {
		if err := r.Evict(prev); err != nil {
			r.logger.Warn("close evicted store", slog.String("period", prev), slog.Any("error", err))
		}
	}
	r.logger.Info("active period switched", slog.String("from", prev), slog.String("to", id))

	r.mu.Lock()
	listeners := append([]SwitchListener(nil), r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(ctx, prev, id)
	}
	return nil
}

// Restore recreates the given periods, provisioning any missing store, and
// optionally activates one of them. Existing periods keep their stores.
func (r *Registry) Restore(ctx context.Context, ps []FiscalPeriod, active string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	for _, p := range ps {
		if !ValidID(p.ID) {
			return fmt.Errorf("%w: invalid period id %q", ledger.ErrValidation, p.ID)
		}
		if err := r.backend.Provision(ctx, p.ID); err != nil {
			return fmt.Errorf("periods: provision %s: %w", p.ID, err)
		}
		r.mu.Lock()
		r.generations[p.ID]++
		r.mu.Unlock()
	}
	if err := r.catalog.UpsertPeriods(ctx, ps); err != nil {
		return err
	}
	if active != "" {
		return r.activateLocked(ctx, active)
	}
	return nil
}

// Evict drops and closes the cached handle of id. The backing data is kept.
func (r *Registry) Evict(id string) error {
	r.mu.Lock()
	store, ok := r.stores[id]
	delete(r.stores, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return store.Close()
}

// Close evicts every cached handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	stores := r.stores
	r.stores = make(map[string]ledger.Store)
	r.mu.Unlock()

	var errs []error
	for id, store := range stores {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
