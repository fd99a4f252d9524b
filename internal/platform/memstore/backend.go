package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/periods"
)

// Backend keeps one state per provisioned period. State outlives handles, so
// an evicted period can be reopened with its data intact.
type Backend struct {
	mu     sync.Mutex
	states map[string]*state
}

var _ periods.Backend = (*Backend)(nil)

// NewBackend returns an empty backend.
func NewBackend() *Backend {
	return &Backend{states: make(map[string]*state)}
}

// Provision creates an empty state for id unless one exists.
func (b *Backend) Provision(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.states[id]; !ok {
		b.states[id] = newState()
	}
	return nil
}

// Open returns a fresh handle on a provisioned state.
func (b *Backend) Open(_ context.Context, id string) (ledger.Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[id]
	if !ok {
		return nil, fmt.Errorf("memstore: period %s not provisioned: %w", id, ledger.ErrNotFound)
	}
	return &Store{id: id, st: st}, nil
}

// Destroy drops the state of id.
func (b *Backend) Destroy(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, id)
	return nil
}

// Catalog is an in-memory period catalog.
type Catalog struct {
	mu      sync.RWMutex
	periods map[string]periods.FiscalPeriod
	active  string
}

var _ periods.Catalog = (*Catalog)(nil)

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{periods: make(map[string]periods.FiscalPeriod)}
}

func (c *Catalog) ListPeriods(context.Context) ([]periods.FiscalPeriod, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]periods.FiscalPeriod, 0, len(c.periods))
	for _, p := range c.periods {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b periods.FiscalPeriod) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (c *Catalog) GetPeriod(_ context.Context, id string) (periods.FiscalPeriod, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.periods[id]
	if !ok {
		return periods.FiscalPeriod{}, fmt.Errorf("%s: %w", id, periods.ErrPeriodNotFound)
	}
	return p, nil
}

func (c *Catalog) InsertPeriod(_ context.Context, p periods.FiscalPeriod) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.periods[p.ID]; ok {
		return fmt.Errorf("%s: %w", p.ID, periods.ErrDuplicatePeriod)
	}
	c.periods[p.ID] = p
	return nil
}

func (c *Catalog) DeletePeriod(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.periods[id]; !ok {
		return fmt.Errorf("%s: %w", id, periods.ErrPeriodNotFound)
	}
	delete(c.periods, id)
	return nil
}

func (c *Catalog) ActivePeriod(context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active, nil
}

func (c *Catalog) SetActivePeriod(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.periods[id]; !ok {
		return fmt.Errorf("%s: %w", id, periods.ErrPeriodNotFound)
	}
	c.active = id
	return nil
}

func (c *Catalog) UpsertPeriods(_ context.Context, ps []periods.FiscalPeriod) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range ps {
		c.periods[p.ID] = p
	}
	return nil
}
