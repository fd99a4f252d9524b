// Package memstore is the embedded in-memory ledger backend. Each period is a
// separate state guarded by its own RWMutex. A write transaction holds the
// write lock, mutates in place and records undo steps that run in reverse on
// failure.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/odyssey-erp/periodledger/internal/ledger"
)

type state struct {
	mu         sync.RWMutex
	customers  map[string]ledger.Customer
	products   map[string]ledger.Product
	costs      map[string]ledger.Cost
	invoices   map[string]ledger.Invoice
	cash       map[string]ledger.CashTransaction
	partners   map[string]ledger.Partner
	partnerTxs map[string]ledger.PartnerTransaction
	wastages   map[string]ledger.Wastage
	shares     map[string]ledger.ShareTransaction
}

func newState() *state {
	return &state{
		customers:  make(map[string]ledger.Customer),
		products:   make(map[string]ledger.Product),
		costs:      make(map[string]ledger.Cost),
		invoices:   make(map[string]ledger.Invoice),
		cash:       make(map[string]ledger.CashTransaction),
		partners:   make(map[string]ledger.Partner),
		partnerTxs: make(map[string]ledger.PartnerTransaction),
		wastages:   make(map[string]ledger.Wastage),
		shares:     make(map[string]ledger.ShareTransaction),
	}
}

// Store is a handle on one period's state. Closing the handle leaves the
// state in its backend.
type Store struct {
	id     string
	st     *state
	closed atomic.Bool
}

var _ ledger.Store = (*Store)(nil)

// New returns a standalone store with no backend, handy for tests and tools.
func New(periodID string) *Store {
	return &Store{id: periodID, st: newState()}
}

// PeriodID returns the period the store belongs to.
func (s *Store) PeriodID() string { return s.id }

// Close marks the handle unusable.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) usable(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("memstore: period %s: %w", s.id, ledger.ErrStoreClosed)
	}
	return ctx.Err()
}

// WithTx runs fn under the period write lock. Any error from fn, a panic or a
// context cancelled by the time fn returns undoes every write fn made.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	if err := s.usable(ctx); err != nil {
		return err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	t := &tx{view: view{st: s.st}}
	committed := false
	defer func() {
		if !committed {
			t.rollback()
		}
	}()
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Export snapshots the given tables under the read lock.
func (s *Store) Export(ctx context.Context, tables ...ledger.Table) (ledger.Snapshot, error) {
	return read(ctx, s, func(v view) (ledger.Snapshot, error) {
		return ledger.ExportFrom(ctx, v, tables...)
	})
}

func read[T any](ctx context.Context, s *Store, fn func(view) (T, error)) (T, error) {
	var zero T
	if err := s.usable(ctx); err != nil {
		return zero, err
	}
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	return fn(view{st: s.st})
}

func (s *Store) Customer(ctx context.Context, id string) (ledger.Customer, error) {
	return read(ctx, s, func(v view) (ledger.Customer, error) { return v.Customer(ctx, id) })
}

func (s *Store) Customers(ctx context.Context) ([]ledger.Customer, error) {
	return read(ctx, s, func(v view) ([]ledger.Customer, error) { return v.Customers(ctx) })
}

func (s *Store) Products(ctx context.Context) ([]ledger.Product, error) {
	return read(ctx, s, func(v view) ([]ledger.Product, error) { return v.Products(ctx) })
}

func (s *Store) Costs(ctx context.Context) ([]ledger.Cost, error) {
	return read(ctx, s, func(v view) ([]ledger.Cost, error) { return v.Costs(ctx) })
}

func (s *Store) Invoice(ctx context.Context, id string) (ledger.Invoice, error) {
	return read(ctx, s, func(v view) (ledger.Invoice, error) { return v.Invoice(ctx, id) })
}

func (s *Store) Invoices(ctx context.Context) ([]ledger.Invoice, error) {
	return read(ctx, s, func(v view) ([]ledger.Invoice, error) { return v.Invoices(ctx) })
}

func (s *Store) CashTransaction(ctx context.Context, id string) (ledger.CashTransaction, error) {
	return read(ctx, s, func(v view) (ledger.CashTransaction, error) { return v.CashTransaction(ctx, id) })
}

func (s *Store) CashTransactions(ctx context.Context, filter ledger.CashFilter) ([]ledger.CashTransaction, error) {
	return read(ctx, s, func(v view) ([]ledger.CashTransaction, error) { return v.CashTransactions(ctx, filter) })
}

func (s *Store) Partner(ctx context.Context, id string) (ledger.Partner, error) {
	return read(ctx, s, func(v view) (ledger.Partner, error) { return v.Partner(ctx, id) })
}

func (s *Store) Partners(ctx context.Context) ([]ledger.Partner, error) {
	return read(ctx, s, func(v view) ([]ledger.Partner, error) { return v.Partners(ctx) })
}

func (s *Store) PartnerTransactions(ctx context.Context, partnerID string) ([]ledger.PartnerTransaction, error) {
	return read(ctx, s, func(v view) ([]ledger.PartnerTransaction, error) { return v.PartnerTransactions(ctx, partnerID) })
}

func (s *Store) Wastage(ctx context.Context, id string) (ledger.Wastage, error) {
	return read(ctx, s, func(v view) (ledger.Wastage, error) { return v.Wastage(ctx, id) })
}

func (s *Store) Wastages(ctx context.Context) ([]ledger.Wastage, error) {
	return read(ctx, s, func(v view) ([]ledger.Wastage, error) { return v.Wastages(ctx) })
}

func (s *Store) Shares(ctx context.Context, invoiceID string) ([]ledger.ShareTransaction, error) {
	return read(ctx, s, func(v view) ([]ledger.ShareTransaction, error) { return v.Shares(ctx, invoiceID) })
}

// view reads state without locking; callers hold the lock.
type view struct {
	st *state
}

func lookup[T any](m map[string]T, kind, id string) (T, error) {
	v, ok := m[id]
	if !ok {
		var zero T
		return zero, ledger.NotFound(kind, id)
	}
	return v, nil
}

// collect filters m and orders the result by (date, id). Undated rows
// return "" as their date and end up ordered by id.
func collect[T any](m map[string]T, keep func(T) bool, key func(T) (string, string)) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b T) int {
		ad, ai := key(a)
		bd, bi := key(b)
		if c := cmp.Compare(ad, bd); c != 0 {
			return c
		}
		return cmp.Compare(ai, bi)
	})
	return out
}

func (v view) Customer(_ context.Context, id string) (ledger.Customer, error) {
	return lookup(v.st.customers, "customer", id)
}

func (v view) Customers(context.Context) ([]ledger.Customer, error) {
	return collect(v.st.customers, nil, func(c ledger.Customer) (string, string) { return "", c.ID }), nil
}

func (v view) Products(context.Context) ([]ledger.Product, error) {
	return collect(v.st.products, nil, func(p ledger.Product) (string, string) { return "", p.ID }), nil
}

func (v view) Costs(context.Context) ([]ledger.Cost, error) {
	return collect(v.st.costs, nil, func(c ledger.Cost) (string, string) { return "", c.ID }), nil
}

func (v view) Invoice(_ context.Context, id string) (ledger.Invoice, error) {
	inv, err := lookup(v.st.invoices, "invoice", id)
	if err != nil {
		return ledger.Invoice{}, err
	}
	return inv.Clone(), nil
}

func (v view) Invoices(context.Context) ([]ledger.Invoice, error) {
	out := collect(v.st.invoices, nil, func(inv ledger.Invoice) (string, string) { return inv.IssueDate, inv.ID })
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out, nil
}

func (v view) CashTransaction(_ context.Context, id string) (ledger.CashTransaction, error) {
	return lookup(v.st.cash, "cash transaction", id)
}

func (v view) CashTransactions(_ context.Context, filter ledger.CashFilter) ([]ledger.CashTransaction, error) {
	return collect(v.st.cash, filter.Match, func(t ledger.CashTransaction) (string, string) { return t.Date, t.ID }), nil
}

func (v view) Partner(_ context.Context, id string) (ledger.Partner, error) {
	return lookup(v.st.partners, "partner", id)
}

func (v view) Partners(context.Context) ([]ledger.Partner, error) {
	return collect(v.st.partners, nil, func(p ledger.Partner) (string, string) { return "", p.ID }), nil
}

func (v view) PartnerTransactions(_ context.Context, partnerID string) ([]ledger.PartnerTransaction, error) {
	keep := func(t ledger.PartnerTransaction) bool { return partnerID == "" || t.PartnerID == partnerID }
	return collect(v.st.partnerTxs, keep, func(t ledger.PartnerTransaction) (string, string) { return t.Date, t.ID }), nil
}

func (v view) Wastage(_ context.Context, id string) (ledger.Wastage, error) {
	return lookup(v.st.wastages, "wastage", id)
}

func (v view) Wastages(context.Context) ([]ledger.Wastage, error) {
	return collect(v.st.wastages, nil, func(w ledger.Wastage) (string, string) { return w.Date, w.ID }), nil
}

func (v view) Shares(_ context.Context, invoiceID string) ([]ledger.ShareTransaction, error) {
	keep := func(s ledger.ShareTransaction) bool { return invoiceID == "" || s.InvoiceID == invoiceID }
	return collect(v.st.shares, keep, func(s ledger.ShareTransaction) (string, string) { return s.Date, s.ID }), nil
}
