package pgstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/platform/db"
)

// txAttempts is the first try plus one retry on a write conflict.
const txAttempts = 2

// RetryRecorder counts conflict retries.
type RetryRecorder interface {
	ObserveRetry(periodID string)
}

// Store is a handle on one period schema. Closing it leaves the shared pool open.
type Store struct {
	id      string
	schema  string
	pool    *pgxpool.Pool
	logger  *slog.Logger
	retries RetryRecorder
	closed  atomic.Bool
}

var _ ledger.Store = (*Store)(nil)

// PeriodID returns the period the store belongs to.
func (s *Store) PeriodID() string { return s.id }

// Close marks the handle unusable.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) usable(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("pgstore: period %s: %w", s.id, ledger.ErrStoreClosed)
	}
	return ctx.Err()
}

// WithTx runs fn in one RepeatableRead transaction. A serialization failure
// or deadlock reruns fn once; a second conflict surfaces as
// ledger.ErrConflictRetryExceeded.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	if err := s.usable(ctx); err != nil {
		return err
	}
	onRetry := func(err error) {
		s.logger.Warn("ledger transaction conflict, retrying",
			slog.String("period", s.id), slog.Any("error", err))
		if s.retries != nil {
			s.retries.ObserveRetry(s.id)
		}
	}
	err := db.WithRetry(ctx, s.pool, txAttempts, onRetry, func(ptx pgx.Tx) error {
		return fn(ctx, &tx{reader: reader{q: ptx, schema: s.schema}})
	})
	if errors.Is(err, db.ErrRetryExceeded) {
		return fmt.Errorf("pgstore: period %s: %w: %w", s.id, ledger.ErrConflictRetryExceeded, err)
	}
	return err
}

// Export lists the given tables, or every table, in one read-only snapshot.
func (s *Store) Export(ctx context.Context, tables ...ledger.Table) (ledger.Snapshot, error) {
	if err := s.usable(ctx); err != nil {
		return ledger.Snapshot{}, err
	}
	var snap ledger.Snapshot
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(ptx pgx.Tx) error {
		var err error
		snap, err = ledger.ExportFrom(ctx, reader{q: ptx, schema: s.schema}, tables...)
		return err
	})
	return snap, err
}

// read runs an idempotent query, repeating it once on a storage error.
func read[T any](ctx context.Context, s *Store, fn func(reader) (T, error)) (T, error) {
	var zero T
	if err := s.usable(ctx); err != nil {
		return zero, err
	}
	r := reader{q: s.pool, schema: s.schema}
	v, err := fn(r)
	if err == nil || errors.Is(err, ledger.ErrNotFound) || ctx.Err() != nil {
		return v, err
	}
	s.logger.Debug("ledger read failed, retrying", slog.String("period", s.id), slog.Any("error", err))
	return fn(r)
}

func (s *Store) Customer(ctx context.Context, id string) (ledger.Customer, error) {
	return read(ctx, s, func(r reader) (ledger.Customer, error) { return r.Customer(ctx, id) })
}

func (s *Store) Customers(ctx context.Context) ([]ledger.Customer, error) {
	return read(ctx, s, func(r reader) ([]ledger.Customer, error) { return r.Customers(ctx) })
}

func (s *Store) Products(ctx context.Context) ([]ledger.Product, error) {
	return read(ctx, s, func(r reader) ([]ledger.Product, error) { return r.Products(ctx) })
}

func (s *Store) Costs(ctx context.Context) ([]ledger.Cost, error) {
	return read(ctx, s, func(r reader) ([]ledger.Cost, error) { return r.Costs(ctx) })
}

func (s *Store) Invoice(ctx context.Context, id string) (ledger.Invoice, error) {
	return read(ctx, s, func(r reader) (ledger.Invoice, error) { return r.Invoice(ctx, id) })
}

func (s *Store) Invoices(ctx context.Context) ([]ledger.Invoice, error) {
	return read(ctx, s, func(r reader) ([]ledger.Invoice, error) { return r.Invoices(ctx) })
}

func (s *Store) CashTransaction(ctx context.Context, id string) (ledger.CashTransaction, error) {
	return read(ctx, s, func(r reader) (ledger.CashTransaction, error) { return r.CashTransaction(ctx, id) })
}

func (s *Store) CashTransactions(ctx context.Context, filter ledger.CashFilter) ([]ledger.CashTransaction, error) {
	return read(ctx, s, func(r reader) ([]ledger.CashTransaction, error) { return r.CashTransactions(ctx, filter) })
}

func (s *Store) Partner(ctx context.Context, id string) (ledger.Partner, error) {
	return read(ctx, s, func(r reader) (ledger.Partner, error) { return r.Partner(ctx, id) })
}

func (s *Store) Partners(ctx context.Context) ([]ledger.Partner, error) {
	return read(ctx, s, func(r reader) ([]ledger.Partner, error) { return r.Partners(ctx) })
}

func (s *Store) PartnerTransactions(ctx context.Context, partnerID string) ([]ledger.PartnerTransaction, error) {
	return read(ctx, s, func(r reader) ([]ledger.PartnerTransaction, error) { return r.PartnerTransactions(ctx, partnerID) })
}

func (s *Store) Wastage(ctx context.Context, id string) (ledger.Wastage, error) {
	return read(ctx, s, func(r reader) (ledger.Wastage, error) { return r.Wastage(ctx, id) })
}

func (s *Store) Wastages(ctx context.Context) ([]ledger.Wastage, error) {
	return read(ctx, s, func(r reader) ([]ledger.Wastage, error) { return r.Wastages(ctx) })
}

func (s *Store) Shares(ctx context.Context, invoiceID string) ([]ledger.ShareTransaction, error) {
	return read(ctx, s, func(r reader) ([]ledger.ShareTransaction, error) { return r.Shares(ctx, invoiceID) })
}

// reader implements ledger.Reader over a pool or a transaction.
type reader struct {
	q      querier
	schema string
}

func (r reader) Customer(ctx context.Context, id string) (ledger.Customer, error) {
	return getRow(ctx, r.q, r.schema, customers, id, false)
}

func (r reader) Customers(ctx context.Context) ([]ledger.Customer, error) {
	return listRows(ctx, r.q, r.schema, customers, "")
}

func (r reader) Products(ctx context.Context) ([]ledger.Product, error) {
	return listRows(ctx, r.q, r.schema, products, "")
}

func (r reader) Costs(ctx context.Context) ([]ledger.Cost, error) {
	return listRows(ctx, r.q, r.schema, costs, "")
}

func (r reader) Invoice(ctx context.Context, id string) (ledger.Invoice, error) {
	return getRow(ctx, r.q, r.schema, invoices, id, false)
}

func (r reader) Invoices(ctx context.Context) ([]ledger.Invoice, error) {
	return listRows(ctx, r.q, r.schema, invoices, "")
}

func (r reader) CashTransaction(ctx context.Context, id string) (ledger.CashTransaction, error) {
	return getRow(ctx, r.q, r.schema, cashTransactions, id, false)
}

func (r reader) CashTransactions(ctx context.Context, f ledger.CashFilter) ([]ledger.CashTransaction, error) {
	return listRows(ctx, r.q, r.schema, cashTransactions,
		"($1 = '' OR box_type = $1) AND ($2 = '' OR customer_id = $2) AND ($3 = '' OR invoice_id = $3) AND ($4 = '' OR partner_id = $4)",
		string(f.BoxType), f.CustomerID, f.InvoiceID, f.PartnerID)
}

func (r reader) Partner(ctx context.Context, id string) (ledger.Partner, error) {
	return getRow(ctx, r.q, r.schema, partners, id, false)
}

func (r reader) Partners(ctx context.Context) ([]ledger.Partner, error) {
	return listRows(ctx, r.q, r.schema, partners, "")
}

func (r reader) PartnerTransactions(ctx context.Context, partnerID string) ([]ledger.PartnerTransaction, error) {
	return listRows(ctx, r.q, r.schema, partnerTransactions, "($1 = '' OR partner_id = $1)", partnerID)
}

func (r reader) Wastage(ctx context.Context, id string) (ledger.Wastage, error) {
	return getRow(ctx, r.q, r.schema, wastages, id, false)
}

func (r reader) Wastages(ctx context.Context) ([]ledger.Wastage, error) {
	return listRows(ctx, r.q, r.schema, wastages, "")
}

func (r reader) Shares(ctx context.Context, invoiceID string) ([]ledger.ShareTransaction, error) {
	return listRows(ctx, r.q, r.schema, shares, "($1 = '' OR invoice_id = $1)", invoiceID)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
