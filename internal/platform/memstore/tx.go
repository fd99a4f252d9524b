package memstore

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/periodledger/internal/ledger"
)

type tx struct {
	view
	undo []func()
}

var _ ledger.Tx = (*tx)(nil)

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func put[T any](t *tx, m map[string]T, id string, v T) {
	prev, had := m[id]
	m[id] = v
	t.undo = append(t.undo, func() {
		if had {
			m[id] = prev
		} else {
			delete(m, id)
		}
	})
}

func insert[T any](t *tx, m map[string]T, kind, id string, v T) error {
	if _, ok := m[id]; ok {
		return ledger.Duplicate(kind, id)
	}
	put(t, m, id, v)
	return nil
}

func remove[T any](t *tx, m map[string]T, kind, id string) error {
	prev, ok := m[id]
	if !ok {
		return ledger.NotFound(kind, id)
	}
	delete(m, id)
	t.undo = append(t.undo, func() { m[id] = prev })
	return nil
}

// swap replaces *field with a map built from rows.
func swap[T any](t *tx, field *map[string]T, rows []T, id func(T) string) {
	old := *field
	next := make(map[string]T, len(rows))
	for _, r := range rows {
		next[id(r)] = r
	}
	*field = next
	t.undo = append(t.undo, func() { *field = old })
}

// Lock reads need no extra work: the write lock is held for the whole transaction.

func (t *tx) LockCustomer(ctx context.Context, id string) (ledger.Customer, error) {
	return t.Customer(ctx, id)
}

func (t *tx) LockInvoice(ctx context.Context, id string) (ledger.Invoice, error) {
	return t.Invoice(ctx, id)
}

func (t *tx) LockPartner(ctx context.Context, id string) (ledger.Partner, error) {
	return t.Partner(ctx, id)
}

func (t *tx) PutCustomer(_ context.Context, c ledger.Customer) error {
	put(t, t.st.customers, c.ID, c)
	return nil
}

func (t *tx) PutProduct(_ context.Context, p ledger.Product) error {
	put(t, t.st.products, p.ID, p)
	return nil
}

func (t *tx) PutCost(_ context.Context, c ledger.Cost) error {
	put(t, t.st.costs, c.ID, c)
	return nil
}

func (t *tx) PutPartner(_ context.Context, p ledger.Partner) error {
	put(t, t.st.partners, p.ID, p)
	return nil
}

func (t *tx) PutInvoice(_ context.Context, inv ledger.Invoice) error {
	put(t, t.st.invoices, inv.ID, inv.Clone())
	return nil
}

func (t *tx) PutCashTransaction(_ context.Context, c ledger.CashTransaction) error {
	put(t, t.st.cash, c.ID, c)
	return nil
}

func (t *tx) UpdateCustomerTotals(_ context.Context, id string, debit, credit int64) error {
	c, err := lookup(t.st.customers, "customer", id)
	if err != nil {
		return err
	}
	c.Debit, c.Credit = debit, credit
	put(t, t.st.customers, id, c)
	return nil
}

func (t *tx) AppendPayment(_ context.Context, invoiceID string, p ledger.Payment) error {
	inv, err := lookup(t.st.invoices, "invoice", invoiceID)
	if err != nil {
		return err
	}
	next := inv.Clone()
	next.Payments = append(next.Payments, p)
	put(t, t.st.invoices, invoiceID, next)
	return nil
}

func (t *tx) InsertCashTransaction(_ context.Context, c ledger.CashTransaction) error {
	return insert(t, t.st.cash, "cash transaction", c.ID, c)
}

func (t *tx) InsertPartnerTransaction(_ context.Context, p ledger.PartnerTransaction) error {
	return insert(t, t.st.partnerTxs, "partner transaction", p.ID, p)
}

func (t *tx) InsertWastage(_ context.Context, w ledger.Wastage) error {
	return insert(t, t.st.wastages, "wastage", w.ID, w)
}

func (t *tx) InsertShare(_ context.Context, s ledger.ShareTransaction) error {
	return insert(t, t.st.shares, "share", s.ID, s)
}

func (t *tx) DeleteCashTransaction(_ context.Context, id string) error {
	return remove(t, t.st.cash, "cash transaction", id)
}

func (t *tx) DeleteWastage(_ context.Context, id string) error {
	return remove(t, t.st.wastages, "wastage", id)
}

func (t *tx) Replace(_ context.Context, table ledger.Table, snap ledger.Snapshot) error {
	st := t.st
	switch table {
	case ledger.TableCustomers:
		swap(t, &st.customers, snap.Customers, func(c ledger.Customer) string { return c.ID })
	case ledger.TableProducts:
		swap(t, &st.products, snap.Products, func(p ledger.Product) string { return p.ID })
	case ledger.TableCosts:
		swap(t, &st.costs, snap.Costs, func(c ledger.Cost) string { return c.ID })
	case ledger.TableInvoices:
		invoices := make([]ledger.Invoice, len(snap.Invoices))
		for i, inv := range snap.Invoices {
			invoices[i] = inv.Clone()
		}
		swap(t, &st.invoices, invoices, func(inv ledger.Invoice) string { return inv.ID })
	case ledger.TableCashTransactions:
		swap(t, &st.cash, snap.CashTransactions, func(c ledger.CashTransaction) string { return c.ID })
	case ledger.TablePartners:
		swap(t, &st.partners, snap.Partners, func(p ledger.Partner) string { return p.ID })
	case ledger.TablePartnerTransactions:
		swap(t, &st.partnerTxs, snap.PartnerTransactions, func(p ledger.PartnerTransaction) string { return p.ID })
	case ledger.TableWastages:
		swap(t, &st.wastages, snap.Wastages, func(w ledger.Wastage) string { return w.ID })
	case ledger.TableShares:
		swap(t, &st.shares, snap.Shares, func(s ledger.ShareTransaction) string { return s.ID })
	default:
		return fmt.Errorf("%w: unknown table %q", ledger.ErrValidation, table)
	}
	return nil
}
