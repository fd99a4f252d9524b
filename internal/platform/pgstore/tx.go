package pgstore

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/periodledger/internal/ledger"
)

type tx struct {
	reader
}

var _ ledger.Tx = (*tx)(nil)

func (t *tx) LockCustomer(ctx context.Context, id string) (ledger.Customer, error) {
	return getRow(ctx, t.q, t.schema, customers, id, true)
}

func (t *tx) LockInvoice(ctx context.Context, id string) (ledger.Invoice, error) {
	return getRow(ctx, t.q, t.schema, invoices, id, true)
}

func (t *tx) LockPartner(ctx context.Context, id string) (ledger.Partner, error) {
	return getRow(ctx, t.q, t.schema, partners, id, true)
}

func (t *tx) PutCustomer(ctx context.Context, c ledger.Customer) error {
	return writeRow(ctx, t.q, t.schema, customers, c.ID, c, true)
}

func (t *tx) PutProduct(ctx context.Context, p ledger.Product) error {
	return writeRow(ctx, t.q, t.schema, products, p.ID, p, true)
}

func (t *tx) PutCost(ctx context.Context, c ledger.Cost) error {
	return writeRow(ctx, t.q, t.schema, costs, c.ID, c, true)
}

func (t *tx) PutPartner(ctx context.Context, p ledger.Partner) error {
	return writeRow(ctx, t.q, t.schema, partners, p.ID, p, true)
}

func (t *tx) PutInvoice(ctx context.Context, inv ledger.Invoice) error {
	return writeRow(ctx, t.q, t.schema, invoices, inv.ID, inv, true)
}

func (t *tx) PutCashTransaction(ctx context.Context, c ledger.CashTransaction) error {
	return writeRow(ctx, t.q, t.schema, cashTransactions, c.ID, c, true)
}

func (t *tx) UpdateCustomerTotals(ctx context.Context, id string, debit, credit int64) error {
	tag, err := t.q.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET debit = $2, credit = $3 WHERE id = $1", qualify(t.schema, string(ledger.TableCustomers))),
		id, debit, credit)
	if err != nil {
		return fmt.Errorf("pgstore: update customer totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.NotFound("customer", id)
	}
	return nil
}

func (t *tx) AppendPayment(ctx context.Context, invoiceID string, p ledger.Payment) error {
	payload, err := encodeJSON([]ledger.Payment{p})
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET payments = payments || $2::jsonb WHERE id = $1", qualify(t.schema, string(ledger.TableInvoices))),
		invoiceID, payload)
	if err != nil {
		return fmt.Errorf("pgstore: append payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.NotFound("invoice", invoiceID)
	}
	return nil
}

func (t *tx) InsertCashTransaction(ctx context.Context, c ledger.CashTransaction) error {
	return writeRow(ctx, t.q, t.schema, cashTransactions, c.ID, c, false)
}

func (t *tx) InsertPartnerTransaction(ctx context.Context, p ledger.PartnerTransaction) error {
	return writeRow(ctx, t.q, t.schema, partnerTransactions, p.ID, p, false)
}

func (t *tx) InsertWastage(ctx context.Context, w ledger.Wastage) error {
	return writeRow(ctx, t.q, t.schema, wastages, w.ID, w, false)
}

func (t *tx) InsertShare(ctx context.Context, s ledger.ShareTransaction) error {
	return writeRow(ctx, t.q, t.schema, shares, s.ID, s, false)
}

func (t *tx) DeleteCashTransaction(ctx context.Context, id string) error {
	return deleteRow(ctx, t.q, t.schema, cashTransactions, id)
}

func (t *tx) DeleteWastage(ctx context.Context, id string) error {
	return deleteRow(ctx, t.q, t.schema, wastages, id)
}

func (t *tx) Replace(ctx context.Context, table ledger.Table, snap ledger.Snapshot) error {
	switch table {
	case ledger.TableCustomers:
		return replaceRows(ctx, t.q, t.schema, customers, snap.Customers)
	case ledger.TableProducts:
		return replaceRows(ctx, t.q, t.schema, products, snap.Products)
	case ledger.TableCosts:
		return replaceRows(ctx, t.q, t.schema, costs, snap.Costs)
	case ledger.TableInvoices:
		return replaceRows(ctx, t.q, t.schema, invoices, snap.Invoices)
	case ledger.TableCashTransactions:
		return replaceRows(ctx, t.q, t.schema, cashTransactions, snap.CashTransactions)
	case ledger.TablePartners:
		return replaceRows(ctx, t.q, t.schema, partners, snap.Partners)
	case ledger.TablePartnerTransactions:
		return replaceRows(ctx, t.q, t.schema, partnerTransactions, snap.PartnerTransactions)
	case ledger.TableWastages:
		return replaceRows(ctx, t.q, t.schema, wastages, snap.Wastages)
	case ledger.TableShares:
		return replaceRows(ctx, t.q, t.schema, shares, snap.Shares)
	default:
		return fmt.Errorf("%w: unknown table %q", ledger.ErrValidation, table)
	}
}
