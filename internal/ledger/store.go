package ledger

import (
	"context"
	"fmt"
)

// Table names a period-scoped table.
type Table string

const (
	TableCustomers           Table = "customers"
	TableProducts            Table = "products"
	TableCosts               Table = "costs"
	TableInvoices            Table = "invoices"
	TableCashTransactions    Table = "cash_transactions"
	TablePartners            Table = "partners"
	TablePartnerTransactions Table = "partner_transactions"
	TableWastages            Table = "wastages"
	TableShares              Table = "shares"
)

// Tables lists every period-scoped table.
var Tables = []Table{
	TableCustomers,
	TableProducts,
	TableCosts,
	TableInvoices,
	TableCashTransactions,
	TablePartners,
	TablePartnerTransactions,
	TableWastages,
	TableShares,
}

// ParseTable resolves a table name.
func ParseTable(name string) (Table, error) {
	for _, t := range Tables {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown table %q", ErrValidation, name)
}

// Snapshot carries the full rows of one or more tables of a period.
type Snapshot struct {
	Customers           []Customer           `json:"customers,omitempty"`
	Products            []Product            `json:"products,omitempty"`
	Costs               []Cost               `json:"costs,omitempty"`
	Invoices            []Invoice            `json:"invoices,omitempty"`
	CashTransactions    []CashTransaction    `json:"cash_transactions,omitempty"`
	Partners            []Partner            `json:"partners,omitempty"`
	PartnerTransactions []PartnerTransaction `json:"partner_transactions,omitempty"`
	Wastages            []Wastage            `json:"wastages,omitempty"`
	Shares              []ShareTransaction   `json:"shares,omitempty"`
}

// CashFilter narrows cash transaction listings. Zero fields match everything.
type CashFilter struct {
	BoxType    BoxType
	CustomerID string
	InvoiceID  string
	PartnerID  string
}

// Match reports whether t passes the filter.
func (f CashFilter) Match(t CashTransaction) bool {
	if f.BoxType != "" && t.BoxType != f.BoxType {
		return false
	}
	if f.CustomerID != "" && t.CustomerID != f.CustomerID {
		return false
	}
	if f.InvoiceID != "" && t.InvoiceID != f.InvoiceID {
		return false
	}
	if f.PartnerID != "" && t.PartnerID != f.PartnerID {
		return false
	}
	return true
}

// Reader exposes the read side of a period store. Single-row lookups return
// an error wrapping ErrNotFound when the row is missing. Listings of dated
// rows are ordered by (date, id); the rest by id.
type Reader interface {
	Customer(ctx context.Context, id string) (Customer, error)
	Customers(ctx context.Context) ([]Customer, error)
	Products(ctx context.Context) ([]Product, error)
	Costs(ctx context.Context) ([]Cost, error)
	Invoice(ctx context.Context, id string) (Invoice, error)
	Invoices(ctx context.Context) ([]Invoice, error)
	CashTransaction(ctx context.Context, id string) (CashTransaction, error)
	CashTransactions(ctx context.Context, filter CashFilter) ([]CashTransaction, error)
	Partner(ctx context.Context, id string) (Partner, error)
	Partners(ctx context.Context) ([]Partner, error)
	// PartnerTransactions lists one partner's rows, or every row when partnerID is empty.
	PartnerTransactions(ctx context.Context, partnerID string) ([]PartnerTransaction, error)
	Wastage(ctx context.Context, id string) (Wastage, error)
	Wastages(ctx context.Context) ([]Wastage, error)
	// Shares lists one invoice's shares, or every share when invoiceID is empty.
	Shares(ctx context.Context, invoiceID string) ([]ShareTransaction, error)
}

// Tx is the unit of work handed to Store.WithTx. Every write made through it
// commits together or not at all. Lock* reads serialize concurrent writers
// on the returned row until the transaction ends.
type Tx interface {
	Reader

	LockCustomer(ctx context.Context, id string) (Customer, error)
	LockInvoice(ctx context.Context, id string) (Invoice, error)
	LockPartner(ctx context.Context, id string) (Partner, error)

	// Put* upsert by id.
	PutCustomer(ctx context.Context, c Customer) error
	PutProduct(ctx context.Context, p Product) error
	PutCost(ctx context.Context, c Cost) error
	PutPartner(ctx context.Context, p Partner) error
	PutInvoice(ctx context.Context, inv Invoice) error
	PutCashTransaction(ctx context.Context, t CashTransaction) error

	UpdateCustomerTotals(ctx context.Context, id string, debit, credit int64) error
	AppendPayment(ctx context.Context, invoiceID string, p Payment) error

	// Insert* fail with ErrDuplicate when the id exists.
	InsertCashTransaction(ctx context.Context, t CashTransaction) error
	InsertPartnerTransaction(ctx context.Context, t PartnerTransaction) error
	InsertWastage(ctx context.Context, w Wastage) error
	InsertShare(ctx context.Context, s ShareTransaction) error

	// Delete* fail with ErrNotFound when the id is missing.
	DeleteCashTransaction(ctx context.Context, id string) error
	DeleteWastage(ctx context.Context, id string) error

	// Replace swaps every row of table for the matching slice of snap.
	Replace(ctx context.Context, table Table, snap Snapshot) error
}

// Store is an isolated storage instance for one fiscal period.
type Store interface {
	Reader
	PeriodID() string
	// WithTx runs fn as one atomic unit. A non-nil error from fn, a failed
	// commit or a cancelled context leaves no write behind.
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	// Export lists all rows of the given tables, or of every table when none is given.
	Export(ctx context.Context, tables ...Table) (Snapshot, error)
	Close() error
}

// ExportFrom builds a snapshot from any reader. Backends use it to share the
// table switch.
func ExportFrom(ctx context.Context, r Reader, tables ...Table) (Snapshot, error) {
	if len(tables) == 0 {
		tables = Tables
	}
	var snap Snapshot
	var err error
	for _, t := range tables {
		switch t {
		case TableCustomers:
			snap.Customers, err = r.Customers(ctx)
		case TableProducts:
			snap.Products, err = r.Products(ctx)
		case TableCosts:
			snap.Costs, err = r.Costs(ctx)
		case TableInvoices:
			snap.Invoices, err = r.Invoices(ctx)
		case TableCashTransactions:
			snap.CashTransactions, err = r.CashTransactions(ctx, CashFilter{})
		case TablePartners:
			snap.Partners, err = r.Partners(ctx)
		case TablePartnerTransactions:
			snap.PartnerTransactions, err = r.PartnerTransactions(ctx, "")
		case TableWastages:
			snap.Wastages, err = r.Wastages(ctx)
		case TableShares:
			snap.Shares, err = r.Shares(ctx, "")
		default:
			return Snapshot{}, fmt.Errorf("%w: unknown table %q", ErrValidation, t)
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("export %s: %w", t, err)
		}
	}
	return snap, nil
}

// NotFound wraps ErrNotFound with the entity kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Duplicate wraps ErrDuplicate with the entity kind and id.
func Duplicate(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrDuplicate)
}
