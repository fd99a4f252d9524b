package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/platform/db"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// table maps one ledger entity onto its columns. id is always the first column.
type table[T any] struct {
	name    ledger.Table
	kind    string
	columns []string
	order   string
	args    func(T) ([]any, error)
	scan    func(pgx.Row) (T, error)
}

func (t table[T]) selectSQL(schema string) string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(t.columns, ", "), qualify(schema, string(t.name)))
}

func (t table[T]) insertSQL(schema string) string {
	marks := make([]string, len(t.columns))
	for i := range t.columns {
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualify(schema, string(t.name)), strings.Join(t.columns, ", "), strings.Join(marks, ", "))
}

func (t table[T]) upsertSQL(schema string) string {
	sets := make([]string, 0, len(t.columns)-1)
	for _, c := range t.columns[1:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return t.insertSQL(schema) + " ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", ")
}

func getRow[T any](ctx context.Context, q querier, schema string, t table[T], id string, lock bool) (T, error) {
	sql := t.selectSQL(schema) + " WHERE id = $1"
	if lock {
		sql += " FOR UPDATE"
	}
	v, err := t.scan(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return v, ledger.NotFound(t.kind, id)
	}
	if err != nil {
		return v, fmt.Errorf("pgstore: get %s: %w", t.kind, err)
	}
	return v, nil
}

func listRows[T any](ctx context.Context, q querier, schema string, t table[T], where string, args ...any) ([]T, error) {
	sql := t.selectSQL(schema)
	if where != "" {
		sql += " WHERE " + where
	}
	sql += " ORDER BY " + t.order
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list %s: %w", t.name, err)
	}
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		v, err := t.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan %s: %w", t.name, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: list %s: %w", t.name, err)
	}
	return out, nil
}

func writeRow[T any](ctx context.Context, q querier, schema string, t table[T], id string, v T, upsert bool) error {
	args, err := t.args(v)
	if err != nil {
		return err
	}
	sql := t.insertSQL(schema)
	if upsert {
		sql = t.upsertSQL(schema)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		if db.IsUniqueViolation(err) {
			return ledger.Duplicate(t.kind, id)
		}
		return fmt.Errorf("pgstore: write %s: %w", t.kind, err)
	}
	return nil
}

func deleteRow[T any](ctx context.Context, q querier, schema string, t table[T], id string) error {
	tag, err := q.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", qualify(schema, string(t.name))), id)
	if err != nil {
		return fmt.Errorf("pgstore: delete %s: %w", t.kind, err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.NotFound(t.kind, id)
	}
	return nil
}

// replaceRows empties the table and batch-inserts rows.
func replaceRows[T any](ctx context.Context, q querier, schema string, t table[T], rows []T) error {
	if _, err := q.Exec(ctx, "DELETE FROM "+qualify(schema, string(t.name))); err != nil {
		return fmt.Errorf("pgstore: clear %s: %w", t.name, err)
	}
	if len(rows) == 0 {
		return nil
	}
	sql := t.insertSQL(schema)
	batch := &pgx.Batch{}
	for _, r := range rows {
		args, err := t.args(r)
		if err != nil {
			return err
		}
		batch.Queue(sql, args...)
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("pgstore: restore %s: %w", t.name, err)
	}
	return nil
}

func plain(args ...any) ([]any, error) { return args, nil }

func encodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("pgstore: encode json: %w", err)
	}
	return b, nil
}

var customers = table[ledger.Customer]{
	name:    ledger.TableCustomers,
	kind:    "customer",
	columns: []string{"id", "first_name", "last_name", "phone", "debit", "credit", "is_vip", "user_ref", "carried_forward"},
	order:   "id",
	args: func(c ledger.Customer) ([]any, error) {
		return plain(c.ID, c.FirstName, c.LastName, c.Phone, c.Debit, c.Credit, c.IsVIP, c.UserRef, c.CarriedForward)
	},
	scan: func(row pgx.Row) (c ledger.Customer, err error) {
		err = row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Phone, &c.Debit, &c.Credit, &c.IsVIP, &c.UserRef, &c.CarriedForward)
		return c, err
	},
}

var products = table[ledger.Product]{
	name:    ledger.TableProducts,
	kind:    "product",
	columns: []string{"id", "name", "kind", "price", "main_share", "commission_share"},
	order:   "id",
	args: func(p ledger.Product) ([]any, error) {
		return plain(p.ID, p.Name, string(p.Kind), p.Price, p.MainShare, p.CommissionShare)
	},
	scan: func(row pgx.Row) (p ledger.Product, err error) {
		err = row.Scan(&p.ID, &p.Name, &p.Kind, &p.Price, &p.MainShare, &p.CommissionShare)
		return p, err
	},
}

var costs = table[ledger.Cost]{
	name:    ledger.TableCosts,
	kind:    "cost",
	columns: []string{"id", "title", "amount"},
	order:   "id",
	args: func(c ledger.Cost) ([]any, error) {
		return plain(c.ID, c.Title, c.Amount)
	},
	scan: func(row pgx.Row) (c ledger.Cost, err error) {
		err = row.Scan(&c.ID, &c.Title, &c.Amount)
		return c, err
	},
}

var invoices = table[ledger.Invoice]{
	name:    ledger.TableInvoices,
	kind:    "invoice",
	columns: []string{"id", "number", "customer_id", "type", "issue_date", "items", "cost_items", "discount", "total_amount", "payments", "order_status"},
	order:   "issue_date, id",
	args: func(inv ledger.Invoice) ([]any, error) {
		items, err := encodeJSON(nonNil(inv.Items))
		if err != nil {
			return nil, err
		}
		costItems, err := encodeJSON(nonNil(inv.CostItems))
		if err != nil {
			return nil, err
		}
		payments, err := encodeJSON(nonNil(inv.Payments))
		if err != nil {
			return nil, err
		}
		return plain(inv.ID, inv.Number, inv.CustomerID, string(inv.Type), inv.IssueDate,
			items, costItems, inv.Discount, inv.TotalAmount, payments, string(inv.OrderStatus))
	},
	scan: func(row pgx.Row) (inv ledger.Invoice, err error) {
		var items, costItems, payments []byte
		err = row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.Type, &inv.IssueDate,
			&items, &costItems, &inv.Discount, &inv.TotalAmount, &payments, &inv.OrderStatus)
		if err != nil {
			return inv, err
		}
		if err = json.Unmarshal(items, &inv.Items); err != nil {
			return inv, fmt.Errorf("decode items: %w", err)
		}
		if err = json.Unmarshal(costItems, &inv.CostItems); err != nil {
			return inv, fmt.Errorf("decode cost items: %w", err)
		}
		if err = json.Unmarshal(payments, &inv.Payments); err != nil {
			return inv, fmt.Errorf("decode payments: %w", err)
		}
		return inv, nil
	},
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

var cashTransactions = table[ledger.CashTransaction]{
	name:    ledger.TableCashTransactions,
	kind:    "cash transaction",
	columns: []string{"id", "box_type", "type", "amount", "date", "description", "invoice_id", "invoice_number", "customer_id", "partner_id", "subtype"},
	order:   "date, id",
	args: func(t ledger.CashTransaction) ([]any, error) {
		return plain(t.ID, string(t.BoxType), string(t.Type), t.Amount, t.Date, t.Description,
			t.InvoiceID, t.InvoiceNumber, t.CustomerID, t.PartnerID, string(t.Subtype))
	},
	scan: func(row pgx.Row) (t ledger.CashTransaction, err error) {
		err = row.Scan(&t.ID, &t.BoxType, &t.Type, &t.Amount, &t.Date, &t.Description,
			&t.InvoiceID, &t.InvoiceNumber, &t.CustomerID, &t.PartnerID, &t.Subtype)
		return t, err
	},
}

var partners = table[ledger.Partner]{
	name:    ledger.TablePartners,
	kind:    "partner",
	columns: []string{"id", "name", "initial_balance"},
	order:   "id",
	args: func(p ledger.Partner) ([]any, error) {
		return plain(p.ID, p.Name, p.InitialBalance)
	},
	scan: func(row pgx.Row) (p ledger.Partner, err error) {
		err = row.Scan(&p.ID, &p.Name, &p.InitialBalance)
		return p, err
	},
}

var partnerTransactions = table[ledger.PartnerTransaction]{
	name: ledger.TablePartnerTransactions,
	kind: "partner transaction",
	columns: []string{"id", "partner_id", "type", "amount", "date", "description", "box_type",
		"related_partner_id", "related_partner_name", "cash_transaction_id", "transfer_id"},
	order: "date, id",
	args: func(t ledger.PartnerTransaction) ([]any, error) {
		return plain(t.ID, t.PartnerID, string(t.Type), t.Amount, t.Date, t.Description, string(t.BoxType),
			t.RelatedPartnerID, t.RelatedPartnerName, t.CashTransactionID, t.TransferID)
	},
	scan: func(row pgx.Row) (t ledger.PartnerTransaction, err error) {
		err = row.Scan(&t.ID, &t.PartnerID, &t.Type, &t.Amount, &t.Date, &t.Description, &t.BoxType,
			&t.RelatedPartnerID, &t.RelatedPartnerName, &t.CashTransactionID, &t.TransferID)
		return t, err
	},
}

var wastages = table[ledger.Wastage]{
	name:    ledger.TableWastages,
	kind:    "wastage",
	columns: []string{"id", "transaction_id", "date", "title", "total_cost", "description", "box_type"},
	order:   "date, id",
	args: func(w ledger.Wastage) ([]any, error) {
		return plain(w.ID, w.TransactionID, w.Date, w.Title, w.TotalCost, w.Description, string(w.BoxType))
	},
	scan: func(row pgx.Row) (w ledger.Wastage, err error) {
		err = row.Scan(&w.ID, &w.TransactionID, &w.Date, &w.Title, &w.TotalCost, &w.Description, &w.BoxType)
		return w, err
	},
}

var shares = table[ledger.ShareTransaction]{
	name:    ledger.TableShares,
	kind:    "share",
	columns: []string{"id", "invoice_id", "customer_id", "service_id", "share_type", "amount", "date"},
	order:   "date, id",
	args: func(s ledger.ShareTransaction) ([]any, error) {
		return plain(s.ID, s.InvoiceID, s.CustomerID, s.ServiceID, string(s.ShareType), s.Amount, s.Date)
	},
	scan: func(row pgx.Row) (s ledger.ShareTransaction, err error) {
		err = row.Scan(&s.ID, &s.InvoiceID, &s.CustomerID, &s.ServiceID, &s.ShareType, &s.Amount, &s.Date)
		return s, err
	},
}
