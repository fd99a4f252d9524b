// Package pgstore is the PostgreSQL ledger backend. Every period lives in its
// own schema named period_<id>; the catalog lives in the public schema.
package pgstore

import (
	"github.com/jackc/pgx/v5"
)

// SchemaName maps a period id to its schema. Period ids are validated by the
// registry and the name is always quoted, so case is preserved.
func SchemaName(periodID string) string {
	return "period_" + periodID
}

func qualify(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// periodDDL creates the fixed per-period schema. %[1]s is the quoted schema.
var periodDDL = []string{
	`CREATE SCHEMA IF NOT EXISTS %[1]s`,
	`CREATE TABLE IF NOT EXISTS %[1]s.customers (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		debit BIGINT NOT NULL DEFAULT 0,
		credit BIGINT NOT NULL DEFAULT 0,
		is_vip BOOLEAN NOT NULL DEFAULT FALSE,
		user_ref TEXT NOT NULL DEFAULT '',
		carried_forward BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		price BIGINT NOT NULL DEFAULT 0,
		main_share BIGINT NOT NULL DEFAULT 0,
		commission_share BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.costs (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		amount BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.invoices (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		type TEXT NOT NULL,
		issue_date TEXT NOT NULL,
		items JSONB NOT NULL DEFAULT '[]',
		cost_items JSONB NOT NULL DEFAULT '[]',
		discount BIGINT NOT NULL DEFAULT 0,
		total_amount BIGINT NOT NULL DEFAULT 0,
		payments JSONB NOT NULL DEFAULT '[]',
		order_status TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.cash_transactions (
		id TEXT PRIMARY KEY,
		box_type TEXT NOT NULL CHECK (box_type IN ('main', 'vip')),
		type TEXT NOT NULL CHECK (type IN ('income', 'expense')),
		amount BIGINT NOT NULL CHECK (amount > 0),
		date TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		invoice_id TEXT NOT NULL DEFAULT '',
		invoice_number TEXT NOT NULL DEFAULT '',
		customer_id TEXT NOT NULL DEFAULT '',
		partner_id TEXT NOT NULL DEFAULT '',
		subtype TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS cash_transactions_date_idx ON %[1]s.cash_transactions (date, id)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.partners (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		initial_balance BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.partner_transactions (
		id TEXT PRIMARY KEY,
		partner_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		date TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		box_type TEXT NOT NULL DEFAULT '',
		related_partner_id TEXT NOT NULL DEFAULT '',
		related_partner_name TEXT NOT NULL DEFAULT '',
		cash_transaction_id TEXT NOT NULL DEFAULT '',
		transfer_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS partner_transactions_partner_idx ON %[1]s.partner_transactions (partner_id, date, id)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.wastages (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		date TEXT NOT NULL,
		title TEXT NOT NULL,
		total_cost BIGINT NOT NULL CHECK (total_cost > 0),
		description TEXT NOT NULL DEFAULT '',
		box_type TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.shares (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		share_type TEXT NOT NULL,
		amount BIGINT NOT NULL,
		date TEXT NOT NULL
	)`,
}

var catalogDDL = []string{
	`CREATE TABLE IF NOT EXISTS fiscal_periods (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}
