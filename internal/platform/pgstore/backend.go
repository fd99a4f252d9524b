package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/periods"
	"github.com/odyssey-erp/periodledger/internal/platform/db"
)

// Backend provisions one schema per period on a shared pool.
type Backend struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	retries RetryRecorder
}

var _ periods.Backend = (*Backend)(nil)

// NewBackend binds the backend to a pool. retries may be nil.
func NewBackend(pool *pgxpool.Pool, logger *slog.Logger, retries RetryRecorder) *Backend {
	if logger == nil {
		logger = discardLogger()
	}
	return &Backend{pool: pool, logger: logger, retries: retries}
}

// Provision creates the period schema and its tables when missing.
func (b *Backend) Provision(ctx context.Context, id string) error {
	schema := pgx.Identifier{SchemaName(id)}.Sanitize()
	return db.WithTx(ctx, b.pool, func(tx pgx.Tx) error {
		for _, stmt := range periodDDL {
			if _, err := tx.Exec(ctx, fmt.Sprintf(stmt, schema)); err != nil {
				return fmt.Errorf("pgstore: provision %s: %w", id, err)
			}
		}
		return nil
	})
}

// Open returns a handle on an existing period schema.
func (b *Backend) Open(ctx context.Context, id string) (ledger.Store, error) {
	var exists bool
	err := b.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
		SchemaName(id)).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open %s: %w", id, err)
	}
	if !exists {
		return nil, fmt.Errorf("pgstore: period %s not provisioned: %w", id, ledger.ErrNotFound)
	}
	return &Store{id: id, schema: SchemaName(id), pool: b.pool, logger: b.logger, retries: b.retries}, nil
}

// Destroy drops the period schema and everything in it.
func (b *Backend) Destroy(ctx context.Context, id string) error {
	if _, err := b.pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pgx.Identifier{SchemaName(id)}.Sanitize())); err != nil {
		return fmt.Errorf("pgstore: destroy %s: %w", id, err)
	}
	return nil
}

const activePeriodKey = "active_period"

// Catalog stores period metadata in fiscal_periods and ledger_settings.
type Catalog struct {
	pool *pgxpool.Pool
}

var _ periods.Catalog = (*Catalog)(nil)

// NewCatalog binds the catalog to a pool.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// EnsureSchema creates the catalog tables when missing.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	for _, stmt := range catalogDDL {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore: catalog schema: %w", err)
		}
	}
	return nil
}

func scanPeriod(row pgx.Row) (periods.FiscalPeriod, error) {
	var p periods.FiscalPeriod
	err := row.Scan(&p.ID, &p.Name, &p.StartDate, &p.CreatedAt)
	return p, err
}

func (c *Catalog) ListPeriods(ctx context.Context) ([]periods.FiscalPeriod, error) {
	rows, err := c.pool.Query(ctx, `SELECT id, name, start_date, created_at FROM fiscal_periods ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list periods: %w", err)
	}
	defer rows.Close()
	out := make([]periods.FiscalPeriod, 0)
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan period: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *Catalog) GetPeriod(ctx context.Context, id string) (periods.FiscalPeriod, error) {
	p, err := scanPeriod(c.pool.QueryRow(ctx, `SELECT id, name, start_date, created_at FROM fiscal_periods WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return p, fmt.Errorf("%s: %w", id, periods.ErrPeriodNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("pgstore: get period: %w", err)
	}
	return p, nil
}

func (c *Catalog) InsertPeriod(ctx context.Context, p periods.FiscalPeriod) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO fiscal_periods (id, name, start_date, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.StartDate, createdAt(p))
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w", p.ID, periods.ErrDuplicatePeriod)
	}
	if err != nil {
		return fmt.Errorf("pgstore: insert period: %w", err)
	}
	return nil
}

func (c *Catalog) DeletePeriod(ctx context.Context, id string) error {
	tag, err := c.pool.Exec(ctx, `DELETE FROM fiscal_periods WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", id, periods.ErrPeriodNotFound)
	}
	return nil
}

func (c *Catalog) ActivePeriod(ctx context.Context) (string, error) {
	var id string
	err := c.pool.QueryRow(ctx, `SELECT value FROM ledger_settings WHERE key = $1`, activePeriodKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("pgstore: active period: %w", err)
	}
	return id, nil
}

func (c *Catalog) SetActivePeriod(ctx context.Context, id string) error {
	tag, err := c.pool.Exec(ctx, `
		INSERT INTO ledger_settings (key, value)
		SELECT $1, id FROM fiscal_periods WHERE id = $2
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, activePeriodKey, id)
	if err != nil {
		return fmt.Errorf("pgstore: set active period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", id, periods.ErrPeriodNotFound)
	}
	return nil
}

func (c *Catalog) UpsertPeriods(ctx context.Context, ps []periods.FiscalPeriod) error {
	return db.WithTx(ctx, c.pool, func(tx pgx.Tx) error {
		for _, p := range ps {
			_, err := tx.Exec(ctx, `
				INSERT INTO fiscal_periods (id, name, start_date, created_at) VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, start_date = EXCLUDED.start_date, created_at = EXCLUDED.created_at`,
				p.ID, p.Name, p.StartDate, createdAt(p))
			if err != nil {
				return fmt.Errorf("pgstore: upsert period %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

func createdAt(p periods.FiscalPeriod) time.Time {
	if p.CreatedAt.IsZero() {
		return time.Now().UTC()
	}
	return p.CreatedAt
}
