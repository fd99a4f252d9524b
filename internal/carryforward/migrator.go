// Package carryforward copies the closing position of one period into another
// as opening state: definitions verbatim, customers and partners as net
// balances and each cash box as a single opening entry.
package carryforward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/periods"
	"github.com/odyssey-erp/periodledger/internal/shared"
)

// ErrSamePeriod indicates a migration onto its own source.
var ErrSamePeriod = errors.New("carryforward: source and destination are the same period")

// StoreSource resolves period metadata and stores. *periods.Registry satisfies it.
type StoreSource interface {
	GetStore(ctx context.Context, id string) (ledger.Store, error)
	Period(ctx context.Context, id string) (periods.FiscalPeriod, error)
}

// Locker serialises commits against one destination across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Delta is everything a migration writes to the destination.
type Delta struct {
	SourceID  string                   `json:"source_id"`
	DestID    string                   `json:"dest_id"`
	// Products, Costs and Partners keep the destination's own edits when the
	// row already exists there; Customers carry the source net position.
	Products  []ledger.Product         `json:"products"`
	Costs     []ledger.Cost            `json:"costs"`
	Customers []ledger.Customer        `json:"customers"`
	Partners  []ledger.Partner         `json:"partners"`
	Openings  []ledger.CashTransaction `json:"openings"`
	// Cleared lists opening entry ids whose box nets to zero this time.
	Cleared []string `json:"cleared,omitempty"`
}

// Migrator carries balances between periods.
type Migrator struct {
	source  StoreSource
	logger  *slog.Logger
	now     func() time.Time
	locker  Locker
	lockTTL time.Duration
	after   func(ctx context.Context, destID string)
}

// Option customises a Migrator.
type Option func(*Migrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the fallback opening date clock.
func WithClock(now func() time.Time) Option {
	return func(m *Migrator) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLocker guards the final commit with a distributed lock.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(m *Migrator) {
		m.locker = l
		m.lockTTL = ttl
	}
}

// WithAfterCommit runs fn once the destination commit succeeded, e.g. to
// drop cached statements of destID.
func WithAfterCommit(fn func(ctx context.Context, destID string)) Option {
	return func(m *Migrator) {
		m.after = fn
	}
}

// NewMigrator builds a migrator over a store source.
func NewMigrator(source StoreSource, opts ...Option) *Migrator {
	m := &Migrator{
		source:  source,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
		lockTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OpeningID is the deterministic id of the opening entry for box.
func OpeningID(sourceID string, box ledger.BoxType) string {
	return fmt.Sprintf("carry-forward-%s-%s", sourceID, box)
}

// Plan computes the delta without writing anything.
func (m *Migrator) Plan(ctx context.Context, sourceID, destID string) (Delta, error) {
	if sourceID == destID {
		return Delta{}, ErrSamePeriod
	}
	src, err := m.source.GetStore(ctx, sourceID)
	if err != nil {
		return Delta{}, fmt.Errorf("carryforward: source: %w", err)
	}
	destPeriod, err := m.source.Period(ctx, destID)
	if err != nil {
		return Delta{}, fmt.Errorf("carryforward: destination: %w", err)
	}

	var (
		products   []ledger.Product
		costs      []ledger.Cost
		customers  []ledger.Customer
		partners   []ledger.Partner
		partnerTxs []ledger.PartnerTransaction
		cash       []ledger.CashTransaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { products, err = src.Products(gctx); return err })
	g.Go(func() (err error) { costs, err = src.Costs(gctx); return err })
	g.Go(func() (err error) { customers, err = src.Customers(gctx); return err })
	g.Go(func() (err error) { partners, err = src.Partners(gctx); return err })
	g.Go(func() (err error) { partnerTxs, err = src.PartnerTransactions(gctx, ""); return err })
	g.Go(func() (err error) { cash, err = src.CashTransactions(gctx, ledger.CashFilter{}); return err })
	if err := g.Wait(); err != nil {
		return Delta{}, fmt.Errorf("carryforward: read %s: %w", sourceID, err)
	}

	delta := Delta{
		SourceID:  sourceID,
		DestID:    destID,
		Products:  products,
		Costs:     costs,
		Customers: make([]ledger.Customer, 0, len(customers)),
		Partners:  make([]ledger.Partner, 0, len(partners)),
		Openings:  make([]ledger.CashTransaction, 0, len(ledger.Boxes)),
	}
	for _, c := range customers {
		net := c.Balance()
		c.Credit, c.Debit = max(net, 0), max(-net, 0)
		c.CarriedForward = net
		delta.Customers = append(delta.Customers, c)
	}

	byPartner := make(map[string][]ledger.PartnerTransaction, len(partners))
	for _, t := range partnerTxs {
		byPartner[t.PartnerID] = append(byPartner[t.PartnerID], t)
	}
	for _, p := range partners {
		p.InitialBalance = ledger.Replay(p.InitialBalance, byPartner[p.ID])
		delta.Partners = append(delta.Partners, p)
	}

	date := destPeriod.OpeningDate(m.now())
	nets := ledger.SumBoxes(cash)
	for _, box := range ledger.Boxes {
		net := nets[box]
		id := OpeningID(sourceID, box)
		if net == 0 {
			delta.Cleared = append(delta.Cleared, id)
			continue
		}
		typ := ledger.CashIncome
		if net < 0 {
			typ = ledger.CashExpense
		}
		delta.Openings = append(delta.Openings, ledger.CashTransaction{
			ID:          id,
			BoxType:     box,
			Type:        typ,
			Amount:      abs(net),
			Date:        date,
			Description: fmt.Sprintf("opening balance carried forward from %s", sourceID),
			Subtype:     ledger.SubtypeCarryForward,
		})
	}
	return delta, nil
}

// Migrate plans and commits the delta to the destination in one transaction.
// Running it again only moves each customer by the change of its carried
// position, so activity already booked in the destination is kept.
func (m *Migrator) Migrate(ctx context.Context, sourceID, destID string) (Delta, error) {
	delta, err := m.Plan(ctx, sourceID, destID)
	if err != nil {
		return Delta{}, err
	}
	if err := ctx.Err(); err != nil {
		return Delta{}, err
	}
	dest, err := m.source.GetStore(ctx, destID)
	if err != nil {
		return Delta{}, fmt.Errorf("carryforward: destination: %w", err)
	}

	if m.locker != nil {
		release, err := m.locker.Acquire(ctx, shared.PeriodLockKey(destID), m.lockTTL)
		if err != nil {
			return Delta{}, fmt.Errorf("carryforward: lock %s: %w", destID, err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("release carry-forward lock", slog.String("period", destID), slog.Any("error", err))
			}
		}()
	}

	if err := dest.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return commit(ctx, tx, delta)
	}); err != nil {
		return Delta{}, fmt.Errorf("carryforward: commit %s: %w", destID, err)
	}
	if m.after != nil {
		m.after(ctx, destID)
	}
	m.logger.Info("period carried forward",
		slog.String("source", sourceID),
		slog.String("dest", destID),
		slog.Int("customers", len(delta.Customers)),
		slog.Int("partners", len(delta.Partners)),
		slog.Int("openings", len(delta.Openings)))
	return delta, nil
}

func commit(ctx context.Context, tx ledger.Tx, d Delta) error {
	products, err := tx.Products(ctx)
	if err != nil {
		return err
	}
	haveProduct := make(map[string]bool, len(products))
	for _, p := range products {
		haveProduct[p.ID] = true
	}
	for _, p := range d.Products {
		if haveProduct[p.ID] {
			continue
		}
		if err := tx.PutProduct(ctx, p); err != nil {
			return err
		}
	}

	costs, err := tx.Costs(ctx)
	if err != nil {
		return err
	}
	haveCost := make(map[string]bool, len(costs))
	for _, c := range costs {
		haveCost[c.ID] = true
	}
	for _, c := range d.Costs {
		if haveCost[c.ID] {
			continue
		}
		if err := tx.PutCost(ctx, c); err != nil {
			return err
		}
	}

	for _, c := range d.Customers {
		existing, err := tx.LockCustomer(ctx, c.ID)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
		case err != nil:
			return err
		default:
			// Swap the previous opening for the new one and keep whatever
			// the destination booked on top of it.
			net := existing.Balance() - existing.CarriedForward + c.CarriedForward
			existing.Credit, existing.Debit = max(net, 0), max(-net, 0)
			existing.CarriedForward = c.CarriedForward
			c = existing
		}
		if err := tx.PutCustomer(ctx, c); err != nil {
			return err
		}
	}

	for _, p := range d.Partners {
		existing, err := tx.LockPartner(ctx, p.ID)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
		case err != nil:
			return err
		default:
			// Destination transactions replay from InitialBalance, so only
			// the opening moves.
			existing.InitialBalance = p.InitialBalance
			p = existing
		}
		if err := tx.PutPartner(ctx, p); err != nil {
			return err
		}
	}

	for _, o := range d.Openings {
		if err := tx.PutCashTransaction(ctx, o); err != nil {
			return err
		}
	}
	for _, id := range d.Cleared {
		if err := tx.DeleteCashTransaction(ctx, id); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
	}
	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
