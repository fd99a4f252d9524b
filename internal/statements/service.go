// Package statements renders running-balance statements for customers,
// partners and cash boxes, with a Redis cache invalidated on every commit.
package statements

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Rhymond/go-money"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/periodledger/internal/ledger"
)

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = money.USD

// StoreSource resolves period ids (including the active alias) to stores.
// *periods.Registry satisfies it.
type StoreSource interface {
	Resolve(ctx context.Context, id string) (string, error)
	GetStore(ctx context.Context, id string) (ledger.Store, error)
}

// CacheObserver counts statement cache lookups.
type CacheObserver interface {
	ObserveStatementCache(hit bool)
}

// Line is one statement row with the balance after it.
type Line struct {
	ID             string `json:"id"`
	Date           string `json:"date"`
	Description    string `json:"description"`
	Kind           string `json:"kind"`
	Amount         int64  `json:"amount"`
	Running        int64  `json:"running"`
	Display        string `json:"display"`
	RunningDisplay string `json:"running_display"`
}

// Statement is an ordered projection of one account within a period.
type Statement struct {
	PeriodID       string `json:"period_id"`
	SubjectID      string `json:"subject_id"`
	SubjectName    string `json:"subject_name"`
	Currency       string `json:"currency"`
	Opening        int64  `json:"opening"`
	OpeningDisplay string `json:"opening_display"`
	Lines          []Line `json:"lines"`
	Closing        int64  `json:"closing"`
	ClosingDisplay string `json:"closing_display"`
}

// BoxBalance is the net of one cash box.
type BoxBalance struct {
	Box     ledger.BoxType `json:"box"`
	Balance int64          `json:"balance"`
	Display string         `json:"display"`
}

// BoxSummary lists every box and their total.
type BoxSummary struct {
	PeriodID     string       `json:"period_id"`
	Boxes        []BoxBalance `json:"boxes"`
	Total        int64        `json:"total"`
	TotalDisplay string       `json:"total_display"`
}

// Service builds statements.
type Service struct {
	source   StoreSource
	cache    *Cache
	currency string
	logger   *slog.Logger
	observer CacheObserver
	group    singleflight.Group
}

// Option customises a Service.
type Option func(*Service)

// WithCache enables Redis caching.
func WithCache(c *Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithCurrency sets the ISO 4217 display currency.
func WithCurrency(code string) Option {
	return func(s *Service) {
		if code != "" && money.GetCurrency(code) != nil {
			s.currency = code
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCacheObserver reports cache hits and misses.
func WithCacheObserver(o CacheObserver) Option {
	return func(s *Service) { s.observer = o }
}

// NewService wires the statement service.
func NewService(source StoreSource, opts ...Option) *Service {
	s := &Service{
		source:   source,
		currency: DefaultCurrency,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Currency returns the display currency code.
func (s *Service) Currency() string { return s.currency }

// Format renders a minor-unit amount in the display currency.
func (s *Service) Format(amount int64) string {
	return money.New(amount, s.currency).Display()
}

// CustomerStatement projects the customer's cash lines onto the balance
// carried into the period. The closing balance equals credit minus debit.
func (s *Service) CustomerStatement(ctx context.Context, periodID, customerID string) (Statement, error) {
	return s.cached(ctx, periodID, "customer", customerID, func(ctx context.Context, store ledger.Store) (Statement, error) {
		cust, err := store.Customer(ctx, customerID)
		if err != nil {
			return Statement{}, err
		}
		txs, err := store.CashTransactions(ctx, ledger.CashFilter{CustomerID: customerID})
		if err != nil {
			return Statement{}, err
		}
		st := buildStatement(s.Format, cust.CarriedForward, ledger.Project(cust.CarriedForward, txs), func(t ledger.CashTransaction) (string, string) {
			kind := string(t.Subtype)
			if kind == "" {
				kind = string(t.Type)
			}
			return kind, t.Description
		})
		st.Currency = s.currency
		st.SubjectID, st.SubjectName = cust.ID, cust.DisplayName()
		return st, nil
	})
}

// PartnerStatement replays the partner's movements from its initial balance.
func (s *Service) PartnerStatement(ctx context.Context, periodID, partnerID string) (Statement, error) {
	return s.cached(ctx, periodID, "partner", partnerID, func(ctx context.Context, store ledger.Store) (Statement, error) {
		p, err := store.Partner(ctx, partnerID)
		if err != nil {
			return Statement{}, err
		}
		txs, err := store.PartnerTransactions(ctx, partnerID)
		if err != nil {
			return Statement{}, err
		}
		st := buildStatement(s.Format, p.InitialBalance, ledger.Project(p.InitialBalance, txs), func(t ledger.PartnerTransaction) (string, string) {
			return string(t.Type), t.Description
		})
		st.Currency = s.currency
		st.SubjectID, st.SubjectName = p.ID, p.Name
		return st, nil
	})
}

// CashBoxSummary returns the net of each box. It is always computed fresh.
func (s *Service) CashBoxSummary(ctx context.Context, periodID string) (BoxSummary, error) {
	id, store, err := s.open(ctx, periodID)
	if err != nil {
		return BoxSummary{}, err
	}
	txs, err := store.CashTransactions(ctx, ledger.CashFilter{})
	if err != nil {
		return BoxSummary{}, err
	}
	nets := ledger.SumBoxes(txs)
	out := BoxSummary{PeriodID: id, Boxes: make([]BoxBalance, 0, len(ledger.Boxes))}
	for _, box := range ledger.Boxes {
		out.Boxes = append(out.Boxes, BoxBalance{Box: box, Balance: nets[box], Display: s.Format(nets[box])})
		out.Total += nets[box]
	}
	out.TotalDisplay = s.Format(out.Total)
	return out, nil
}

// Invalidate drops every cached statement of the period.
func (s *Service) Invalidate(ctx context.Context, periodID string) error {
	return s.cache.Bump(ctx, periodID)
}

// CommitHook invalidates the committed period. Failures are logged; the
// commit already happened.
func (s *Service) CommitHook() ledger.CommitHook {
	return func(ctx context.Context, ev ledger.Event) {
		if err := s.Invalidate(ctx, ev.PeriodID); err != nil {
			s.logger.Warn("statement cache bump failed",
				slog.String("period", ev.PeriodID),
				slog.String("operation", string(ev.Operation)),
				slog.Any("error", err))
		}
	}
}

// OnSwitch invalidates both periods of an active-period switch.
func (s *Service) OnSwitch(ctx context.Context, from, to string) {
	for _, id := range []string{from, to} {
		if id == "" {
			continue
		}
		if err := s.Invalidate(ctx, id); err != nil {
			s.logger.Warn("statement cache bump failed", slog.String("period", id), slog.Any("error", err))
		}
	}
}

func (s *Service) open(ctx context.Context, periodID string) (string, ledger.Store, error) {
	id, err := s.source.Resolve(ctx, periodID)
	if err != nil {
		return "", nil, err
	}
	store, err := s.source.GetStore(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return id, store, nil
}

func (s *Service) cached(ctx context.Context, periodID, kind, subject string, build func(context.Context, ledger.Store) (Statement, error)) (Statement, error) {
	id, store, err := s.open(ctx, periodID)
	if err != nil {
		return Statement{}, err
	}
	key, err := s.cache.BuildKey(ctx, id, kind, subject, s.currency)
	if err != nil {
		return Statement{}, fmt.Errorf("statements: cache key: %w", err)
	}
	// The shared build outlives any single caller; each waiter still gives
	// up on its own ctx below.
	buildCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		var st Statement
		hit, err := s.cache.FetchJSON(buildCtx, key, &st, func(ctx context.Context) (any, error) {
			st, err := build(ctx, store)
			if err != nil {
				return nil, err
			}
			st.PeriodID = id
			return st, nil
		})
		if err == nil && s.observer != nil {
			s.observer.ObserveStatementCache(hit)
		}
		return st, err
	})
	select {
	case <-ctx.Done():
		return Statement{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Statement{}, res.Err
		}
		return res.Val.(Statement), nil
	}
}

func buildStatement[E ledger.Entry](format func(int64) string, opening int64, lines []ledger.Line[E], describe func(E) (kind, description string)) Statement {
	st := Statement{
		Opening:        opening,
		OpeningDisplay: format(opening),
		Lines:          make([]Line, 0, len(lines)),
		Closing:        opening,
	}
	for _, l := range lines {
		kind, desc := describe(l.Entry)
		amount := l.Entry.SignedAmount()
		st.Lines = append(st.Lines, Line{
			ID:             l.Entry.EntryID(),
			Date:           l.Entry.EntryDate(),
			Description:    desc,
			Kind:           kind,
			Amount:         amount,
			Running:        l.RunningBalance,
			Display:        format(amount),
			RunningDisplay: format(l.RunningBalance),
		})
		st.Closing = l.RunningBalance
	}
	st.ClosingDisplay = format(st.Closing)
	return st
}
