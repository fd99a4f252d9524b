package ledger

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Operation names a coordinator call for logs, metrics and commit hooks.
type Operation string

const (
	OpRegisterInvoicePayment   Operation = "register_invoice_payment"
	OpRecordWastage            Operation = "record_wastage"
	OpDeleteWastage            Operation = "delete_wastage"
	OpPartnerDeposit           Operation = "partner_deposit"
	OpPartnerWithdrawal        Operation = "partner_withdrawal"
	OpPartnerTransfer          Operation = "partner_transfer"
	OpCashBoxTransfer          Operation = "cash_box_transfer"
	OpManualCustomerAdjustment Operation = "manual_customer_adjustment"
	OpCreateCustomer           Operation = "create_customer"
	OpCreatePartner            Operation = "create_partner"
	OpCreateProduct            Operation = "create_product"
	OpCreateCost               Operation = "create_cost"
	OpSaveInvoice              Operation = "save_invoice"
	OpRecordServiceShares      Operation = "record_service_shares"
)

// Event describes a committed operation.
type Event struct {
	PeriodID    string
	Operation   Operation
	CustomerIDs []string
	PartnerIDs  []string
}

// CommitHook runs after a successful commit. It must not fail the operation.
type CommitHook func(ctx context.Context, ev Event)

// Recorder observes operation outcomes.
type Recorder interface {
	ObserveOperation(op string, err error)
}

// Coordinator executes every state-changing business operation against a
// single period store as one atomic unit of work. Callers are expected to
// have passed the access control gate already.
type Coordinator struct {
	store   Store
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	hook    CommitHook
	metrics Recorder
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithCommitHook registers a post-commit callback.
func WithCommitHook(hook CommitHook) Option {
	return func(c *Coordinator) {
		c.hook = hook
	}
}

// WithMetrics registers an outcome recorder.
func WithMetrics(r Recorder) Option {
	return func(c *Coordinator) {
		c.metrics = r
	}
}

// NewCoordinator binds a coordinator to one period store.
func NewCoordinator(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PeriodID returns the period the coordinator writes to.
func (c *Coordinator) PeriodID() string {
	return c.store.PeriodID()
}

func (c *Coordinator) today() string {
	return c.now().Format(DateLayout)
}

// run executes fn in one transaction and reports the outcome. fn may be
// invoked more than once when the backend retries a conflict, so it must
// assign rather than append to captured state.
func (c *Coordinator) run(ctx context.Context, op Operation, ev *Event, fn func(context.Context, Tx) error) error {
	start := c.now()
	err := c.store.WithTx(ctx, fn)
	if c.metrics != nil {
		c.metrics.ObserveOperation(string(op), err)
	}
	if err != nil {
		c.logger.Warn("ledger operation rejected",
			slog.String("op", string(op)),
			slog.String("period", c.store.PeriodID()),
			slog.Any("error", err))
		return err
	}
	c.logger.Info("ledger operation committed",
		slog.String("op", string(op)),
		slog.String("period", c.store.PeriodID()),
		slog.Duration("took", c.now().Sub(start)))
	if c.hook != nil {
		out := Event{PeriodID: c.store.PeriodID(), Operation: op}
		if ev != nil {
			out.CustomerIDs = ev.CustomerIDs
			out.PartnerIDs = ev.PartnerIDs
		}
		c.hook(ctx, out)
	}
	return nil
}

func (c *Coordinator) reject(op Operation, err error) error {
	if c.metrics != nil {
		c.metrics.ObserveOperation(string(op), err)
	}
	c.logger.Debug("ledger operation invalid",
		slog.String("op", string(op)),
		slog.Any("error", err))
	return err
}
