// Package ledgerhttp exposes the period registry, the ledger coordinator and
// the reporting services as a JSON API.
package ledgerhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/periodledger/internal/backup"
	"github.com/odyssey-erp/periodledger/internal/carryforward"
	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/periods"
	"github.com/odyssey-erp/periodledger/internal/platform/cache"
	"github.com/odyssey-erp/periodledger/internal/platform/httpx"
	"github.com/odyssey-erp/periodledger/internal/rbac"
	"github.com/odyssey-erp/periodledger/internal/shared"
	"github.com/odyssey-erp/periodledger/internal/statements"
	"github.com/odyssey-erp/periodledger/report"
)

type periodRegistry interface {
	Periods(ctx context.Context) ([]periods.FiscalPeriod, error)
	ActiveID(ctx context.Context) (string, error)
	Resolve(ctx context.Context, id string) (string, error)
	GetStore(ctx context.Context, id string) (ledger.Store, error)
	CreatePeriod(ctx context.Context, in periods.CreatePeriodInput) (periods.FiscalPeriod, error)
	DeletePeriod(ctx context.Context, id string) error
	Activate(ctx context.Context, id string) error
}

type migrator interface {
	Migrate(ctx context.Context, sourceID, destID string) (carryforward.Delta, error)
}

type statementService interface {
	CustomerStatement(ctx context.Context, periodID, customerID string) (statements.Statement, error)
	PartnerStatement(ctx context.Context, periodID, partnerID string) (statements.Statement, error)
	CashBoxSummary(ctx context.Context, periodID string) (statements.BoxSummary, error)
}

type statementRenderer interface {
	RenderStatement(ctx context.Context, st statements.Statement) ([]byte, error)
}

type exporter interface {
	Export(ctx context.Context) (backup.Archive, error)
}

// Deps are the collaborators of the handler.
type Deps struct {
	Registry   periodRegistry
	Migrator   migrator
	Statements statementService
	Backups    exporter
	RBAC       rbac.Middleware

	// Idempotency guards POSTs carrying an Idempotency-Key. Nil disables it.
	Idempotency *shared.IdempotencyStore
	// Coordinator options applied to every request, e.g. commit hooks and metrics.
	Coordinator []ledger.Option
	// PDF renders statement documents. Nil answers 503.
	PDF         statementRenderer
}

// Handler serves /api.
type Handler struct {
	logger  *slog.Logger
	deps    Deps
	respond *httpx.Responder
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, deps Deps) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, deps: deps, respond: httpx.NewResponder(logger, errorMappings...)}
}

var errorMappings = []httpx.Mapping{
	{Match: ledger.IsValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Match: httpx.Is(ledger.ErrNotFound, periods.ErrPeriodNotFound), Status: http.StatusNotFound, Title: "Not Found"},
	{Match: httpx.Is(
		ledger.ErrDuplicate,
		ledger.ErrInconsistent,
		periods.ErrDuplicatePeriod,
		periods.ErrPeriodInUse,
		periods.ErrNoActivePeriod,
		carryforward.ErrSamePeriod,
		cache.ErrLockHeld,
		shared.ErrIdempotencyConflict,
	), Status: http.StatusConflict, Title: "Conflict"},
	{Match: httpx.Is(ledger.ErrConflictRetryExceeded, ledger.ErrStoreClosed), Status: http.StatusServiceUnavailable, Title: "Try Again"},
	{Match: httpx.Is(report.ErrDisabled), Status: http.StatusServiceUnavailable, Title: "PDF Rendering Unavailable"},
}

// MountRoutes registers the API under r.
func (h *Handler) MountRoutes(r chi.Router) {
	rb := h.deps.RBAC
	r.Route("/api", func(r chi.Router) {
		r.With(rb.RequireAll(rbac.PermBackupManage)).Get("/backup", h.exportBackup)

		r.Route("/periods", func(r chi.Router) {
			r.With(rb.RequireAll(rbac.PermStatementView)).Get("/", h.listPeriods)
			r.With(rb.RequireAll(rbac.PermPeriodManage)).Post("/", h.createPeriod)

			r.Route("/{period}", func(r chi.Router) {
				r.Use(h.idempotent)
				r.Group(func(r chi.Router) {
					r.Use(rb.RequireAll(rbac.PermPeriodManage))
					r.Delete("/", h.deletePeriod)
					r.Post("/activate", h.activatePeriod)
					r.Post("/carry-forward", h.carryForward)
				})
				r.Group(func(r chi.Router) {
					r.Use(rb.RequireAll(rbac.PermRecordsManage))
					r.Post("/customers", h.createCustomer)
					r.Post("/partners", h.createPartner)
					r.Post("/products", h.createProduct)
					r.Post("/costs", h.createCost)
					r.Post("/invoices", h.saveInvoice)
					r.Post("/invoices/{invoice}/shares", h.recordShares)
				})
				r.With(rb.RequireAll(rbac.PermPaymentCreate)).Post("/invoices/{invoice}/payments", h.registerPayment)
				r.Group(func(r chi.Router) {
					r.Use(rb.RequireAll(rbac.PermWastageManage))
					r.Post("/wastages", h.recordWastage)
					r.Delete("/wastages/{wastage}", h.deleteWastage)
				})
				r.Group(func(r chi.Router) {
					r.Use(rb.RequireAll(rbac.PermPartnerManage))
					r.Post("/partners/{partner}/deposits", h.partnerDeposit)
					r.Post("/partners/{partner}/withdrawals", h.partnerWithdrawal)
					r.Post("/partner-transfers", h.partnerTransfer)
				})
				r.With(rb.RequireAll(rbac.PermCashTransfer)).Post("/cash-transfers", h.cashTransfer)
				r.With(rb.RequireAll(rbac.PermCustomerAdjust)).Post("/customers/{customer}/adjustments", h.adjustCustomer)
				r.Group(func(r chi.Router) {
					r.Use(rb.RequireAll(rbac.PermStatementView))
					r.Get("/customers/{customer}/statement", h.customerStatement)
					r.Get("/customers/{customer}/statement.pdf", h.customerStatementPDF)
					r.Get("/partners/{partner}/statement", h.partnerStatement)
					r.Get("/partners/{partner}/statement.pdf", h.partnerStatementPDF)
					r.Get("/cash-boxes", h.cashBoxes)
					r.Get("/integrity", h.integrity)
				})
			})
		})
	})
}

// coordinator resolves {period} and binds a coordinator to its store.
func (h *Handler) coordinator(r *http.Request) (*ledger.Coordinator, error) {
	store, err := h.store(r)
	if err != nil {
		return nil, err
	}
	return ledger.NewCoordinator(store, append([]ledger.Option{ledger.WithLogger(h.logger)}, h.deps.Coordinator...)...), nil
}

func (h *Handler) store(r *http.Request) (ledger.Store, error) {
	id, err := h.deps.Registry.Resolve(r.Context(), chi.URLParam(r, "period"))
	if err != nil {
		return nil, err
	}
	return h.deps.Registry.GetStore(r.Context(), id)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		h.logger.Debug("request cancelled", slog.String("path", r.URL.Path))
	}
	h.respond.Error(w, r, err)
}
