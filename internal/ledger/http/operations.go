package ledgerhttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/platform/httpx"
)

// create decodes In, runs op on the period's coordinator and answers 201.
func create[In, Out any](h *Handler, op func(*ledger.Coordinator, *http.Request, In) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in In
		if err := httpx.DecodeJSON(w, r, &in); err != nil {
			h.fail(w, r, err)
			return
		}
		c, err := h.coordinator(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out, err := op(c, r, in)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, out)
	}
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	create(h, func(c *ledger.Coordinator, r *http.Request, in ledger.CustomerInput) (ledger.Customer, error) {
		return c.CreateCustomer(r.Context(), in)
	})(w, r)
}

func (h *Handler) createPartner(w http.ResponseWriter, r *http.Request) {
	create(h, func(c *ledger.Coordinator, r *http.Request, in ledger.PartnerInput) (ledger.Partner, error) {
		return c.CreatePartner(r.Context(), in)
	})(w, r)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	create(h, func(c *ledger.Coordinator, r *http.Request, in ledger.ProductInput) (ledger.Product, error) {
		return c.CreateProduct(r.Context(), in)
	})(w, r)
}

func (h *Handler) createCost(w http.ResponseWriter, r *http.Request) {
	create(h, func(c *ledger.Coordinator, r *http.Request, in ledger.CostInput) (ledger.Cost, error) {
		return c.CreateCost(r.Context(), in)
	})(w, r)
}

func (h *Handler) saveInvoice(w http.ResponseWriter, r *http.Request) {
	create(h, func(c *ledger.Coordinator, r *http.Request, in ledger.InvoiceInput) (ledger.Invoice, error) {
		return c.SaveInvoice(r.Context(), in)
	})(w, r)
}

type shareRequest struct {
	ServiceID        string `json:"service_id"`
	MainAmount       int64  `json:"main_amount"`
	CommissionAmount int64  `json:"commission_amount"`
}

func (h *Handler) recordShares(w http.ResponseWriter, r *http.Request) {
	create(h, func(c *ledger.Coordinator, r *http.Request, in shareRequest) ([]ledger.ShareTransaction, error) {
		return c.RecordServiceShares(r.Context(), ledger.ServiceShareInput{
			InvoiceID:        chi.URLParam(r, "invoice"),
			ServiceID:        in.ServiceID,
			MainAmount:       in.MainAmount,
			CommissionAmount: in.CommissionAmount,
		})
	})(w, r)
}

func (h *Handler) registerPayment(w http.ResponseWriter, r *http.Request) {
	create(h, func(c *ledger.Coordinator, r *http.Request, in ledger.Payment) (ledger.CashTransaction, error) {
		return c.RegisterInvoicePayment(r.Context(), chi.URLParam(r, "invoice"), in)
	})(w, r)
}

type wastageRequest struct {
	ledger.WastageInput
	BoxType ledger.BoxType `json:"box_type"`
}

func (h *Handler) recordWastage(w http.ResponseWriter, r *http.Request) {
	create(h, func(c *ledger.Coordinator, r *http.Request, in wastageRequest) (ledger.Wastage, error) {
		return c.RecordWastage(r.Context(), in.WastageInput, in.BoxType)
	})(w, r)
}

func (h *Handler) deleteWastage(w http.ResponseWriter, r *http.Request) {
	c, err := h.coordinator(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := c.DeleteWastage(r.Context(), chi.URLParam(r, "wastage")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cashMoveRequest struct {
	Amount      int64          `json:"amount"`
	BoxType     ledger.BoxType `json:"box_type"`
	Description string         `json:"description"`
}

func (h *Handler) partnerDeposit(w http.ResponseWriter, r *http.Request) {
	create(h, func(c *ledger.Coordinator, r *http.Request, in cashMoveRequest) (ledger.PartnerTransaction, error) {
		return c.PartnerDeposit(r.Context(), chi.URLParam(r, "partner"), in.Amount, in.BoxType, in.Description)
	})(w, r)
}

func (h *Handler) partnerWithdrawal(w http.ResponseWriter, r *http.Request) {
	create(h, func(c *ledger.Coordinator, r *http.Request, in cashMoveRequest) (ledger.PartnerTransaction, error) {
		return c.PartnerWithdrawal(r.Context(), chi.URLParam(r, "partner"), in.Amount, in.BoxType, in.Description)
	})(w, r)
}

type partnerTransferRequest struct {
	SourceID    string `json:"source_id"`
	DestID      string `json:"dest_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type transferView[T any] struct {
	Out T `json:"out"`
	In  T `json:"in"`
}

func (h *Handler) partnerTransfer(w http.ResponseWriter, r *http.Request) {
	create(h, func(c *ledger.Coordinator, r *http.Request, in partnerTransferRequest) (transferView[ledger.PartnerTransaction], error) {
		out, inc, err := c.PartnerTransfer(r.Context(), in.SourceID, in.DestID, in.Amount, in.Description)
		return transferView[ledger.PartnerTransaction]{Out: out, In: inc}, err
	})(w, r)
}

type cashTransferRequest struct {
	From        ledger.BoxType `json:"from"`
	Amount      int64          `json:"amount"`
	Description string         `json:"description"`
}

func (h *Handler) cashTransfer(w http.ResponseWriter, r *http.Request) {
	create(h, func(c *ledger.Coordinator, r *http.Request, in cashTransferRequest) (transferView[ledger.CashTransaction], error) {
		out, inc, err := c.CashBoxTransfer(r.Context(), in.From, in.Amount, in.Description)
		return transferView[ledger.CashTransaction]{Out: out, In: inc}, err
	})(w, r)
}

type adjustmentRequest struct {
	Direction   ledger.Direction `json:"direction"`
	Amount      int64            `json:"amount"`
	BoxType     ledger.BoxType   `json:"box_type"`
	Description string           `json:"description"`
}

func (h *Handler) adjustCustomer(w http.ResponseWriter, r *http.Request) {
	create(h, func(c *ledger.Coordinator, r *http.Request, in adjustmentRequest) (ledger.CashTransaction, error) {
		return c.ManualCustomerAdjustment(r.Context(), chi.URLParam(r, "customer"), in.Direction, in.Amount, in.BoxType, in.Description)
	})(w, r)
}
