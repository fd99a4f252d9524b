package ledgerhttp

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/periodledger/internal/periods"
	"github.com/odyssey-erp/periodledger/internal/platform/httpx"
)

type periodView struct {
	periods.FiscalPeriod
	Active bool `json:"active"`
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Registry.Periods(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	active, err := h.deps.Registry.ActiveID(r.Context())
	if err != nil && !errors.Is(err, periods.ErrNoActivePeriod) {
		h.fail(w, r, err)
		return
	}
	out := make([]periodView, 0, len(list))
	for _, p := range list {
		out = append(out, periodView{FiscalPeriod: p, Active: p.ID == active})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	var in periods.CreatePeriodInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.deps.Registry.CreatePeriod(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, periodView{FiscalPeriod: p, Active: in.Activate})
}

func (h *Handler) deletePeriod(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Registry.DeletePeriod(r.Context(), chi.URLParam(r, "period")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) activatePeriod(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Registry.Activate(r.Context(), chi.URLParam(r, "period")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type carryForwardRequest struct {
	To string `json:"to"`
}

// carryForward migrates {period} into the period named in the body.
func (h *Handler) carryForward(w http.ResponseWriter, r *http.Request) {
	var in carryForwardRequest
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	src, err := h.deps.Registry.Resolve(r.Context(), chi.URLParam(r, "period"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dst, err := h.deps.Registry.Resolve(r.Context(), in.To)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	delta, err := h.deps.Migrator.Migrate(r.Context(), src, dst)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, delta)
}
