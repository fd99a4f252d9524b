package ledgerhttp

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/platform/httpx"
	"github.com/odyssey-erp/periodledger/internal/statements"
	"github.com/odyssey-erp/periodledger/report"
)

func (h *Handler) customerStatement(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Statements.CustomerStatement(r.Context(), chi.URLParam(r, "period"), chi.URLParam(r, "customer"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) partnerStatement(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Statements.PartnerStatement(r.Context(), chi.URLParam(r, "period"), chi.URLParam(r, "partner"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) customerStatementPDF(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Statements.CustomerStatement(r.Context(), chi.URLParam(r, "period"), chi.URLParam(r, "customer"))
	h.writePDF(w, r, st, err)
}

func (h *Handler) partnerStatementPDF(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Statements.PartnerStatement(r.Context(), chi.URLParam(r, "period"), chi.URLParam(r, "partner"))
	h.writePDF(w, r, st, err)
}

func (h *Handler) writePDF(w http.ResponseWriter, r *http.Request, st statements.Statement, err error) {
	if err == nil && h.deps.PDF == nil {
		err = report.ErrDisabled
	}
	var pdf []byte
	if err == nil {
		pdf, err = h.deps.PDF.RenderStatement(r.Context(), st)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="statement-%s-%s.pdf"`, st.PeriodID, st.SubjectID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) cashBoxes(w http.ResponseWriter, r *http.Request) {
	sum, err := h.deps.Statements.CashBoxSummary(r.Context(), chi.URLParam(r, "period"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	store, err := h.store(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := ledger.CheckIntegrity(r.Context(), store)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) exportBackup(w http.ResponseWriter, r *http.Request) {
	archive, err := h.deps.Backups.Export(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="ledger-backup.json"`)
	httpx.JSON(w, http.StatusOK, archive)
}
