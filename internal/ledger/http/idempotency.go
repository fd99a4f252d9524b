package ledgerhttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/periodledger/internal/shared"
)

// idempotent rejects a replayed Idempotency-Key on the same path. Keys of
// failed requests are released so the client can retry.
func (h *Handler) idempotent(next http.Handler) http.Handler {
	store := h.deps.Idempotency
	if !store.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(shared.IdempotencyHeader)
		if key == "" || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		scope := r.URL.Path
		if err := store.CheckAndInsert(r.Context(), key, scope); err != nil {
			h.fail(w, r, err)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if ww.Status() >= http.StatusBadRequest {
			if err := store.Delete(context.WithoutCancel(r.Context()), key, scope); err != nil {
				h.logger.Warn("release idempotency key", slog.String("path", scope), slog.Any("error", err))
			}
		}
	})
}
