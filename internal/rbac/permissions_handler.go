package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/periodledger/internal/platform/httpx"
)

// PermissionsHandler reports what the calling role may do.
type PermissionsHandler struct {
	gate *StaticGate
}

// NewPermissionsHandler builds the handler.
func NewPermissionsHandler(gate *StaticGate) *PermissionsHandler {
	return &PermissionsHandler{gate: gate}
}

// MountRoutes registers GET / on r.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.listPermissions)
}

type permissionsView struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	role := normalize(r.Header.Get(RoleHeader))
	httpx.JSON(w, http.StatusOK, permissionsView{Role: role, Permissions: h.gate.Permissions(role)})
}
