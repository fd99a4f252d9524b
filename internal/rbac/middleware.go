package rbac

import (
	"log/slog"
	"net/http"
	"slices"
)

// RoleHeader carries the caller's role, set by the upstream authenticator.
const RoleHeader = "X-Ledger-Role"

// Middleware wires gate checks into HTTP handlers.
type Middleware struct {
	Gate   Gate
	Logger *slog.Logger
}

// RequireAny lets the request through when the role has at least one permission.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require any", perms, func(granted []bool) bool {
		return slices.Contains(granted, true)
	})
}

// RequireAll lets the request through only when the role has every permission.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require all", perms, func(granted []bool) bool {
		return !slices.Contains(granted, false)
	})
}

func (m Middleware) require(name string, perms []string, pass func([]bool) bool) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			role := normalize(r.Header.Get(RoleHeader))
			if role == "" {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			granted := make([]bool, len(normalized))
			for i, p := range normalized {
				ok, err := m.Gate.Allowed(r.Context(), role, p)
				if err != nil {
					if m.Logger != nil {
						m.Logger.Error(name, slog.String("role", role), slog.Any("error", err))
					}
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				granted[i] = ok
			}
			if pass(granted) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Info("rbac denied", slog.String("role", role), slog.Any("permissions", normalized))
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func normalizePermissions(perms []string) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = normalize(p)
		if p == "" || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}
