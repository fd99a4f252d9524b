// Package rbac is the access control gate in front of ledger operations.
// Authentication happens upstream; requests arrive carrying a role.
package rbac

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Ledger permissions.
const (
	PermPeriodManage   = "ledger.period.manage"
	PermPaymentCreate  = "ledger.payment.create"
	PermWastageManage  = "ledger.wastage.manage"
	PermPartnerManage  = "ledger.partner.manage"
	PermCashTransfer   = "ledger.cash.transfer"
	PermCustomerAdjust = "ledger.customer.adjust"
	PermRecordsManage  = "ledger.records.manage"
	PermStatementView  = "ledger.statement.view"
	PermBackupManage   = "ledger.backup.manage"
)

// AllPermissions lists every permission the gate knows.
var AllPermissions = []string{
	PermPeriodManage,
	PermPaymentCreate,
	PermWastageManage,
	PermPartnerManage,
	PermCashTransfer,
	PermCustomerAdjust,
	PermRecordsManage,
	PermStatementView,
	PermBackupManage,
}

// RoleAdmin is granted everything.
const RoleAdmin = "admin"

// Gate decides whether a role may use a permission.
type Gate interface {
	Allowed(ctx context.Context, role, permission string) (bool, error)
}

// StaticGate is a fixed role to permission table.
type StaticGate struct {
	roles map[string]map[string]struct{}
}

var _ Gate = (*StaticGate)(nil)

// NewStaticGate builds a gate from role to permission lists. "*" grants all.
func NewStaticGate(roles map[string][]string) *StaticGate {
	g := &StaticGate{roles: make(map[string]map[string]struct{}, len(roles)+1)}
	g.roles[RoleAdmin] = toSet(AllPermissions)
	for role, perms := range roles {
		role = normalize(role)
		if slices.Contains(perms, "*") {
			g.roles[role] = toSet(AllPermissions)
			continue
		}
		g.roles[role] = toSet(perms)
	}
	return g
}

// Allowed implements Gate.
func (g *StaticGate) Allowed(_ context.Context, role, permission string) (bool, error) {
	perms, ok := g.roles[normalize(role)]
	if !ok {
		return false, nil
	}
	_, ok = perms[normalize(permission)]
	return ok, nil
}

// Permissions lists what role is granted, sorted.
func (g *StaticGate) Permissions(role string) []string {
	perms := g.roles[normalize(role)]
	out := make([]string, 0, len(perms))
	for p := range perms {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// ParseRolePermissions reads "role=perm,perm;role=*" as used by the
// ROLE_PERMISSIONS setting.
func ParseRolePermissions(raw string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		role, list, ok := strings.Cut(entry, "=")
		role = normalize(role)
		if !ok || role == "" {
			return nil, fmt.Errorf("rbac: malformed role entry %q", entry)
		}
		perms := normalizePermissions(strings.Split(list, ","))
		for _, p := range perms {
			if p != "*" && !slices.Contains(AllPermissions, p) {
				return nil, fmt.Errorf("rbac: unknown permission %q for role %q", p, role)
			}
		}
		out[role] = append(out[role], perms...)
	}
	return out, nil
}

func toSet(perms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[normalize(p)] = struct{}{}
	}
	return set
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}
