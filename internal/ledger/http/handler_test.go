package ledgerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/periodledger/internal/backup"
	"github.com/odyssey-erp/periodledger/internal/carryforward"
	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/periods"
	"github.com/odyssey-erp/periodledger/internal/platform/httpx"
	"github.com/odyssey-erp/periodledger/internal/platform/memstore"
	"github.com/odyssey-erp/periodledger/internal/rbac"
	"github.com/odyssey-erp/periodledger/internal/shared"
	"github.com/odyssey-erp/periodledger/internal/statements"
)

type apiFixture struct {
	t      *testing.T
	router chi.Router
	reg    *periods.Registry
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	reg := periods.NewRegistry(memstore.NewCatalog(), memstore.NewBackend(), nil)
	t.Cleanup(func() { _ = reg.Close() })
	_, err := reg.CreatePeriod(ctx, periods.CreatePeriodInput{ID: "2025", Activate: true})
	require.NoError(t, err)

	clock := func() time.Time { return time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC) }
	gate := rbac.NewStaticGate(map[string][]string{"viewer": {rbac.PermStatementView}})
	h := NewHandler(nil, Deps{
		Registry:    reg,
		Migrator:    carryforward.NewMigrator(reg, carryforward.WithClock(clock)),
		Statements:  statements.NewService(reg),
		Backups:     backup.NewService(reg, backup.WithClock(clock)),
		RBAC:        rbac.Middleware{Gate: gate},
		Coordinator: []ledger.Option{ledger.WithClock(clock)},
	})
	r := chi.NewRouter()
	h.MountRoutes(r)
	return &apiFixture{t: t, router: r, reg: reg}
}

func (f *apiFixture) do(role, method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(rbac.RoleHeader, role)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *apiFixture) admin(method, path string, body any) *httptest.ResponseRecorder {
	return f.do(rbac.RoleAdmin, method, path, body)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out), rr.Body.String())
	return out
}

func TestCustomerAdjustmentFlowsIntoStatement(t *testing.T) {
	f := newAPI(t)

	rr := f.admin(http.MethodPost, "/api/periods/active/customers", ledger.CustomerInput{ID: "c1", FirstName: "Ada"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = f.admin(http.MethodPost, "/api/periods/2025/customers/c1/adjustments", map[string]any{
		"direction": ledger.DirectionCredit, "amount": 5000, "box_type": ledger.BoxMain, "description": "deposit",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	tx := decode[ledger.CashTransaction](t, rr)
	assert.Equal(t, "2025-05-10", tx.Date)

	rr = f.do("viewer", http.MethodGet, "/api/periods/active/customers/c1/statement", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	st := decode[statements.Statement](t, rr)
	assert.Equal(t, "2025", st.PeriodID)
	assert.Equal(t, int64(5000), st.Closing)
	assert.Equal(t, "$50.00", st.ClosingDisplay)
	require.Len(t, st.Lines, 1)

	rr = f.do("viewer", http.MethodGet, "/api/periods/2025/cash-boxes", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(5000), decode[statements.BoxSummary](t, rr).Total)

	rr = f.do("viewer", http.MethodGet, "/api/periods/2025/integrity", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[ledger.IntegrityReport](t, rr).OK())
}

func TestPartnerRoutes(t *testing.T) {
	f := newAPI(t)
	for _, p := range []ledger.PartnerInput{{ID: "a", Name: "Ana", InitialBalance: 1000}, {ID: "b", Name: "Bo"}} {
		require.Equal(t, http.StatusCreated, f.admin(http.MethodPost, "/api/periods/2025/partners", p).Code)
	}
	rr := f.admin(http.MethodPost, "/api/periods/2025/partners/a/deposits", map[string]any{
		"amount": 400, "box_type": "main", "description": "top up",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = f.admin(http.MethodPost, "/api/periods/2025/partner-transfers", map[string]any{
		"source_id": "a", "dest_id": "b", "amount": 300, "description": "share",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	pair := decode[transferView[ledger.PartnerTransaction]](t, rr)
	assert.Equal(t, "a", pair.Out.PartnerID)
	assert.Equal(t, "b", pair.In.PartnerID)

	rr = f.admin(http.MethodGet, "/api/periods/2025/partners/a/statement", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(1100), decode[statements.Statement](t, rr).Closing)
}

func TestErrorStatuses(t *testing.T) {
	f := newAPI(t)
	require.Equal(t, http.StatusCreated, f.admin(http.MethodPost, "/api/periods/2025/customers", ledger.CustomerInput{ID: "c1", FirstName: "Ada"}).Code)

	cases := []struct {
		name   string
		role   string
		method string
		path   string
		body   any
		want   int
	}{
		{"blank name", rbac.RoleAdmin, http.MethodPost, "/api/periods/2025/customers", ledger.CustomerInput{FirstName: " "}, http.StatusBadRequest},
		{"unknown field", rbac.RoleAdmin, http.MethodPost, "/api/periods/2025/costs", map[string]any{"nope": 1}, http.StatusBadRequest},
		{"duplicate", rbac.RoleAdmin, http.MethodPost, "/api/periods/2025/customers", ledger.CustomerInput{ID: "c1", FirstName: "Ada"}, http.StatusConflict},
		{"unknown customer", rbac.RoleAdmin, http.MethodGet, "/api/periods/2025/customers/ghost/statement", nil, http.StatusNotFound},
		{"unknown period", rbac.RoleAdmin, http.MethodGet, "/api/periods/1999/cash-boxes", nil, http.StatusNotFound},
		{"unknown invoice", rbac.RoleAdmin, http.MethodPost, "/api/periods/2025/invoices/nope/payments", ledger.Payment{Date: "2025-05-01", Amount: 10, BoxType: ledger.BoxMain}, http.StatusNotFound},
		{"delete active", rbac.RoleAdmin, http.MethodDelete, "/api/periods/2025", nil, http.StatusConflict},
		{"viewer writes", "viewer", http.MethodPost, "/api/periods/2025/customers", ledger.CustomerInput{FirstName: "X"}, http.StatusForbidden},
		{"no role", "", http.MethodGet, "/api/periods/2025/cash-boxes", nil, http.StatusForbidden},
		{"viewer backup", "viewer", http.MethodGet, "/api/backup", nil, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(tc.role, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
			if tc.want != http.StatusForbidden {
				assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
				assert.Equal(t, tc.want, decode[httpx.ProblemDetail](t, rr).Status)
			}
		})
	}
}

func TestRetryExhaustionMapsToServiceUnavailable(t *testing.T) {
	h := NewHandler(nil, Deps{})
	rr := httptest.NewRecorder()
	h.fail(rr, httptest.NewRequest(http.MethodGet, "/", nil), ledger.ErrConflictRetryExceeded)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestPeriodLifecycleAndCarryForward(t *testing.T) {
	f := newAPI(t)
	require.Equal(t, http.StatusCreated, f.admin(http.MethodPost, "/api/periods/2025/customers", ledger.CustomerInput{ID: "c1", FirstName: "Ada"}).Code)
	require.Equal(t, http.StatusCreated, f.admin(http.MethodPost, "/api/periods/2025/customers/c1/adjustments", map[string]any{
		"direction": "credit", "amount": 700, "box_type": "vip", "description": "advance",
	}).Code)

	rr := f.admin(http.MethodPost, "/api/periods", periods.CreatePeriodInput{ID: "2026", Name: "FY 2026"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, http.StatusConflict, f.admin(http.MethodPost, "/api/periods", periods.CreatePeriodInput{ID: "2026"}).Code)

	rr = f.admin(http.MethodPost, "/api/periods/active/carry-forward", carryForwardRequest{To: "2026"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	delta := decode[carryforward.Delta](t, rr)
	assert.Equal(t, "2025", delta.SourceID)
	require.Len(t, delta.Openings, 1)
	assert.Equal(t, "2026-01-01", delta.Openings[0].Date)

	assert.Equal(t, http.StatusConflict, f.admin(http.MethodPost, "/api/periods/2025/carry-forward", carryForwardRequest{To: "active"}).Code)

	require.Equal(t, http.StatusNoContent, f.admin(http.MethodPost, "/api/periods/2026/activate", nil).Code)
	rr = f.admin(http.MethodGet, "/api/periods", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[[]periodView](t, rr)
	require.Len(t, list, 2)
	active := map[string]bool{}
	for _, p := range list {
		active[p.ID] = p.Active
	}
	assert.Equal(t, map[string]bool{"2025": false, "2026": true}, active)

	rr = f.admin(http.MethodGet, "/api/periods/active/customers/c1/statement", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(700), decode[statements.Statement](t, rr).Opening)

	rr = f.admin(http.MethodGet, "/api/backup", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	archive := decode[backup.Archive](t, rr)
	assert.Equal(t, "2026", archive.ActivePeriod)
	assert.Len(t, archive.Periods, 2)

	assert.Equal(t, http.StatusNoContent, f.admin(http.MethodDelete, "/api/periods/2025", nil).Code)
	_, err := f.reg.Period(context.Background(), "2025")
	assert.ErrorIs(t, err, periods.ErrPeriodNotFound)
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reg := periods.NewRegistry(memstore.NewCatalog(), memstore.NewBackend(), nil)
	t.Cleanup(func() { _ = reg.Close() })
	_, err := reg.CreatePeriod(ctx, periods.CreatePeriodInput{ID: "2025", Activate: true})
	require.NoError(t, err)
	h := NewHandler(nil, Deps{
		Registry:    reg,
		RBAC:        rbac.Middleware{Gate: rbac.NewStaticGate(nil)},
		Idempotency: shared.NewIdempotencyStore(client, time.Hour),
	})
	r := chi.NewRouter()
	h.MountRoutes(r)

	post := func(key string, body any) int {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req := httptest.NewRequest(http.MethodPost, "/api/periods/2025/customers", &buf)
		req.Header.Set(rbac.RoleHeader, rbac.RoleAdmin)
		req.Header.Set(shared.IdempotencyHeader, key)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr.Code
	}

	// A failed request releases its key.
	assert.Equal(t, http.StatusBadRequest, post("k1", ledger.CustomerInput{FirstName: ""}))
	assert.Equal(t, http.StatusCreated, post("k1", ledger.CustomerInput{FirstName: "Ada"}))
	assert.Equal(t, http.StatusConflict, post("k1", ledger.CustomerInput{FirstName: "Ada"}))
	assert.Equal(t, http.StatusCreated, post("k2", ledger.CustomerInput{FirstName: "Ada"}))

	store, err := reg.GetStore(ctx, "2025")
	require.NoError(t, err)
	customers, err := store.Customers(ctx)
	require.NoError(t, err)
	assert.Len(t, customers, 2)
}

type fakePDF struct{ got statements.Statement }

func (f *fakePDF) RenderStatement(_ context.Context, st statements.Statement) ([]byte, error) {
	f.got = st
	return []byte("%PDF"), nil
}

func TestStatementPDF(t *testing.T) {
	ctx := context.Background()
	reg := periods.NewRegistry(memstore.NewCatalog(), memstore.NewBackend(), nil)
	t.Cleanup(func() { _ = reg.Close() })
	_, err := reg.CreatePeriod(ctx, periods.CreatePeriodInput{ID: "2025", Activate: true})
	require.NoError(t, err)

	pdf := &fakePDF{}
	mount := func(renderer statementRenderer) chi.Router {
		deps := Deps{
			Registry:   reg,
			Statements: statements.NewService(reg),
			RBAC:       rbac.Middleware{Gate: rbac.NewStaticGate(nil)},
		}
		if renderer != nil {
			deps.PDF = renderer
		}
		r := chi.NewRouter()
		NewHandler(nil, deps).MountRoutes(r)
		return r
	}
	get := func(r chi.Router, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(rbac.RoleHeader, rbac.RoleAdmin)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	store, err := reg.GetStore(ctx, "2025")
	require.NoError(t, err)
	_, err = ledger.NewCoordinator(store).CreatePartner(ctx, ledger.PartnerInput{ID: "p1", Name: "Ana", InitialBalance: 250})
	require.NoError(t, err)

	rr := get(mount(pdf), "/api/periods/active/partners/p1/statement.pdf")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF", rr.Body.String())
	assert.Equal(t, "Ana", pdf.got.SubjectName)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "statement-2025-p1.pdf")

	assert.Equal(t, http.StatusServiceUnavailable, get(mount(nil), "/api/periods/2025/partners/p1/statement.pdf").Code)
	assert.Equal(t, http.StatusNotFound, get(mount(pdf), "/api/periods/2025/customers/ghost/statement.pdf").Code)
}
