package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/periodledger/internal/app"
	"github.com/odyssey-erp/periodledger/internal/carryforward"
	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/periods"
	"github.com/odyssey-erp/periodledger/internal/statements"
)

func memoryServices(t *testing.T) *app.Services {
	t.Helper()
	svc, err := app.Build(context.Background(), &app.Config{StoreDriver: app.DriverMemory, Currency: "USD"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// run executes args against svc, which outlives the command.
func run(t *testing.T, svc *app.Services, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(func(context.Context) (*app.Services, func(), error) {
		return svc, func() {}, nil
	}, &out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPeriodsCommands(t *testing.T) {
	svc := memoryServices(t)

	out, err := run(t, svc, "periods", "create", "2025", "--name", "FY 2025", "--activate")
	require.NoError(t, err)
	var p periods.FiscalPeriod
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "FY 2025", p.Name)

	_, err = run(t, svc, "periods", "create", "2026", "--start", "2026-02-01")
	require.NoError(t, err)
	_, err = run(t, svc, "periods", "create", "bad id!")
	assert.Error(t, err)

	out, err = run(t, svc, "periods", "list")
	require.NoError(t, err)
	assert.Regexp(t, `2025\s+FY 2025\s+\*`, out)
	assert.Contains(t, out, "2026-02-01")

	_, err = run(t, svc, "periods", "delete", "2025")
	assert.ErrorIs(t, err, periods.ErrPeriodInUse)
	_, err = run(t, svc, "periods", "activate", "2026")
	require.NoError(t, err)
	_, err = run(t, svc, "periods", "delete", "2025")
	require.NoError(t, err)
}

func TestCarryForwardIntegrityAndStatement(t *testing.T) {
	ctx := context.Background()
	svc := memoryServices(t)
	_, err := run(t, svc, "periods", "create", "2025", "--activate")
	require.NoError(t, err)
	_, err = run(t, svc, "periods", "create", "2026")
	require.NoError(t, err)

	c, err := svc.Coordinator(ctx, "2025")
	require.NoError(t, err)
	_, err = c.CreatePartner(ctx, ledger.PartnerInput{ID: "p", Name: "Pat", InitialBalance: 300})
	require.NoError(t, err)
	_, err = c.PartnerDeposit(ctx, "p", 200, ledger.BoxMain, "capital")
	require.NoError(t, err)

	out, err := run(t, svc, "carry-forward", "active", "2026", "--plan")
	require.NoError(t, err)
	var delta carryforward.Delta
	require.NoError(t, json.Unmarshal([]byte(out), &delta))
	require.Len(t, delta.Partners, 1)
	assert.Equal(t, int64(500), delta.Partners[0].InitialBalance)
	dest, err := svc.Registry.GetStore(ctx, "2026")
	require.NoError(t, err)
	_, err = dest.Partner(ctx, "p")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = run(t, svc, "carry-forward", "2025", "2026")
	require.NoError(t, err)
	out, err = run(t, svc, "statement", "partner", "2026", "p")
	require.NoError(t, err)
	var st statements.Statement
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, int64(500), st.Opening)
	assert.Equal(t, "$5.00", st.ClosingDisplay)

	_, err = run(t, svc, "integrity", "2026")
	require.NoError(t, err)

	_, err = run(t, svc, "carry-forward", "2025", "2025")
	assert.ErrorIs(t, err, carryforward.ErrSamePeriod)
	_, err = run(t, svc, "carry-forward", "2025", "2026", "--queue")
	assert.ErrorContains(t, err, "REDIS_ADDR")
}

func TestIntegrityFailsOnDrift(t *testing.T) {
	ctx := context.Background()
	svc := memoryServices(t)
	_, err := run(t, svc, "periods", "create", "2025", "--activate")
	require.NoError(t, err)
	store, err := svc.Registry.GetStore(ctx, "2025")
	require.NoError(t, err)
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.PutCustomer(ctx, ledger.Customer{ID: "c", FirstName: "Cy", Debit: 50})
	}))

	out, err := run(t, svc, "integrity")
	assert.ErrorContains(t, err, "1 integrity issues")
	assert.Contains(t, out, string(ledger.IssueCustomerBalance))
}

func TestBackupExportRestore(t *testing.T) {
	ctx := context.Background()
	src := memoryServices(t)
	_, err := run(t, src, "periods", "create", "2025", "--activate")
	require.NoError(t, err)
	c, err := src.Coordinator(ctx, "active")
	require.NoError(t, err)
	_, err = c.CreateCustomer(ctx, ledger.CustomerInput{ID: "c1", FirstName: "Ada"})
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "ledger.json")
	_, err = run(t, src, "backup", "export", "--out", file)
	require.NoError(t, err)
	_, err = os.Stat(file)
	require.NoError(t, err)

	dst := memoryServices(t)
	out, err := run(t, dst, "backup", "restore", file)
	require.NoError(t, err)
	assert.Equal(t, "restored 1 periods\n", out)
	active, err := dst.Registry.ActiveID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025", active)
	store, err := dst.Registry.GetStore(ctx, "2025")
	require.NoError(t, err)
	_, err = store.Customer(ctx, "c1")
	require.NoError(t, err)

	_, err = run(t, dst, "backup", "restore")
	assert.Error(t, err)
	_, err = run(t, dst, "backup", "export", "--upload")
	assert.Error(t, err)
}
