package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/periods"
	"github.com/odyssey-erp/periodledger/internal/shared"
)

func memoryConfig(redisAddr string) *Config {
	return &Config{StoreDriver: DriverMemory, RedisAddr: redisAddr, Currency: "EUR", RolePermissions: "clerk=ledger.payment.create"}
}

func TestBuildWiresCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	svc, err := Build(ctx, memoryConfig(mr.Addr()), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	require.NotNil(t, svc.Redis)
	require.NoError(t, svc.Ready(ctx))
	assert.Equal(t, "EUR", svc.Statements.Currency())
	assert.True(t, svc.Idempotency.Enabled())

	_, err = svc.Registry.CreatePeriod(ctx, periods.CreatePeriodInput{ID: "2025", Activate: true})
	require.NoError(t, err)
	c, err := svc.Coordinator(ctx, "active")
	require.NoError(t, err)
	_, err = c.CreatePartner(ctx, ledger.PartnerInput{ID: "p", Name: "Pat"})
	require.NoError(t, err)

	// The commit hook bumped the period's statement version.
	version, err := mr.Get(shared.StatementVersionKey("2025"))
	require.NoError(t, err)
	assert.NotEmpty(t, version)

	allowed, err := svc.Gate.Allowed(ctx, "clerk", "ledger.payment.create")
	require.NoError(t, err)
	assert.True(t, allowed)

	_, ok := svc.RedisOpts()
	assert.True(t, ok)
	up, err := svc.Uploader(ctx)
	require.NoError(t, err)
	assert.Nil(t, up)
}

func TestBuildToleratesMissingRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	svc, err := Build(ctx, memoryConfig(addr), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	assert.Nil(t, svc.Redis)
	assert.False(t, svc.Idempotency.Enabled())
	require.NoError(t, svc.Ready(ctx))

	_, err = svc.Registry.CreatePeriod(ctx, periods.CreatePeriodInput{ID: "2025", Activate: true})
	require.NoError(t, err)
	_, err = svc.Statements.CashBoxSummary(ctx, "active")
	assert.NoError(t, err)
}

func TestBuildRejectsUnknownDriver(t *testing.T) {
	_, err := Build(context.Background(), &Config{StoreDriver: "csv"}, slog.Default())
	assert.Error(t, err)
}

func TestBuildInvalidatesStatementsOutsideCoordinator(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	svc, err := Build(ctx, memoryConfig(mr.Addr()), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	_, err = svc.Registry.CreatePeriod(ctx, periods.CreatePeriodInput{ID: "2025", Activate: true})
	require.NoError(t, err)
	_, err = svc.Registry.CreatePeriod(ctx, periods.CreatePeriodInput{ID: "2026"})
	require.NoError(t, err)
	c, err := svc.Coordinator(ctx, "2025")
	require.NoError(t, err)
	_, err = c.CreatePartner(ctx, ledger.PartnerInput{ID: "p", Name: "Pat", InitialBalance: 900_000})
	require.NoError(t, err)

	_, err = svc.Migrator.Migrate(ctx, "2025", "2026")
	require.NoError(t, err)
	st, err := svc.Statements.PartnerStatement(ctx, "2026", "p")
	require.NoError(t, err)
	assert.EqualValues(t, 900_000, st.Opening)

	// A source deposit carried again must not be hidden by the cached statement.
	_, err = c.PartnerDeposit(ctx, "p", 500_000, ledger.BoxMain, "capital")
	require.NoError(t, err)
	_, err = svc.Migrator.Migrate(ctx, "2025", "2026")
	require.NoError(t, err)
	st, err = svc.Statements.PartnerStatement(ctx, "2026", "p")
	require.NoError(t, err)
	assert.EqualValues(t, 1_400_000, st.Opening)

	before, err := mr.Get(shared.StatementVersionKey("2026"))
	require.NoError(t, err)
	require.NoError(t, svc.Registry.DeletePeriod(ctx, "2026"))
	after, err := mr.Get(shared.StatementVersionKey("2026"))
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}
