package ledger_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/periodledger/internal/ledger"
)

func TestProjectOrdersByDateThenID(t *testing.T) {
	entries := []ledger.PartnerTransaction{
		{ID: "b", Type: ledger.PartnerWithdrawal, Amount: 30, Date: "2025-01-02"},
		{ID: "c", Type: ledger.PartnerDeposit, Amount: 100, Date: "2025-01-01"},
		{ID: "a", Type: ledger.PartnerTransferIn, Amount: 5, Date: "2025-01-02"},
	}
	lines := ledger.Project(1000, entries)
	require.Len(t, lines, 3)

	assert.Equal(t, "c", lines[0].Entry.ID)
	assert.EqualValues(t, 1100, lines[0].RunningBalance)
	assert.Equal(t, "a", lines[1].Entry.ID)
	assert.EqualValues(t, 1105, lines[1].RunningBalance)
	assert.Equal(t, "b", lines[2].Entry.ID)
	assert.EqualValues(t, 1075, lines[2].RunningBalance)

	assert.Equal(t, "b", entries[0].ID, "input must stay untouched")
}

func TestProjectIsDeterministicUnderShuffle(t *testing.T) {
	var entries []ledger.CashTransaction
	for i, d := range []string{"2025-01-05", "2025-01-01", "2025-01-05", "2025-02-01", "2025-01-01", "2025-01-20"} {
		typ := ledger.CashIncome
		if i%3 == 0 {
			typ = ledger.CashExpense
		}
		entries = append(entries, ledger.CashTransaction{ID: string(rune('a' + i)), Type: typ, Amount: int64(10 * (i + 1)), Date: d})
	}
	want := ledger.Project(0, entries)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]ledger.CashTransaction(nil), entries...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, ledger.Project(0, shuffled))
	}
}

func TestReplay(t *testing.T) {
	assert.EqualValues(t, 42, ledger.Replay[ledger.PartnerTransaction](42, nil))

	txs := []ledger.PartnerTransaction{
		{ID: "1", Type: ledger.PartnerDeposit, Amount: 200_000, Date: "2025-01-01"},
		{ID: "2", Type: ledger.PartnerWithdrawal, Amount: 300_000, Date: "2025-01-02"},
		{ID: "3", Type: ledger.PartnerTransferOut, Amount: 50_000, Date: "2025-01-03"},
	}
	assert.EqualValues(t, 850_000, ledger.Replay(1_000_000, txs))
}

func TestSignedAmounts(t *testing.T) {
	assert.EqualValues(t, -7, ledger.CashTransaction{Type: ledger.CashExpense, Amount: 7}.SignedAmount())
	assert.EqualValues(t, 7, ledger.CashTransaction{Type: ledger.CashIncome, Amount: 7}.SignedAmount())
	assert.EqualValues(t, 0, ledger.PartnerTransaction{Type: "unknown", Amount: 7}.SignedAmount())
}
