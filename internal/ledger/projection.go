package ledger

import (
	"cmp"
	"slices"
)

// Entry is a ledger row that moves a balance.
type Entry interface {
	EntryDate() string
	EntryID() string
	SignedAmount() int64
}

// Line pairs an entry with the balance after applying it.
type Line[E Entry] struct {
	Entry          E     `json:"entry"`
	RunningBalance int64 `json:"running_balance"`
}

// Project sorts entries by (date, id) and folds them onto initial.
// The input slice is not modified.
func Project[E Entry](initial int64, entries []E) []Line[E] {
	sorted := slices.Clone(entries)
	SortEntries(sorted)
	lines := make([]Line[E], 0, len(sorted))
	balance := initial
	for _, e := range sorted {
		balance += e.SignedAmount()
		lines = append(lines, Line[E]{Entry: e, RunningBalance: balance})
	}
	return lines
}

// Replay returns the closing balance of entries applied to initial.
// It is the only place partner balances are derived.
func Replay[E Entry](initial int64, entries []E) int64 {
	lines := Project(initial, entries)
	if len(lines) == 0 {
		return initial
	}
	return lines[len(lines)-1].RunningBalance
}

// SortEntries orders entries by date with id as the tie-break.
func SortEntries[E Entry](entries []E) {
	slices.SortStableFunc(entries, func(a, b E) int {
		if c := cmp.Compare(a.EntryDate(), b.EntryDate()); c != 0 {
			return c
		}
		return cmp.Compare(a.EntryID(), b.EntryID())
	})
}
