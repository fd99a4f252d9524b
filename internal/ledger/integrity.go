package ledger

import (
	"context"
	"fmt"
)

// IssueKind classifies an integrity finding.
type IssueKind string

const (
	IssueWastageUnpaired  IssueKind = "wastage_unpaired"
	IssueTransferUnpaired IssueKind = "transfer_unpaired"
	IssueCustomerBalance  IssueKind = "customer_balance"
	IssueInvoiceTotal     IssueKind = "invoice_total"
)

// Issue is one integrity finding.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	EntityID string    `json:"entity_id"`
	Detail   string    `json:"detail"`
}

// IntegrityReport summarises a scan of one period.
type IntegrityReport struct {
	PeriodID string  `json:"period_id"`
	Issues   []Issue `json:"issues"`
}

// OK reports whether the scan found nothing.
func (r IntegrityReport) OK() bool {
	return len(r.Issues) == 0
}

func (r *IntegrityReport) add(kind IssueKind, id, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Kind: kind, EntityID: id, Detail: fmt.Sprintf(format, args...)})
}

// CheckIntegrity verifies the cross-row invariants of a period store: wastage
// pairing, transfer pairing, the customer balance identity and invoice totals.
func CheckIntegrity(ctx context.Context, store Store) (IntegrityReport, error) {
	report := IntegrityReport{PeriodID: store.PeriodID()}
	snap, err := store.Export(ctx, TableCustomers, TableInvoices, TableCashTransactions, TablePartnerTransactions, TableWastages)
	if err != nil {
		return report, err
	}

	cashByID := make(map[string]CashTransaction, len(snap.CashTransactions))
	customerNet := make(map[string]int64)
	for _, t := range snap.CashTransactions {
		cashByID[t.ID] = t
		if t.CustomerID != "" {
			customerNet[t.CustomerID] += t.SignedAmount()
		}
	}

	paired := make(map[string]struct{}, len(snap.Wastages))
	for _, w := range snap.Wastages {
		t, ok := cashByID[w.TransactionID]
		switch {
		case !ok:
			report.add(IssueWastageUnpaired, w.ID, "no cash transaction %s", w.TransactionID)
		case t.Type != CashExpense || t.Amount != w.TotalCost || t.BoxType != w.BoxType:
			report.add(IssueWastageUnpaired, w.ID, "cash transaction %s does not match wastage", t.ID)
		}
		paired[w.TransactionID] = struct{}{}
	}
	for _, t := range snap.CashTransactions {
		if t.Subtype != SubtypeWastage {
			continue
		}
		if _, ok := paired[t.ID]; !ok {
			report.add(IssueWastageUnpaired, t.ID, "wastage expense without wastage row")
		}
	}

	type leg struct {
		out, in *PartnerTransaction
	}
	transfers := make(map[string]*leg)
	for i := range snap.PartnerTransactions {
		pt := &snap.PartnerTransactions[i]
		if pt.Type != PartnerTransferIn && pt.Type != PartnerTransferOut {
			continue
		}
		l := transfers[pt.TransferID]
		if l == nil {
			l = &leg{}
			transfers[pt.TransferID] = l
		}
		if pt.Type == PartnerTransferOut {
			if l.out != nil {
				report.add(IssueTransferUnpaired, pt.ID, "transfer %s has two outgoing legs", pt.TransferID)
			}
			l.out = pt
		} else {
			if l.in != nil {
				report.add(IssueTransferUnpaired, pt.ID, "transfer %s has two incoming legs", pt.TransferID)
			}
			l.in = pt
		}
	}
	for id, l := range transfers {
		switch {
		case l.out == nil || l.in == nil:
			report.add(IssueTransferUnpaired, id, "transfer is missing a leg")
		case l.out.Amount != l.in.Amount:
			report.add(IssueTransferUnpaired, id, "legs differ: %d vs %d", l.out.Amount, l.in.Amount)
		case l.out.RelatedPartnerID != l.in.PartnerID || l.in.RelatedPartnerID != l.out.PartnerID:
			report.add(IssueTransferUnpaired, id, "related partners are not reciprocal")
		}
	}

	for _, c := range snap.Customers {
		want := c.CarriedForward + customerNet[c.ID]
		if c.Balance() != want {
			report.add(IssueCustomerBalance, c.ID, "balance %d, ledger says %d", c.Balance(), want)
		}
	}

	for _, inv := range snap.Invoices {
		if inv.TotalAmount != inv.ComputeTotal() {
			report.add(IssueInvoiceTotal, inv.ID, "stored total %d, computed %d", inv.TotalAmount, inv.ComputeTotal())
		}
	}
	return report, nil
}
