package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RegisterInvoicePayment appends payment to the invoice, books the income in
// the payment's box and raises the customer's credit, all in one commit.
func (c *Coordinator) RegisterInvoicePayment(ctx context.Context, invoiceID string, payment Payment) (CashTransaction, error) {
	if err := requireID("invoice", invoiceID); err != nil {
		return CashTransaction{}, c.reject(OpRegisterInvoicePayment, err)
	}
	if err := validateStruct(payment); err != nil {
		return CashTransaction{}, c.reject(OpRegisterInvoicePayment, err)
	}
	var cash CashTransaction
	ev := &Event{}
	err := c.run(ctx, OpRegisterInvoicePayment, ev, func(ctx context.Context, tx Tx) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		cust, err := tx.LockCustomer(ctx, inv.CustomerID)
		if err != nil {
			return err
		}
		if err := tx.AppendPayment(ctx, inv.ID, payment); err != nil {
			return err
		}
		cash = CashTransaction{
			ID:            c.newID(),
			BoxType:       payment.BoxType,
			Type:          CashIncome,
			Amount:        payment.Amount,
			Date:          payment.Date,
			Description:   fmt.Sprintf("payment for invoice %s", inv.Number),
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.Number,
			CustomerID:    cust.ID,
			Subtype:       SubtypeInvoicePayment,
		}
		if err := tx.InsertCashTransaction(ctx, cash); err != nil {
			return err
		}
		ev.CustomerIDs = []string{cust.ID}
		return tx.UpdateCustomerTotals(ctx, cust.ID, cust.Debit, cust.Credit+payment.Amount)
	})
	if err != nil {
		return CashTransaction{}, err
	}
	return cash, nil
}

// WastageInput is the form payload for a wastage record.
type WastageInput struct {
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Title       string `json:"title" validate:"notblank"`
	TotalCost   int64  `json:"total_cost" validate:"gt=0"`
	Description string `json:"description"`
}

// RecordWastage inserts the wastage and its paired expense under one shared id.
func (c *Coordinator) RecordWastage(ctx context.Context, in WastageInput, box BoxType) (Wastage, error) {
	if err := validateStruct(in); err != nil {
		return Wastage{}, c.reject(OpRecordWastage, err)
	}
	if !box.Valid() {
		return Wastage{}, c.reject(OpRecordWastage, fmt.Errorf("%w: unknown box %q", ErrValidation, box))
	}
	var w Wastage
	err := c.run(ctx, OpRecordWastage, nil, func(ctx context.Context, tx Tx) error {
		id := c.newID()
		w = Wastage{
			ID:            id,
			TransactionID: id,
			Date:          in.Date,
			Title:         strings.TrimSpace(in.Title),
			TotalCost:     in.TotalCost,
			Description:   in.Description,
			BoxType:       box,
		}
		if err := tx.InsertWastage(ctx, w); err != nil {
			return err
		}
		return tx.InsertCashTransaction(ctx, CashTransaction{
			ID:          id,
			BoxType:     box,
			Type:        CashExpense,
			Amount:      in.TotalCost,
			Date:        in.Date,
			Description: "wastage: " + w.Title,
			Subtype:     SubtypeWastage,
		})
	})
	if err != nil {
		return Wastage{}, err
	}
	return w, nil
}

// DeleteWastage removes a wastage together with its expense row.
func (c *Coordinator) DeleteWastage(ctx context.Context, id string) error {
	if err := requireID("wastage", id); err != nil {
		return c.reject(OpDeleteWastage, err)
	}
	return c.run(ctx, OpDeleteWastage, nil, func(ctx context.Context, tx Tx) error {
		cashID := id
		w, werr := tx.Wastage(ctx, id)
		if werr != nil && !errors.Is(werr, ErrNotFound) {
			return werr
		}
		hasWastage := werr == nil
		if hasWastage {
			cashID = w.TransactionID
		}
		cash, cerr := tx.CashTransaction(ctx, cashID)
		if cerr != nil && !errors.Is(cerr, ErrNotFound) {
			return cerr
		}
		// Without a wastage row only a wastage expense counts as half a pair.
		hasCash := cerr == nil && (hasWastage || cash.Subtype == SubtypeWastage)
		switch {
		case !hasWastage && !hasCash:
			return NotFound("wastage", id)
		case hasWastage != hasCash:
			return fmt.Errorf("wastage %q: %w", id, ErrInconsistent)
		}
		if err := tx.DeleteWastage(ctx, id); err != nil {
			return err
		}
		return tx.DeleteCashTransaction(ctx, cashID)
	})
}

type partnerCashInput struct {
	PartnerID   string  `validate:"notblank"`
	Amount      int64   `validate:"gt=0"`
	BoxType     BoxType `validate:"required,oneof=main vip"`
	Description string  `validate:"notblank"`
}

// PartnerDeposit books capital paid in by a partner as box income.
func (c *Coordinator) PartnerDeposit(ctx context.Context, partnerID string, amount int64, box BoxType, description string) (PartnerTransaction, error) {
	return c.partnerCash(ctx, OpPartnerDeposit, PartnerDeposit, partnerCashInput{
		PartnerID: partnerID, Amount: amount, BoxType: box, Description: description,
	})
}

// PartnerWithdrawal books capital taken out by a partner as box expense.
func (c *Coordinator) PartnerWithdrawal(ctx context.Context, partnerID string, amount int64, box BoxType, description string) (PartnerTransaction, error) {
	return c.partnerCash(ctx, OpPartnerWithdrawal, PartnerWithdrawal, partnerCashInput{
		PartnerID: partnerID, Amount: amount, BoxType: box, Description: description,
	})
}

func (c *Coordinator) partnerCash(ctx context.Context, op Operation, kind PartnerTxType, in partnerCashInput) (PartnerTransaction, error) {
	if err := validateStruct(in); err != nil {
		return PartnerTransaction{}, c.reject(op, err)
	}
	cashType, subtype := CashIncome, SubtypePartnerDeposit
	if kind == PartnerWithdrawal {
		cashType, subtype = CashExpense, SubtypePartnerWithdrawal
	}
	var ptx PartnerTransaction
	ev := &Event{}
	err := c.run(ctx, op, ev, func(ctx context.Context, tx Tx) error {
		partner, err := tx.LockPartner(ctx, in.PartnerID)
		if err != nil {
			return err
		}
		date := c.today()
		cash := CashTransaction{
			ID:          c.newID(),
			BoxType:     in.BoxType,
			Type:        cashType,
			Amount:      in.Amount,
			Date:        date,
			Description: fmt.Sprintf("%s %s: %s", partner.Name, kind, in.Description),
			PartnerID:   partner.ID,
			Subtype:     subtype,
		}
		ptx = PartnerTransaction{
			ID:                c.newID(),
			PartnerID:         partner.ID,
			Type:              kind,
			Amount:            in.Amount,
			Date:              date,
			Description:       in.Description,
			BoxType:           in.BoxType,
			CashTransactionID: cash.ID,
		}
		if err := tx.InsertPartnerTransaction(ctx, ptx); err != nil {
			return err
		}
		ev.PartnerIDs = []string{partner.ID}
		return tx.InsertCashTransaction(ctx, cash)
	})
	if err != nil {
		return PartnerTransaction{}, err
	}
	return ptx, nil
}

type partnerTransferInput struct {
	SourceID    string `validate:"notblank"`
	DestID      string `validate:"notblank"`
	Amount      int64  `validate:"gt=0"`
	Description string `validate:"notblank"`
}

// PartnerTransfer moves capital between two partners. It writes a
// transfer_out and a transfer_in sharing one TransferID and touches no cash box.
func (c *Coordinator) PartnerTransfer(ctx context.Context, sourceID, destID string, amount int64, description string) (out, in PartnerTransaction, err error) {
	input := partnerTransferInput{SourceID: sourceID, DestID: destID, Amount: amount, Description: description}
	if err := validateStruct(input); err != nil {
		return PartnerTransaction{}, PartnerTransaction{}, c.reject(OpPartnerTransfer, err)
	}
	if sourceID == destID {
		return PartnerTransaction{}, PartnerTransaction{}, c.reject(OpPartnerTransfer, ErrSamePartner)
	}
	ev := &Event{}
	err = c.run(ctx, OpPartnerTransfer, ev, func(ctx context.Context, tx Tx) error {
		// lock in id order so opposite transfers cannot deadlock
		first, second := sourceID, destID
		if second < first {
			first, second = second, first
		}
		locked := make(map[string]Partner, 2)
		for _, id := range []string{first, second} {
			p, err := tx.LockPartner(ctx, id)
			if err != nil {
				return err
			}
			locked[id] = p
		}
		src, dst := locked[sourceID], locked[destID]
		date := c.today()
		transferID := c.newID()
		out = PartnerTransaction{
			ID:                 c.newID(),
			PartnerID:          src.ID,
			Type:               PartnerTransferOut,
			Amount:             amount,
			Date:               date,
			Description:        description,
			RelatedPartnerID:   dst.ID,
			RelatedPartnerName: dst.Name,
			TransferID:         transferID,
		}
		in = PartnerTransaction{
			ID:                 c.newID(),
			PartnerID:          dst.ID,
			Type:               PartnerTransferIn,
			Amount:             amount,
			Date:               date,
			Description:        description,
			RelatedPartnerID:   src.ID,
			RelatedPartnerName: src.Name,
			TransferID:         transferID,
		}
		if err := tx.InsertPartnerTransaction(ctx, out); err != nil {
			return err
		}
		ev.PartnerIDs = []string{src.ID, dst.ID}
		return tx.InsertPartnerTransaction(ctx, in)
	})
	if err != nil {
		return PartnerTransaction{}, PartnerTransaction{}, err
	}
	return out, in, nil
}

type boxTransferInput struct {
	From        BoxType `validate:"required,oneof=main vip"`
	Amount      int64   `validate:"gt=0"`
	Description string  `validate:"notblank"`
}

// CashBoxTransfer moves amount from one box to the other. The pair nets to zero.
func (c *Coordinator) CashBoxTransfer(ctx context.Context, from BoxType, amount int64, description string) (expense, income CashTransaction, err error) {
	if err := validateStruct(boxTransferInput{From: from, Amount: amount, Description: description}); err != nil {
		return CashTransaction{}, CashTransaction{}, c.reject(OpCashBoxTransfer, err)
	}
	to := from.Other()
	err = c.run(ctx, OpCashBoxTransfer, nil, func(ctx context.Context, tx Tx) error {
		date := c.today()
		expense = CashTransaction{
			ID:          c.newID(),
			BoxType:     from,
			Type:        CashExpense,
			Amount:      amount,
			Date:        date,
			Description: fmt.Sprintf("transfer to %s box: %s", to, description),
			Subtype:     SubtypeBoxTransfer,
		}
		income = CashTransaction{
			ID:          c.newID(),
			BoxType:     to,
			Type:        CashIncome,
			Amount:      amount,
			Date:        date,
			Description: fmt.Sprintf("transfer from %s box: %s", from, description),
			Subtype:     SubtypeBoxTransfer,
		}
		if err := tx.InsertCashTransaction(ctx, expense); err != nil {
			return err
		}
		return tx.InsertCashTransaction(ctx, income)
	})
	if err != nil {
		return CashTransaction{}, CashTransaction{}, err
	}
	return expense, income, nil
}

type adjustmentInput struct {
	CustomerID  string    `validate:"notblank"`
	Direction   Direction `validate:"required,oneof=debit credit"`
	Amount      int64     `validate:"gt=0"`
	BoxType     BoxType   `validate:"required,oneof=main vip"`
	Description string    `validate:"notblank"`
}

// ManualCustomerAdjustment raises the customer's debit (money paid out,
// booked as expense) or credit (money received, booked as income).
func (c *Coordinator) ManualCustomerAdjustment(ctx context.Context, customerID string, dir Direction, amount int64, box BoxType, description string) (CashTransaction, error) {
	in := adjustmentInput{CustomerID: customerID, Direction: dir, Amount: amount, BoxType: box, Description: description}
	if err := validateStruct(in); err != nil {
		return CashTransaction{}, c.reject(OpManualCustomerAdjustment, err)
	}
	var cash CashTransaction
	ev := &Event{}
	err := c.run(ctx, OpManualCustomerAdjustment, ev, func(ctx context.Context, tx Tx) error {
		cust, err := tx.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		debit, credit := cust.Debit, cust.Credit
		cashType := CashIncome
		if dir == DirectionDebit {
			debit += amount
			cashType = CashExpense
		} else {
			credit += amount
		}
		cash = CashTransaction{
			ID:          c.newID(),
			BoxType:     box,
			Type:        cashType,
			Amount:      amount,
			Date:        c.today(),
			Description: description,
			CustomerID:  cust.ID,
			Subtype:     SubtypeCustomerAdjustment,
		}
		if err := tx.InsertCashTransaction(ctx, cash); err != nil {
			return err
		}
		ev.CustomerIDs = []string{cust.ID}
		return tx.UpdateCustomerTotals(ctx, cust.ID, debit, credit)
	})
	if err != nil {
		return CashTransaction{}, err
	}
	return cash, nil
}

// BoxBalances returns Σincome − Σexpense for each box.
func (c *Coordinator) BoxBalances(ctx context.Context) (map[BoxType]int64, error) {
	txs, err := c.store.CashTransactions(ctx, CashFilter{})
	if err != nil {
		return nil, err
	}
	return SumBoxes(txs), nil
}

// SumBoxes nets cash transactions per box. Every known box is present.
func SumBoxes(txs []CashTransaction) map[BoxType]int64 {
	out := make(map[BoxType]int64, len(Boxes))
	for _, b := range Boxes {
		out[b] = 0
	}
	for _, t := range txs {
		out[t.BoxType] += t.SignedAmount()
	}
	return out
}

// PartnerBalance replays the partner's transactions from its initial balance.
func (c *Coordinator) PartnerBalance(ctx context.Context, partnerID string) (int64, error) {
	p, err := c.store.Partner(ctx, partnerID)
	if err != nil {
		return 0, err
	}
	txs, err := c.store.PartnerTransactions(ctx, partnerID)
	if err != nil {
		return 0, err
	}
	return Replay(p.InitialBalance, txs), nil
}
