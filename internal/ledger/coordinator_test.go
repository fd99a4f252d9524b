package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/platform/memstore"
)

var fixedNow = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%05d", n.Add(1))
	}
}

// errInjected is returned by faultTx in place of the real write.
var errInjected = errors.New("injected failure")

// faultStore wraps every transaction so chosen writes fail on their nth call.
type faultStore struct {
	ledger.Store
	failOn map[string]int
}

func (f *faultStore) WithTx(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	return f.Store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, &faultTx{Tx: tx, failOn: f.failOn, calls: map[string]int{}})
	})
}

type faultTx struct {
	ledger.Tx
	failOn map[string]int
	calls  map[string]int
}

func (f *faultTx) trip(method string) error {
	f.calls[method]++
	if n, ok := f.failOn[method]; ok && n == f.calls[method] {
		return errInjected
	}
	return nil
}

func (f *faultTx) UpdateCustomerTotals(ctx context.Context, id string, debit, credit int64) error {
	if err := f.trip("UpdateCustomerTotals"); err != nil {
		return err
	}
	return f.Tx.UpdateCustomerTotals(ctx, id, debit, credit)
}

func (f *faultTx) InsertCashTransaction(ctx context.Context, t ledger.CashTransaction) error {
	if err := f.trip("InsertCashTransaction"); err != nil {
		return err
	}
	return f.Tx.InsertCashTransaction(ctx, t)
}

func (f *faultTx) InsertPartnerTransaction(ctx context.Context, t ledger.PartnerTransaction) error {
	if err := f.trip("InsertPartnerTransaction"); err != nil {
		return err
	}
	return f.Tx.InsertPartnerTransaction(ctx, t)
}

type recorder struct {
	mu     sync.Mutex
	events []ledger.Event
	ops    map[string]int
}

func (r *recorder) hook(_ context.Context, ev ledger.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ObserveOperation(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops == nil {
		r.ops = map[string]int{}
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.ops[op+":"+outcome]++
}

type CoordinatorSuite struct {
	suite.Suite
	ctx   context.Context
	store *memstore.Store
	coord *ledger.Coordinator
	rec   *recorder
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memstore.New("2025")
	s.rec = &recorder{}
	s.coord = s.newCoordinator(s.store)
}

func (s *CoordinatorSuite) newCoordinator(store ledger.Store) *ledger.Coordinator {
	return ledger.NewCoordinator(store,
		ledger.WithClock(func() time.Time { return fixedNow }),
		ledger.WithIDGenerator(sequentialIDs()),
		ledger.WithCommitHook(s.rec.hook),
		ledger.WithMetrics(s.rec),
	)
}

func (s *CoordinatorSuite) customer(id string) ledger.Customer {
	c, err := s.coord.CreateCustomer(s.ctx, ledger.CustomerInput{ID: id, FirstName: "Customer " + id})
	s.Require().NoError(err)
	return c
}

func (s *CoordinatorSuite) invoice(id, customerID string, total int64) ledger.Invoice {
	inv, err := s.coord.SaveInvoice(s.ctx, ledger.InvoiceInput{
		ID:         id,
		Number:     "INV-" + id,
		CustomerID: customerID,
		Type:       ledger.InvoiceSale,
		IssueDate:  "2025-03-01",
		Items:      []ledger.InvoiceItem{{ProductID: "lens", Name: "Lens", Qty: 1, Price: total}},
	})
	s.Require().NoError(err)
	return inv
}

func (s *CoordinatorSuite) partner(id string, initial int64) ledger.Partner {
	p, err := s.coord.CreatePartner(s.ctx, ledger.PartnerInput{ID: id, Name: "Partner " + id, InitialBalance: initial})
	s.Require().NoError(err)
	return p
}

func (s *CoordinatorSuite) assertIntact() {
	report, err := ledger.CheckIntegrity(s.ctx, s.store)
	s.Require().NoError(err)
	s.Assert().True(report.OK(), "integrity issues: %+v", report.Issues)
}

func (s *CoordinatorSuite) TestInvoicePaymentCreditsCustomerAndBox() {
	t := s.T()
	s.customer("c1")
	s.invoice("inv1", "c1", 800)

	cash, err := s.coord.RegisterInvoicePayment(s.ctx, "inv1", ledger.Payment{Date: "2025-03-05", Amount: 500, BoxType: ledger.BoxMain})
	require.NoError(t, err)
	assert.Equal(t, ledger.CashIncome, cash.Type)
	assert.Equal(t, ledger.BoxMain, cash.BoxType)
	assert.EqualValues(t, 500, cash.Amount)
	assert.Equal(t, "inv1", cash.InvoiceID)
	assert.Equal(t, "INV-inv1", cash.InvoiceNumber)
	assert.Equal(t, "c1", cash.CustomerID)
	assert.Equal(t, ledger.SubtypeInvoicePayment, cash.Subtype)

	c, err := s.coord.Customer(s.ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 500, c.Credit)
	assert.Zero(t, c.Debit)

	inv, err := s.coord.Invoice(s.ctx, "inv1")
	require.NoError(t, err)
	require.Len(t, inv.Payments, 1)
	assert.EqualValues(t, 300, inv.Remaining())

	txs, err := s.store.CashTransactions(s.ctx, ledger.CashFilter{InvoiceID: "inv1"})
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	s.Require().NotEmpty(s.rec.events)
	last := s.rec.events[len(s.rec.events)-1]
	assert.Equal(t, ledger.OpRegisterInvoicePayment, last.Operation)
	assert.Equal(t, []string{"c1"}, last.CustomerIDs)
	assert.Equal(t, "2025", last.PeriodID)
	s.assertIntact()
}

func (s *CoordinatorSuite) TestOverpaymentIsAccepted() {
	s.customer("c1")
	s.invoice("inv1", "c1", 100)
	_, err := s.coord.RegisterInvoicePayment(s.ctx, "inv1", ledger.Payment{Date: "2025-03-05", Amount: 150, BoxType: ledger.BoxVIP})
	s.Require().NoError(err)
	inv, err := s.coord.Invoice(s.ctx, "inv1")
	s.Require().NoError(err)
	s.True(inv.Overpaid())
	s.EqualValues(-50, inv.Remaining())
}

func (s *CoordinatorSuite) TestPaymentValidationWritesNothing() {
	s.customer("c1")
	s.invoice("inv1", "c1", 100)
	cases := map[string]struct {
		payment ledger.Payment
		want    error
	}{
		"zero amount":     {ledger.Payment{Date: "2025-03-05", Amount: 0, BoxType: ledger.BoxMain}, ledger.ErrInvalidAmount},
		"negative amount": {ledger.Payment{Date: "2025-03-05", Amount: -1, BoxType: ledger.BoxMain}, ledger.ErrInvalidAmount},
		"unknown box":     {ledger.Payment{Date: "2025-03-05", Amount: 10, BoxType: "safe"}, ledger.ErrValidation},
		"bad date":        {ledger.Payment{Date: "05/03/2025", Amount: 10, BoxType: ledger.BoxMain}, ledger.ErrValidation},
	}
	for name, tc := range cases {
		s.Run(name, func() {
			_, err := s.coord.RegisterInvoicePayment(s.ctx, "inv1", tc.payment)
			s.Require().ErrorIs(err, tc.want)
			s.True(ledger.IsValidation(err))
		})
	}
	txs, err := s.store.CashTransactions(s.ctx, ledger.CashFilter{})
	s.Require().NoError(err)
	s.Empty(txs)
}

func (s *CoordinatorSuite) TestPaymentOnMissingInvoiceOrCustomer() {
	_, err := s.coord.RegisterInvoicePayment(s.ctx, "ghost", ledger.Payment{Date: "2025-03-05", Amount: 10, BoxType: ledger.BoxMain})
	s.Require().ErrorIs(err, ledger.ErrNotFound)

	// An invoice whose customer row vanished.
	s.Require().NoError(s.store.WithTx(s.ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.PutInvoice(ctx, ledger.Invoice{ID: "orphan", CustomerID: "gone", TotalAmount: 10})
	}))
	_, err = s.coord.RegisterInvoicePayment(s.ctx, "orphan", ledger.Payment{Date: "2025-03-05", Amount: 10, BoxType: ledger.BoxMain})
	s.Require().ErrorIs(err, ledger.ErrNotFound)
	inv, err := s.coord.Invoice(s.ctx, "orphan")
	s.Require().NoError(err)
	s.Empty(inv.Payments)
}

func (s *CoordinatorSuite) TestPaymentRollsBackWhenCustomerUpdateFails() {
	s.customer("c1")
	s.invoice("inv1", "c1", 800)
	faulty := &faultStore{Store: s.store, failOn: map[string]int{"UpdateCustomerTotals": 1}}
	coord := s.newCoordinator(faulty)

	_, err := coord.RegisterInvoicePayment(s.ctx, "inv1", ledger.Payment{Date: "2025-03-05", Amount: 500, BoxType: ledger.BoxMain})
	s.Require().ErrorIs(err, errInjected)

	inv, err := s.coord.Invoice(s.ctx, "inv1")
	s.Require().NoError(err)
	s.Empty(inv.Payments)
	txs, err := s.store.CashTransactions(s.ctx, ledger.CashFilter{})
	s.Require().NoError(err)
	s.Empty(txs)
	c, err := s.coord.Customer(s.ctx, "c1")
	s.Require().NoError(err)
	s.Zero(c.Credit)
	s.Equal(1, s.rec.ops["register_invoice_payment:error"])
	s.assertIntact()
}

func (s *CoordinatorSuite) TestConcurrentPaymentsLoseNoUpdate() {
	s.customer("c1")
	s.invoice("inv1", "c1", 10_000)
	const workers = 40
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			box := ledger.BoxMain
			if i%2 == 1 {
				box = ledger.BoxVIP
			}
			_, err := s.coord.RegisterInvoicePayment(s.ctx, "inv1", ledger.Payment{Date: "2025-03-05", Amount: 25, BoxType: box})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	c, err := s.coord.Customer(s.ctx, "c1")
	s.Require().NoError(err)
	s.EqualValues(workers*25, c.Credit)
	inv, err := s.coord.Invoice(s.ctx, "inv1")
	s.Require().NoError(err)
	s.Len(inv.Payments, workers)
	balances, err := s.coord.BoxBalances(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(workers*25, balances[ledger.BoxMain]+balances[ledger.BoxVIP])
	s.assertIntact()
}

func (s *CoordinatorSuite) TestPartnerDepositAndWithdrawal() {
	s.partner("p", 1_000_000)

	dep, err := s.coord.PartnerDeposit(s.ctx, "p", 200_000, ledger.BoxMain, "capital injection")
	s.Require().NoError(err)
	s.Equal(ledger.PartnerDeposit, dep.Type)
	s.Equal("2025-03-10", dep.Date)
	bal, err := s.coord.PartnerBalance(s.ctx, "p")
	s.Require().NoError(err)
	s.EqualValues(1_200_000, bal)

	wd, err := s.coord.PartnerWithdrawal(s.ctx, "p", 300_000, ledger.BoxVIP, "dividend")
	s.Require().NoError(err)
	bal, err = s.coord.PartnerBalance(s.ctx, "p")
	s.Require().NoError(err)
	s.EqualValues(900_000, bal)

	cash, err := s.store.CashTransaction(s.ctx, wd.CashTransactionID)
	s.Require().NoError(err)
	s.Equal(ledger.CashExpense, cash.Type)
	s.Equal(ledger.BoxVIP, cash.BoxType)
	s.Equal("p", cash.PartnerID)

	balances, err := s.coord.BoxBalances(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(200_000, balances[ledger.BoxMain])
	s.EqualValues(-300_000, balances[ledger.BoxVIP])
}

func (s *CoordinatorSuite) TestPartnerCashValidation() {
	s.partner("p", 0)
	_, err := s.coord.PartnerDeposit(s.ctx, "p", 0, ledger.BoxMain, "x")
	s.Require().ErrorIs(err, ledger.ErrInvalidAmount)
	_, err = s.coord.PartnerWithdrawal(s.ctx, "p", 10, ledger.BoxMain, "   ")
	s.Require().ErrorIs(err, ledger.ErrEmptyDescription)
	_, err = s.coord.PartnerDeposit(s.ctx, "ghost", 10, ledger.BoxMain, "x")
	s.Require().ErrorIs(err, ledger.ErrNotFound)

	txs, err := s.store.PartnerTransactions(s.ctx, "")
	s.Require().NoError(err)
	s.Empty(txs)
}

func (s *CoordinatorSuite) TestPartnerTransferIsZeroSum() {
	s.partner("a", 800_000)
	s.partner("b", 50_000)

	out, in, err := s.coord.PartnerTransfer(s.ctx, "a", "b", 100_000, "rebalance")
	s.Require().NoError(err)
	s.Equal(out.TransferID, in.TransferID)
	s.Equal(ledger.PartnerTransferOut, out.Type)
	s.Equal(ledger.PartnerTransferIn, in.Type)
	s.Equal("b", out.RelatedPartnerID)
	s.Equal("a", in.RelatedPartnerID)
	s.Equal("Partner b", out.RelatedPartnerName)

	a, err := s.coord.PartnerBalance(s.ctx, "a")
	s.Require().NoError(err)
	b, err := s.coord.PartnerBalance(s.ctx, "b")
	s.Require().NoError(err)
	s.EqualValues(700_000, a)
	s.EqualValues(150_000, b)
	s.EqualValues(850_000, a+b)

	cash, err := s.store.CashTransactions(s.ctx, ledger.CashFilter{})
	s.Require().NoError(err)
	s.Empty(cash, "partner transfers never touch a cash box")
	s.assertIntact()
}

func (s *CoordinatorSuite) TestPartnerTransferErrors() {
	s.partner("a", 10)
	_, _, err := s.coord.PartnerTransfer(s.ctx, "a", "a", 5, "loop")
	s.Require().ErrorIs(err, ledger.ErrSamePartner)
	_, _, err = s.coord.PartnerTransfer(s.ctx, "a", "ghost", 5, "x")
	s.Require().ErrorIs(err, ledger.ErrNotFound)
	_, _, err = s.coord.PartnerTransfer(s.ctx, "a", "b", -5, "x")
	s.Require().ErrorIs(err, ledger.ErrInvalidAmount)
	_, _, err = s.coord.PartnerTransfer(s.ctx, "a", "b", 5, "")
	s.Require().ErrorIs(err, ledger.ErrEmptyDescription)
}

func (s *CoordinatorSuite) TestPartnerTransferRollsBackFirstLeg() {
	s.partner("a", 100)
	s.partner("b", 100)
	faulty := &faultStore{Store: s.store, failOn: map[string]int{"InsertPartnerTransaction": 2}}
	_, _, err := s.newCoordinator(faulty).PartnerTransfer(s.ctx, "a", "b", 10, "x")
	s.Require().ErrorIs(err, errInjected)

	txs, err := s.store.PartnerTransactions(s.ctx, "")
	s.Require().NoError(err)
	s.Empty(txs)
}

func (s *CoordinatorSuite) TestCashBoxTransferConservesTotal() {
	expense, income, err := s.coord.CashBoxTransfer(s.ctx, ledger.BoxMain, 50_000, "float for vip desk")
	s.Require().NoError(err)
	s.Equal(ledger.BoxMain, expense.BoxType)
	s.Equal(ledger.BoxVIP, income.BoxType)
	s.Equal(expense.Amount, income.Amount)
	s.Contains(expense.Description, "float for vip desk")
	s.Contains(income.Description, "float for vip desk")

	balances, err := s.coord.BoxBalances(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(-50_000, balances[ledger.BoxMain])
	s.EqualValues(50_000, balances[ledger.BoxVIP])
	s.Zero(balances[ledger.BoxMain] + balances[ledger.BoxVIP])

	_, _, err = s.coord.CashBoxTransfer(s.ctx, "safe", 10, "x")
	s.Require().True(ledger.IsValidation(err))
}

func (s *CoordinatorSuite) TestCashBoxTransferRollsBackFirstLeg() {
	faulty := &faultStore{Store: s.store, failOn: map[string]int{"InsertCashTransaction": 2}}
	_, _, err := s.newCoordinator(faulty).CashBoxTransfer(s.ctx, ledger.BoxVIP, 10, "x")
	s.Require().ErrorIs(err, errInjected)
	txs, err := s.store.CashTransactions(s.ctx, ledger.CashFilter{})
	s.Require().NoError(err)
	s.Empty(txs)
}

func (s *CoordinatorSuite) TestWastageRecordAndDelete() {
	w, err := s.coord.RecordWastage(s.ctx, ledger.WastageInput{Date: "2025-03-02", Title: "broken lens", TotalCost: 120_000}, ledger.BoxMain)
	s.Require().NoError(err)
	s.Equal(w.ID, w.TransactionID)

	cash, err := s.store.CashTransaction(s.ctx, w.TransactionID)
	s.Require().NoError(err)
	s.Equal(ledger.CashExpense, cash.Type)
	s.EqualValues(120_000, cash.Amount)
	s.Equal(ledger.SubtypeWastage, cash.Subtype)
	s.assertIntact()

	s.Require().NoError(s.coord.DeleteWastage(s.ctx, w.ID))
	_, err = s.store.Wastage(s.ctx, w.ID)
	s.ErrorIs(err, ledger.ErrNotFound)
	_, err = s.store.CashTransaction(s.ctx, w.TransactionID)
	s.ErrorIs(err, ledger.ErrNotFound)

	s.Require().ErrorIs(s.coord.DeleteWastage(s.ctx, w.ID), ledger.ErrNotFound)
	s.assertIntact()
}

func (s *CoordinatorSuite) TestWastageValidationAndRollback() {
	_, err := s.coord.RecordWastage(s.ctx, ledger.WastageInput{Date: "2025-03-02", Title: "x", TotalCost: 0}, ledger.BoxMain)
	s.Require().ErrorIs(err, ledger.ErrInvalidAmount)
	_, err = s.coord.RecordWastage(s.ctx, ledger.WastageInput{Date: "2025-03-02", Title: " ", TotalCost: 5}, ledger.BoxMain)
	s.Require().ErrorIs(err, ledger.ErrValidation)
	_, err = s.coord.RecordWastage(s.ctx, ledger.WastageInput{Date: "2025-03-02", Title: "x", TotalCost: 5}, "safe")
	s.Require().ErrorIs(err, ledger.ErrValidation)

	faulty := &faultStore{Store: s.store, failOn: map[string]int{"InsertCashTransaction": 1}}
	_, err = s.newCoordinator(faulty).RecordWastage(s.ctx, ledger.WastageInput{Date: "2025-03-02", Title: "x", TotalCost: 5}, ledger.BoxMain)
	s.Require().ErrorIs(err, errInjected)
	ws, err := s.store.Wastages(s.ctx)
	s.Require().NoError(err)
	s.Empty(ws)
}

func (s *CoordinatorSuite) TestDeleteWastageReportsHalfPair() {
	s.Require().NoError(s.store.WithTx(s.ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertWastage(ctx, ledger.Wastage{ID: "w1", TransactionID: "w1", Date: "2025-03-01", Title: "x", TotalCost: 5, BoxType: ledger.BoxMain})
	}))
	err := s.coord.DeleteWastage(s.ctx, "w1")
	s.Require().ErrorIs(err, ledger.ErrInconsistent)
	_, err = s.store.Wastage(s.ctx, "w1")
	s.NoError(err, "nothing is deleted when the pair is broken")
}

func (s *CoordinatorSuite) TestDeleteWastageIgnoresOtherCashRows() {
	s.customer("c1")
	tx, err := s.coord.ManualCustomerAdjustment(s.ctx, "c1", ledger.DirectionCredit, 400, ledger.BoxMain, "deposit")
	s.Require().NoError(err)

	s.Require().ErrorIs(s.coord.DeleteWastage(s.ctx, tx.ID), ledger.ErrNotFound)
	_, err = s.store.CashTransaction(s.ctx, tx.ID)
	s.NoError(err, "the adjustment row is left alone")
}

func (s *CoordinatorSuite) TestManualCustomerAdjustment() {
	s.customer("c1")

	credit, err := s.coord.ManualCustomerAdjustment(s.ctx, "c1", ledger.DirectionCredit, 400, ledger.BoxMain, "deposit at counter")
	s.Require().NoError(err)
	s.Equal(ledger.CashIncome, credit.Type)
	debit, err := s.coord.ManualCustomerAdjustment(s.ctx, "c1", ledger.DirectionDebit, 150, ledger.BoxVIP, "refund")
	s.Require().NoError(err)
	s.Equal(ledger.CashExpense, debit.Type)
	s.Equal("c1", debit.CustomerID)

	c, err := s.coord.Customer(s.ctx, "c1")
	s.Require().NoError(err)
	s.EqualValues(400, c.Credit)
	s.EqualValues(150, c.Debit)
	s.EqualValues(250, c.Balance())
	s.assertIntact()

	_, err = s.coord.ManualCustomerAdjustment(s.ctx, "c1", "sideways", 1, ledger.BoxMain, "x")
	s.Require().ErrorIs(err, ledger.ErrValidation)
	_, err = s.coord.ManualCustomerAdjustment(s.ctx, "ghost", ledger.DirectionDebit, 1, ledger.BoxMain, "x")
	s.Require().ErrorIs(err, ledger.ErrNotFound)
}

func (s *CoordinatorSuite) TestBalanceIdentityAcrossMixedOperations() {
	s.customer("c1")
	s.customer("c2")
	s.invoice("i1", "c1", 1000)
	s.invoice("i2", "c2", 500)
	s.partner("p", 0)

	_, err := s.coord.RegisterInvoicePayment(s.ctx, "i1", ledger.Payment{Date: "2025-03-03", Amount: 300, BoxType: ledger.BoxMain})
	s.Require().NoError(err)
	_, err = s.coord.RegisterInvoicePayment(s.ctx, "i2", ledger.Payment{Date: "2025-03-04", Amount: 500, BoxType: ledger.BoxVIP})
	s.Require().NoError(err)
	_, err = s.coord.ManualCustomerAdjustment(s.ctx, "c1", ledger.DirectionDebit, 100, ledger.BoxMain, "refund")
	s.Require().NoError(err)
	_, err = s.coord.PartnerDeposit(s.ctx, "p", 1000, ledger.BoxMain, "capital")
	s.Require().NoError(err)
	_, _, err = s.coord.CashBoxTransfer(s.ctx, ledger.BoxMain, 200, "move")
	s.Require().NoError(err)

	for _, id := range []string{"c1", "c2"} {
		c, err := s.coord.Customer(s.ctx, id)
		s.Require().NoError(err)
		txs, err := s.store.CashTransactions(s.ctx, ledger.CashFilter{CustomerID: id})
		s.Require().NoError(err)
		var net int64
		for _, t := range txs {
			net += t.SignedAmount()
		}
		s.Equal(c.CarriedForward+net, c.Balance(), "customer %s", id)
	}
	s.assertIntact()
}
