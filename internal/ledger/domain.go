// Package ledger holds the period-scoped entities, the store contract and the
// transaction coordinator that keeps invoices, payments, cash boxes and
// customer balances consistent.
package ledger

import (
	"strings"
)

// DateLayout is the fixed lexicographic format of every ledger date.
const DateLayout = "2006-01-02"

// BoxType identifies one of the two cash boxes.
type BoxType string

const (
	BoxMain BoxType = "main"
	BoxVIP  BoxType = "vip"
)

// Boxes lists every cash box in reporting order.
var Boxes = []BoxType{BoxMain, BoxVIP}

// Valid reports whether b names a known box.
func (b BoxType) Valid() bool {
	return b == BoxMain || b == BoxVIP
}

// Other returns the opposite box.
func (b BoxType) Other() BoxType {
	if b == BoxMain {
		return BoxVIP
	}
	return BoxMain
}

// CashType is the direction of a cash box movement.
type CashType string

const (
	CashIncome  CashType = "income"
	CashExpense CashType = "expense"
)

// CashSubtype tags the business event that produced a cash transaction.
type CashSubtype string

const (
	SubtypeInvoicePayment     CashSubtype = "invoice_payment"
	SubtypeWastage            CashSubtype = "wastage"
	SubtypePartnerDeposit     CashSubtype = "partner_deposit"
	SubtypePartnerWithdrawal  CashSubtype = "partner_withdrawal"
	SubtypeBoxTransfer        CashSubtype = "box_transfer"
	SubtypeCustomerAdjustment CashSubtype = "customer_adjustment"
	SubtypeCarryForward       CashSubtype = "carry_forward"
	SubtypeManual             CashSubtype = "manual"
)

// InvoiceType enumerates invoice kinds.
type InvoiceType string

const (
	InvoiceSale             InvoiceType = "sale"
	InvoicePurchase         InvoiceType = "purchase"
	InvoiceProformaSale     InvoiceType = "proforma_sale"
	InvoiceProformaPurchase InvoiceType = "proforma_purchase"
	InvoiceReturnSale       InvoiceType = "return_sale"
	InvoiceReturnPurchase   InvoiceType = "return_purchase"
)

// OrderStatus tracks service orders attached to an invoice.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderInProgress OrderStatus = "in_progress"
	OrderDone       OrderStatus = "done"
	OrderDelivered  OrderStatus = "delivered"
)

// PartnerTxType enumerates partner capital movements.
type PartnerTxType string

const (
	PartnerDeposit     PartnerTxType = "deposit"
	PartnerWithdrawal  PartnerTxType = "withdrawal"
	PartnerTransferIn  PartnerTxType = "transfer_in"
	PartnerTransferOut PartnerTxType = "transfer_out"
)

// Sign returns +1 for movements that raise a partner balance and -1 otherwise.
func (t PartnerTxType) Sign() int64 {
	switch t {
	case PartnerDeposit, PartnerTransferIn:
		return 1
	case PartnerWithdrawal, PartnerTransferOut:
		return -1
	default:
		return 0
	}
}

// Direction selects which customer aggregate a manual adjustment moves.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// ShareType splits a service line between the house and the commission earner.
type ShareType string

const (
	ShareMain       ShareType = "main"
	ShareCommission ShareType = "commission"
)

// ProductKind distinguishes sellable goods from services.
type ProductKind string

const (
	KindProduct ProductKind = "product"
	KindService ProductKind = "service"
)

// Customer is a period-scoped customer account.
type Customer struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Phone          string `json:"phone,omitempty"`
	Debit          int64  `json:"debit"`
	Credit         int64  `json:"credit"`
	IsVIP          bool   `json:"is_vip"`
	UserRef        string `json:"user_ref,omitempty"`
	CarriedForward int64  `json:"carried_forward"`
}

// Balance returns credit minus debit. Positive means the business owes the customer.
func (c Customer) Balance() int64 {
	return c.Credit - c.Debit
}

// DisplayName joins the name fields.
func (c Customer) DisplayName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Product is a product or service definition.
type Product struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Kind            ProductKind `json:"kind"`
	Price           int64       `json:"price"`
	MainShare       int64       `json:"main_share,omitempty"`
	CommissionShare int64       `json:"commission_share,omitempty"`
}

// Cost is an extra-cost definition that can be attached to invoices.
type Cost struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Amount int64  `json:"amount"`
}

// InvoiceItem is a priced line of an invoice.
type InvoiceItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Qty       int64  `json:"qty" validate:"gt=0"`
	Price     int64  `json:"price" validate:"gte=0"`
}

// LineTotal is qty times price.
func (i InvoiceItem) LineTotal() int64 {
	return i.Qty * i.Price
}

// CostItem is an extra cost charged on an invoice.
type CostItem struct {
	CostID string `json:"cost_id,omitempty"`
	Title  string `json:"title"`
	Amount int64  `json:"amount" validate:"gte=0"`
}

// Payment is a settlement embedded in an invoice.
type Payment struct {
	Date    string  `json:"date" validate:"required,datetime=2006-01-02"`
	Amount  int64   `json:"amount" validate:"gt=0"`
	BoxType BoxType `json:"box_type" validate:"required,oneof=main vip"`
}

// Invoice is a period-scoped invoice with its embedded payments.
type Invoice struct {
	ID          string        `json:"id"`
	Number      string        `json:"number"`
	CustomerID  string        `json:"customer_id"`
	Type        InvoiceType   `json:"type"`
	IssueDate   string        `json:"issue_date"`
	Items       []InvoiceItem `json:"items"`
	CostItems   []CostItem    `json:"cost_items,omitempty"`
	Discount    int64         `json:"discount"`
	TotalAmount int64         `json:"total_amount"`
	Payments    []Payment     `json:"payments"`
	OrderStatus OrderStatus   `json:"order_status,omitempty"`
}

// ComputeTotal returns Σ(qty·price) + Σ(cost) − discount.
func (inv Invoice) ComputeTotal() int64 {
	var total int64
	for _, item := range inv.Items {
		total += item.LineTotal()
	}
	for _, cost := range inv.CostItems {
		total += cost.Amount
	}
	return total - inv.Discount
}

// PaidAmount sums every embedded payment.
func (inv Invoice) PaidAmount() int64 {
	var paid int64
	for _, p := range inv.Payments {
		paid += p.Amount
	}
	return paid
}

// Remaining is the unpaid part of the invoice, negative when overpaid.
func (inv Invoice) Remaining() int64 {
	return inv.TotalAmount - inv.PaidAmount()
}

// Overpaid reports whether payments exceed the total. Overpayment is allowed.
func (inv Invoice) Overpaid() bool {
	return inv.PaidAmount() > inv.TotalAmount
}

// Clone returns a deep copy so slices are never shared between readers.
func (inv Invoice) Clone() Invoice {
	out := inv
	out.Items = append([]InvoiceItem(nil), inv.Items...)
	out.CostItems = append([]CostItem(nil), inv.CostItems...)
	out.Payments = append([]Payment(nil), inv.Payments...)
	return out
}

// CashTransaction is one row of the append-only cash box ledger.
type CashTransaction struct {
	ID            string      `json:"id"`
	BoxType       BoxType     `json:"box_type"`
	Type          CashType    `json:"type"`
	Amount        int64       `json:"amount"`
	Date          string      `json:"date"`
	Description   string      `json:"description"`
	InvoiceID     string      `json:"invoice_id,omitempty"`
	InvoiceNumber string      `json:"invoice_number,omitempty"`
	CustomerID    string      `json:"customer_id,omitempty"`
	PartnerID     string      `json:"partner_id,omitempty"`
	Subtype       CashSubtype `json:"subtype,omitempty"`
}

func (t CashTransaction) EntryDate() string { return t.Date }
func (t CashTransaction) EntryID() string   { return t.ID }

// SignedAmount is +amount for income and −amount for expense.
func (t CashTransaction) SignedAmount() int64 {
	if t.Type == CashExpense {
		return -t.Amount
	}
	return t.Amount
}

// Partner is a business partner capital account.
type Partner struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	InitialBalance int64  `json:"initial_balance"`
}

// PartnerTransaction is one movement on a partner capital account.
type PartnerTransaction struct {
	ID                 string        `json:"id"`
	PartnerID          string        `json:"partner_id"`
	Type               PartnerTxType `json:"type"`
	Amount             int64         `json:"amount"`
	Date               string        `json:"date"`
	Description        string        `json:"description"`
	BoxType            BoxType       `json:"box_type,omitempty"`
	RelatedPartnerID   string        `json:"related_partner_id,omitempty"`
	RelatedPartnerName string        `json:"related_partner_name,omitempty"`
	CashTransactionID  string        `json:"cash_transaction_id,omitempty"`
	TransferID         string        `json:"transfer_id,omitempty"`
}

func (t PartnerTransaction) EntryDate() string { return t.Date }
func (t PartnerTransaction) EntryID() string   { return t.ID }

// SignedAmount applies the type sign to the amount.
func (t PartnerTransaction) SignedAmount() int64 {
	return t.Type.Sign() * t.Amount
}

// Wastage records lost stock paid out of a cash box.
type Wastage struct {
	ID            string  `json:"id"`
	TransactionID string  `json:"transaction_id"`
	Date          string  `json:"date"`
	Title         string  `json:"title"`
	TotalCost     int64   `json:"total_cost"`
	Description   string  `json:"description,omitempty"`
	BoxType       BoxType `json:"box_type"`
}

// ShareTransaction splits a service line into house and commission parts.
type ShareTransaction struct {
	ID         string    `json:"id"`
	InvoiceID  string    `json:"invoice_id"`
	CustomerID string    `json:"customer_id"`
	ServiceID  string    `json:"service_id"`
	ShareType  ShareType `json:"share_type"`
	Amount     int64     `json:"amount"`
	Date       string    `json:"date"`
}
