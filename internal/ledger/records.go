package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CustomerInput is the form payload for a new customer.
type CustomerInput struct {
	ID        string `json:"id,omitempty"`
	FirstName string `json:"first_name" validate:"notblank,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Phone     string `json:"phone" validate:"max=50"`
	IsVIP     bool   `json:"is_vip"`
	UserRef   string `json:"user_ref,omitempty"`
}

// CreateCustomer inserts a customer with zero aggregates.
func (c *Coordinator) CreateCustomer(ctx context.Context, in CustomerInput) (Customer, error) {
	if err := validateStruct(in); err != nil {
		return Customer{}, c.reject(OpCreateCustomer, err)
	}
	cust := Customer{
		ID:        in.ID,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Phone:     strings.TrimSpace(in.Phone),
		IsVIP:     in.IsVIP,
		UserRef:   in.UserRef,
	}
	err := c.run(ctx, OpCreateCustomer, nil, func(ctx context.Context, tx Tx) error {
		if in.ID == "" {
			cust.ID = c.newID()
		}
		_, err := tx.Customer(ctx, cust.ID)
		if err := absent(err); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return Duplicate("customer", cust.ID)
			}
			return err
		}
		return tx.PutCustomer(ctx, cust)
	})
	if err != nil {
		return Customer{}, err
	}
	return cust, nil
}

// PartnerInput is the form payload for a new partner.
type PartnerInput struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name" validate:"notblank,max=200"`
	InitialBalance int64  `json:"initial_balance" validate:"gte=0"`
}

// CreatePartner inserts a partner capital account.
func (c *Coordinator) CreatePartner(ctx context.Context, in PartnerInput) (Partner, error) {
	if err := validateStruct(in); err != nil {
		return Partner{}, c.reject(OpCreatePartner, err)
	}
	p := Partner{ID: in.ID, Name: strings.TrimSpace(in.Name), InitialBalance: in.InitialBalance}
	err := c.run(ctx, OpCreatePartner, nil, func(ctx context.Context, tx Tx) error {
		if in.ID == "" {
			p.ID = c.newID()
		}
		_, err := tx.Partner(ctx, p.ID)
		if err := absent(err); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return Duplicate("partner", p.ID)
			}
			return err
		}
		return tx.PutPartner(ctx, p)
	})
	if err != nil {
		return Partner{}, err
	}
	return p, nil
}

// ProductInput is the form payload for a product or service definition.
type ProductInput struct {
	ID              string      `json:"id,omitempty"`
	Name            string      `json:"name" validate:"notblank"`
	Kind            ProductKind `json:"kind" validate:"required,oneof=product service"`
	Price           int64       `json:"price" validate:"gte=0"`
	MainShare       int64       `json:"main_share" validate:"gte=0"`
	CommissionShare int64       `json:"commission_share" validate:"gte=0"`
}

// CreateProduct upserts a product definition.
func (c *Coordinator) CreateProduct(ctx context.Context, in ProductInput) (Product, error) {
	if err := validateStruct(in); err != nil {
		return Product{}, c.reject(OpCreateProduct, err)
	}
	if in.Kind == KindService && in.MainShare+in.CommissionShare != 0 && in.MainShare+in.CommissionShare != in.Price {
		return Product{}, c.reject(OpCreateProduct, fmt.Errorf("%w: service shares must add up to the price", ErrValidation))
	}
	p := Product(in)
	err := c.run(ctx, OpCreateProduct, nil, func(ctx context.Context, tx Tx) error {
		if in.ID == "" {
			p.ID = c.newID()
		}
		return tx.PutProduct(ctx, p)
	})
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

// CostInput is the form payload for an extra-cost definition.
type CostInput struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title" validate:"notblank"`
	Amount int64  `json:"amount" validate:"gte=0"`
}

// CreateCost upserts a cost definition.
func (c *Coordinator) CreateCost(ctx context.Context, in CostInput) (Cost, error) {
	if err := validateStruct(in); err != nil {
		return Cost{}, c.reject(OpCreateCost, err)
	}
	cost := Cost(in)
	err := c.run(ctx, OpCreateCost, nil, func(ctx context.Context, tx Tx) error {
		if in.ID == "" {
			cost.ID = c.newID()
		}
		return tx.PutCost(ctx, cost)
	})
	if err != nil {
		return Cost{}, err
	}
	return cost, nil
}

// InvoiceInput is the form payload for creating or editing an invoice.
// Payments are never accepted here; they flow through RegisterInvoicePayment.
type InvoiceInput struct {
	ID          string        `json:"id,omitempty"`
	Number      string        `json:"number" validate:"notblank"`
	CustomerID  string        `json:"customer_id" validate:"notblank"`
	Type        InvoiceType   `json:"type" validate:"required,oneof=sale purchase proforma_sale proforma_purchase return_sale return_purchase"`
	IssueDate   string        `json:"issue_date" validate:"required,datetime=2006-01-02"`
	Items       []InvoiceItem `json:"items" validate:"dive"`
	CostItems   []CostItem    `json:"cost_items" validate:"dive"`
	Discount    int64         `json:"discount" validate:"gte=0"`
	OrderStatus OrderStatus   `json:"order_status" validate:"omitempty,oneof=pending in_progress done delivered"`
}

// SaveInvoice creates or edits an invoice, recomputing its total. Existing
// payments are preserved on edit.
func (c *Coordinator) SaveInvoice(ctx context.Context, in InvoiceInput) (Invoice, error) {
	if err := validateStruct(in); err != nil {
		return Invoice{}, c.reject(OpSaveInvoice, err)
	}
	inv := Invoice{
		ID:          in.ID,
		Number:      strings.TrimSpace(in.Number),
		CustomerID:  in.CustomerID,
		Type:        in.Type,
		IssueDate:   in.IssueDate,
		Items:       append([]InvoiceItem(nil), in.Items...),
		CostItems:   append([]CostItem(nil), in.CostItems...),
		Discount:    in.Discount,
		OrderStatus: in.OrderStatus,
	}
	inv.TotalAmount = inv.ComputeTotal()
	if inv.TotalAmount < 0 {
		return Invoice{}, c.reject(OpSaveInvoice, fmt.Errorf("%w: discount exceeds invoice value", ErrValidation))
	}
	ev := &Event{}
	err := c.run(ctx, OpSaveInvoice, ev, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Customer(ctx, inv.CustomerID); err != nil {
			return err
		}
		inv.Payments = nil
		if in.ID == "" {
			inv.ID = c.newID()
		} else {
			existing, err := tx.LockInvoice(ctx, in.ID)
			switch {
			case err == nil:
				if existing.CustomerID != inv.CustomerID && len(existing.Payments) > 0 {
					return fmt.Errorf("%w: cannot move a paid invoice to another customer", ErrValidation)
				}
				inv.Payments = existing.Payments
			case !errors.Is(err, ErrNotFound):
				return err
			}
		}
		ev.CustomerIDs = []string{inv.CustomerID}
		return tx.PutInvoice(ctx, inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// ServiceShareInput splits one service line of an invoice.
type ServiceShareInput struct {
	InvoiceID        string `json:"invoice_id" validate:"notblank"`
	ServiceID        string `json:"service_id" validate:"notblank"`
	MainAmount       int64  `json:"main_amount" validate:"gte=0"`
	CommissionAmount int64  `json:"commission_amount" validate:"gte=0"`
}

// RecordServiceShares writes the main and commission shares of a service
// line. Their sum must equal the line price and a line is split only once.
func (c *Coordinator) RecordServiceShares(ctx context.Context, in ServiceShareInput) ([]ShareTransaction, error) {
	if err := validateStruct(in); err != nil {
		return nil, c.reject(OpRecordServiceShares, err)
	}
	var shares []ShareTransaction
	err := c.run(ctx, OpRecordServiceShares, nil, func(ctx context.Context, tx Tx) error {
		inv, err := tx.Invoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		var line *InvoiceItem
		for i := range inv.Items {
			if inv.Items[i].ProductID == in.ServiceID {
				line = &inv.Items[i]
				break
			}
		}
		if line == nil {
			return NotFound("service line", in.ServiceID)
		}
		existing, err := tx.Shares(ctx, inv.ID)
		if err != nil {
			return err
		}
		for _, sh := range existing {
			if sh.ServiceID == in.ServiceID {
				return Duplicate("shares of service line", inv.ID+"/"+in.ServiceID)
			}
		}
		if in.MainAmount+in.CommissionAmount != line.LineTotal() {
			return fmt.Errorf("%w: shares %d+%d do not match line price %d",
				ErrValidation, in.MainAmount, in.CommissionAmount, line.LineTotal())
		}
		shares = shares[:0]
		for _, part := range []struct {
			kind   ShareType
			amount int64
		}{{ShareMain, in.MainAmount}, {ShareCommission, in.CommissionAmount}} {
			if part.amount == 0 {
				continue
			}
			s := ShareTransaction{
				ID:         c.newID(),
				InvoiceID:  inv.ID,
				CustomerID: inv.CustomerID,
				ServiceID:  in.ServiceID,
				ShareType:  part.kind,
				Amount:     part.amount,
				Date:       inv.IssueDate,
			}
			if err := tx.InsertShare(ctx, s); err != nil {
				return err
			}
			shares = append(shares, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// Customer reads one customer.
func (c *Coordinator) Customer(ctx context.Context, id string) (Customer, error) {
	return c.store.Customer(ctx, id)
}

// Invoice reads one invoice.
func (c *Coordinator) Invoice(ctx context.Context, id string) (Invoice, error) {
	return c.store.Invoice(ctx, id)
}

// Partner reads one partner.
func (c *Coordinator) Partner(ctx context.Context, id string) (Partner, error) {
	return c.store.Partner(ctx, id)
}

// absent turns a lookup error into ErrDuplicate when the row exists.
func absent(err error) error {
	if err == nil {
		return ErrDuplicate
	}
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
