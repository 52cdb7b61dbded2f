package fulfillment

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// InboundOrder
// ---------------------------------------------------------------------------

// InboundOrder is the order record returned by the e-commerce platform.
// JSON names follow the platform's schema.
type InboundOrder struct {
	// ID is the platform order identifier
	ID string `json:"_id" validate:"required,notblank"`
	// Contact is the customer snapshot taken when the order was placed
	Contact ContactSnapshot `json:"contactSnapshot"`
	// Items are the ordered products, in display order
	Items []OrderItem `json:"items" validate:"required,min=1,dive"`
	// Amount is the order total in Currency
	Amount decimal.NullDecimal `json:"amount" validate:"required,gte=0"`
	// Currency is the ISO 4217 currency code
	Currency string `json:"currency" validate:"required,len=3,alpha"`
	// Notes is the free-text order note
	Notes string `json:"notes,omitempty"`
	// CreatedAt is when the order was placed on the platform
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// ContactSnapshot holds the customer data captured with the order.
type ContactSnapshot struct {
	ID         string `json:"id,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Address1   string `json:"address1,omitempty"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// OrderItem is a single line of an inbound order.
type OrderItem struct {
	Name  string    `json:"name" validate:"required,notblank"`
	Qty   int       `json:"qty" validate:"gte=1"`
	Price ItemPrice `json:"price"`
}

// ItemPrice carries the SKU and unit price of an order item.
type ItemPrice struct {
	SKU    string              `json:"sku" validate:"required,notblank"`
	Amount decimal.NullDecimal `json:"amount" validate:"required,gte=0"`
}

// LineTotal returns quantity times unit price, unrounded.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Amount.Decimal.Mul(decimal.NewFromInt(int64(i.Qty)))
}

// ItemsTotal returns the sum of all line totals, unrounded.
func (o *InboundOrder) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// WithContactID returns a copy of the order whose snapshot carries contactID
// when the platform omitted it.
func (o InboundOrder) WithContactID(contactID string) InboundOrder {
	if o.Contact.ID == "" {
		o.Contact.ID = contactID
	}
	return o
}
