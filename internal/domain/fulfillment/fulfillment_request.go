package fulfillment

import (
	"github.com/shopspring/decimal"
)

func init() {
	// The warehouse API expects monetary values as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Shipping defaults used when configuration leaves them empty.
const (
	DefaultShippingMethod = "standard"
	DefaultPriority       = "normal"
	DefaultLeadTimeDays   = 1

	OrderNumberPrefix    = "ECOM-"
	CustomerNumberPrefix = "CUSTOMER-"
	DeliveryDateLayout   = "2006-01-02"
)

// ---------------------------------------------------------------------------
// FulfillmentRequest
// ---------------------------------------------------------------------------

// FulfillmentRequest is the payload submitted to the warehouse management system.
// Field order is fixed so that identical requests serialize to identical bytes.
type FulfillmentRequest struct {
	WarehouseID     string          `json:"warehouseId" validate:"required"`
	OrderNumber     string          `json:"orderNumber" validate:"required,startswith=ECOM-"`
	DeliveryDate    string          `json:"deliveryDate" validate:"required"`
	OrderNotes      string          `json:"orderNotes,omitempty"`
	TotalValue      decimal.Decimal `json:"totalValue"`
	Currency        string          `json:"currency" validate:"required,len=3,uppercase"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	LineItems       []LineItem      `json:"lineItems" validate:"required,min=1,dive"`
	ShippingMethod  string          `json:"shippingMethod" validate:"required"`
	Priority        string          `json:"priority" validate:"required"`
}

// ShippingAddress is the normalized delivery address with notification preferences.
type ShippingAddress struct {
	CustomerNumber    string       `json:"customerNumber,omitempty"`
	Name              string       `json:"name" validate:"required"`
	Address1          string       `json:"address1" validate:"required"`
	Address2          string       `json:"address2,omitempty"`
	PostalCode        string       `json:"postalCode" validate:"required"`
	City              string       `json:"city" validate:"required"`
	CountryCode       string       `json:"countryCode" validate:"required,len=2,uppercase,alpha"`
	PhoneNotification Notification `json:"phoneNotification"`
	EmailNotification Notification `json:"emailNotification"`
}

// Notification is a notification channel preference.
type Notification struct {
	Enabled bool   `json:"enabled"`
	Value   string `json:"value,omitempty"`
}

// LineItem is one numbered line of a fulfillment request.
type LineItem struct {
	LineNumber  int             `json:"lineNumber" validate:"gte=1"`
	ProductSKU  string          `json:"productSku" validate:"required"`
	Quantity    int             `json:"quantity" validate:"gte=1"`
	ProductName string          `json:"productName" validate:"required"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
}

// WarehouseSettings is the deployment configuration the mapper needs.
type WarehouseSettings struct {
	WarehouseID    string
	LeadTimeDays   int
	ShippingMethod string
	Priority       string
}

// withDefaults fills empty settings with the documented defaults.
func (s WarehouseSettings) withDefaults() WarehouseSettings {
	if s.LeadTimeDays <= 0 {
		s.LeadTimeDays = DefaultLeadTimeDays
	}
	if s.ShippingMethod == "" {
		s.ShippingMethod = DefaultShippingMethod
	}
	if s.Priority == "" {
		s.Priority = DefaultPriority
	}
	return s
}

// ---------------------------------------------------------------------------
// DeliveryResult
// ---------------------------------------------------------------------------

// DeliveryResult is the outcome of a successful warehouse submission.
type DeliveryResult struct {
	OrderNumber    string `json:"orderNumber"`
	ConfirmationID string `json:"confirmationId"`
	// Attempts is the number of HTTP calls made, zero when served from the confirmation store
	Attempts int `json:"attempts"`
	// Duplicate is true when the warehouse already knew this order number
	Duplicate bool `json:"duplicate"`
}
