package fulfillment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MapOrder transforms a validated inbound order into a fulfillment request.
//
// The result depends only on order, settings and now: mapping the same order
// twice with the same now yields byte-identical JSON. The inbound order is
// validated before mapping and the request is validated before it is returned;
// no partially built request is ever returned.
//
// Business rules:
//   - orderNumber is "ECOM-" + order ID
//   - customerNumber is "CUSTOMER-" + contact ID, omitted when the contact has no ID
//   - line numbers follow input order starting at 1
//   - deliveryDate is now plus the configured lead time in days
func MapOrder(order *InboundOrder, settings WarehouseSettings, now time.Time) (*FulfillmentRequest, error) {
	if err := ValidateInbound(order); err != nil {
		return nil, err
	}
	settings = settings.withDefaults()

	currency, err := NormalizeCurrency(order.Currency)
	if err != nil {
		return nil, err
	}
	address, err := AssembleAddress(order.Contact)
	if err != nil {
		return nil, err
	}
	total, err := NormalizeAmount(order.Amount.Decimal, currency)
	if err != nil {
		return nil, err
	}

	lines := make([]LineItem, 0, len(order.Items))
	for i, item := range order.Items {
		line, err := mapLineItem(i+1, item, currency)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	notes := strings.TrimSpace(order.Notes)
	if notes == "" {
		notes = fmt.Sprintf("E-commerce order: %s", order.ID)
	}

	req := &FulfillmentRequest{
		WarehouseID:     settings.WarehouseID,
		OrderNumber:     OrderNumber(order.ID),
		DeliveryDate:    now.AddDate(0, 0, settings.LeadTimeDays).Format(DeliveryDateLayout),
		OrderNotes:      notes,
		TotalValue:      total,
		Currency:        currency,
		ShippingAddress: address,
		LineItems:       lines,
		ShippingMethod:  settings.ShippingMethod,
		Priority:        settings.Priority,
	}

	if err := ValidateOutbound(req); err != nil {
		return nil, err
	}
	return req, nil
}

// OrderNumber returns the warehouse order number for a platform order ID.
func OrderNumber(orderID string) string {
	return OrderNumberPrefix + orderID
}

func mapLineItem(lineNumber int, item OrderItem, currency string) (LineItem, error) {
	unit, err := NormalizeAmount(item.Price.Amount.Decimal, currency)
	if err != nil {
		return LineItem{}, err
	}
	lineTotal, err := NormalizeAmount(unit.Mul(decimal.NewFromInt(int64(item.Qty))), currency)
	if err != nil {
		return LineItem{}, err
	}
	return LineItem{
		LineNumber:  lineNumber,
		ProductSKU:  strings.TrimSpace(item.Price.SKU),
		Quantity:    item.Qty,
		ProductName: strings.TrimSpace(item.Name),
		UnitPrice:   unit,
		TotalPrice:  lineTotal,
	}, nil
}
