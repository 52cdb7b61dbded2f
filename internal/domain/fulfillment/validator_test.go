package fulfillment

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleOrderJSON = `{
	"_id": "order_12345",
	"contactSnapshot": {
		"firstName": "John",
		"lastName": "Doe",
		"email": "john@example.com",
		"address1": "123 Main St",
		"city": "New York",
		"postalCode": "10001",
		"country": "United States"
	},
	"items": [
		{"name": "Premium Widget", "qty": 2, "price": {"sku": "WIDGET-001", "amount": 29.99}}
	],
	"amount": 59.98,
	"currency": "USD"
}`

func fieldCodes(verr *ValidationError) map[string]string {
	out := make(map[string]string, len(verr.Fields))
	for _, f := range verr.Fields {
		out[f.Field] = f.Code
	}
	return out
}

func requireValidationError(t *testing.T, err error) *ValidationError {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)
	return verr
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

func TestDecodeInboundOrder_Valid(t *testing.T) {
	order, err := DecodeInboundOrder([]byte(exampleOrderJSON))
	require.NoError(t, err)

	assert.Equal(t, "order_12345", order.ID)
	assert.Equal(t, "John", order.Contact.FirstName)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Qty)
	assert.True(t, decimal.RequireFromString("29.99").Equal(order.Items[0].Price.Amount.Decimal))
	assert.True(t, order.Amount.Valid)
}

func TestDecodeInboundOrder_TotalMismatch(t *testing.T) {
	raw := `{"_id":"order_1","contactSnapshot":{"address1":"1 Main","city":"X","postalCode":"1","country":"US"},
		"items":[{"name":"Widget","qty":2,"price":{"sku":"W-1","amount":29.99}}],"amount":99.99,"currency":"USD"}`

	order, err := DecodeInboundOrder([]byte(raw))
	assert.Nil(t, order)

	verr := requireValidationError(t, err)
	assert.Equal(t, FieldCodeTotalMismatch, fieldCodes(verr)["amount"])
	assert.Equal(t, CodeValidation, ErrorCode(err))
}

func TestDecodeInboundOrder_WithinTolerance(t *testing.T) {
	raw := `{"_id":"order_1","contactSnapshot":{"address1":"1 Main","city":"X","postalCode":"1","country":"US"},
		"items":[{"name":"Widget","qty":3,"price":{"sku":"W-1","amount":3.333}}],"amount":10.00,"currency":"USD"}`

	_, err := DecodeInboundOrder([]byte(raw))
	assert.NoError(t, err)
}

func TestDecodeInboundOrder_CollectsAllViolations(t *testing.T) {
	raw := `{"contactSnapshot":{"address1":"1 Main","city":"X","postalCode":"1","country":"Atlantis","email":"nope"},
		"items":[{"name":"","qty":0,"price":{"amount":-1}}],"currency":"QQQ"}`

	_, err := DecodeInboundOrder([]byte(raw))
	verr := requireValidationError(t, err)
	codes := fieldCodes(verr)

	assert.Equal(t, "required", codes["_id"])
	assert.Equal(t, "required", codes["amount"])
	assert.Equal(t, "required", codes["items[0].name"])
	assert.Equal(t, "gte", codes["items[0].qty"])
	assert.Equal(t, "required", codes["items[0].price.sku"])
	assert.Equal(t, "gte", codes["items[0].price.amount"])
	assert.Equal(t, FieldCodeUnknownCurrency, codes["currency"])
	assert.Equal(t, FieldCodeUnrecognizedCountry, codes["contactSnapshot.country"])
	assert.Equal(t, FieldCodeInvalidEmail, codes["contactSnapshot.email"])
	assert.Equal(t, CodeValidation, verr.ErrorCode())

	var ucErr *UnrecognizedCountryError
	assert.True(t, errors.As(err, &ucErr))
}

func TestDecodeInboundOrder_NoItems(t *testing.T) {
	raw := `{"_id":"order_1","contactSnapshot":{"address1":"1 Main","city":"X","postalCode":"1","country":"US"},
		"items":[],"amount":0,"currency":"USD"}`

	_, err := DecodeInboundOrder([]byte(raw))
	verr := requireValidationError(t, err)
	assert.Equal(t, "min", fieldCodes(verr)["items"])
}

func TestDecodeInboundOrder_OnlyCountryFails(t *testing.T) {
	raw := `{"_id":"order_1","contactSnapshot":{"address1":"1 Main","city":"X","postalCode":"1","country":"Narnia"},
		"items":[{"name":"Widget","qty":1,"price":{"sku":"W-1","amount":5}}],"amount":5,"currency":"USD"}`

	_, err := DecodeInboundOrder([]byte(raw))
	require.Error(t, err)
	assert.Equal(t, CodeUnrecognizedCountry, ErrorCode(err))
}

func TestDecodeInboundOrder_EmptyAddress(t *testing.T) {
	raw := `{"_id":"order_1","contactSnapshot":{"firstName":"John"},
		"items":[{"name":"Widget","qty":1,"price":{"sku":"W-1","amount":5}}],"amount":5,"currency":"USD"}`

	_, err := DecodeInboundOrder([]byte(raw))
	verr := requireValidationError(t, err)
	assert.Equal(t, FieldCodeEmptyAddress, fieldCodes(verr)["contactSnapshot"])
	assert.ErrorIs(t, err, ErrEmptyAddress)
}

func TestDecodeInboundOrder_TypeMismatch(t *testing.T) {
	// qty of the second item is a string, amount is missing, currency is too
	// short and the contact has no address. All four are reported together.
	raw := `{"_id":"order_1","contactSnapshot":{},
		"items":[
			{"name":"Widget","qty":1,"price":{"sku":"W-1","amount":5}},
			{"name":"Gadget","qty":"two","price":{"sku":"G-1","amount":3}}
		],
		"currency":"US"}`

	_, err := DecodeInboundOrder([]byte(raw))
	verr := requireValidationError(t, err)

	assert.Equal(t, map[string]string{
		"items[1].qty":    FieldCodeTypeMismatch,
		"amount":          "required",
		"currency":        "len",
		"contactSnapshot": FieldCodeEmptyAddress,
	}, fieldCodes(verr))
	require.Len(t, verr.Fields, 4, "qty must not also be reported as gte")
	assert.Equal(t, "expected int, got string", verr.Fields[0].Message)
	assert.ErrorIs(t, err, ErrEmptyAddress)
}

func TestParseInboundOrder_TypeMismatchShadowsNestedRules(t *testing.T) {
	raw := `{"_id":"order_1","contactSnapshot":{"address1":"1 Main","city":"X","postalCode":"1","country":"US"},
		"items":[{"name":"Widget","qty":1,"price":"free"}],"amount":5,"currency":"USD"}`

	order, err := ParseInboundOrder([]byte(raw))
	assert.Nil(t, order)
	verr := requireValidationError(t, err)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "items[0].price", verr.Fields[0].Field)
	assert.Equal(t, FieldCodeTypeMismatch, verr.Fields[0].Code)
}

func TestParseInboundOrder_TypeMismatchAtTopLevel(t *testing.T) {
	raw := `{"_id":"order_1","contactSnapshot":{"address1":"1 Main","city":"X","postalCode":"1","country":"US"},
		"items":[{"name":"Widget","qty":1,"price":{"sku":"W-1","amount":5}}],"amount":5,"currency":840}`

	_, err := ParseInboundOrder([]byte(raw))
	verr := requireValidationError(t, err)
	assert.Equal(t, map[string]string{"currency": FieldCodeTypeMismatch}, fieldCodes(verr))
}

func TestDecodeInboundOrder_BlankID(t *testing.T) {
	raw := `{"_id":"   ","contactSnapshot":{"address1":"1 Main","city":"X","postalCode":"1","country":"US"},
		"items":[{"name":"Widget","qty":1,"price":{"sku":"W-1","amount":5}}],"amount":5,"currency":"USD"}`

	_, err := DecodeInboundOrder([]byte(raw))
	verr := requireValidationError(t, err)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "_id", verr.Fields[0].Field)
	assert.Equal(t, "notblank", verr.Fields[0].Code)
	assert.Equal(t, "Must not be blank", verr.Fields[0].Message)
}

func TestDecodeInboundOrder_MalformedJSON(t *testing.T) {
	_, err := DecodeInboundOrder([]byte(`{"_id": `))
	verr := requireValidationError(t, err)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, FieldCodeMalformedJSON, verr.Fields[0].Code)
}

func TestDecodeInboundOrder_ZeroPriceIsPresent(t *testing.T) {
	raw := `{"_id":"order_1","contactSnapshot":{"address1":"1 Main","city":"X","postalCode":"1","country":"US"},
		"items":[{"name":"Free sample","qty":1,"price":{"sku":"S-1","amount":0}}],"amount":0,"currency":"USD"}`

	_, err := DecodeInboundOrder([]byte(raw))
	assert.NoError(t, err)
}

func TestValidateInbound_Nil(t *testing.T) {
	err := ValidateInbound(nil)
	requireValidationError(t, err)
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

func validRequest() *FulfillmentRequest {
	return &FulfillmentRequest{
		WarehouseID:  "warehouse_001",
		OrderNumber:  "ECOM-order_1",
		DeliveryDate: "2024-01-16",
		TotalValue:   decimal.RequireFromString("59.98"),
		Currency:     "USD",
		ShippingAddress: ShippingAddress{
			Name:        "John Doe",
			Address1:    "123 Main St",
			PostalCode:  "10001",
			City:        "New York",
			CountryCode: "US",
		},
		LineItems: []LineItem{{
			LineNumber:  1,
			ProductSKU:  "WIDGET-001",
			Quantity:    2,
			ProductName: "Premium Widget",
			UnitPrice:   decimal.RequireFromString("29.99"),
			TotalPrice:  decimal.RequireFromString("59.98"),
		}},
		ShippingMethod: DefaultShippingMethod,
		Priority:       DefaultPriority,
	}
}

func TestValidateOutbound_Valid(t *testing.T) {
	assert.NoError(t, ValidateOutbound(validRequest()))
}

func TestValidateOutbound_Violations(t *testing.T) {
	req := validRequest()
	req.WarehouseID = ""
	req.OrderNumber = "order_1"
	req.DeliveryDate = "16/01/2024"
	req.Currency = "usd"
	req.ShippingAddress.CountryCode = "USA"
	req.ShippingAddress.City = ""
	req.LineItems[0].LineNumber = 2
	req.LineItems[0].TotalPrice = decimal.RequireFromString("60.00")

	err := ValidateOutbound(req)
	verr := requireValidationError(t, err)
	codes := fieldCodes(verr)

	assert.Equal(t, "required", codes["warehouseId"])
	assert.Equal(t, "startswith", codes["orderNumber"])
	assert.Equal(t, FieldCodeInvalidDate, codes["deliveryDate"])
	assert.Equal(t, "uppercase", codes["currency"])
	assert.Equal(t, "len", codes["shippingAddress.countryCode"])
	assert.Equal(t, "required", codes["shippingAddress.city"])
	assert.Equal(t, FieldCodeLineNumberSequence, codes["lineItems[0].lineNumber"])
	assert.Equal(t, FieldCodeLineTotalMismatch, codes["lineItems[0].totalPrice"])
}

func TestValidateOutbound_RequiresLineItems(t *testing.T) {
	req := validRequest()
	req.LineItems = nil

	verr := requireValidationError(t, ValidateOutbound(req))
	assert.Equal(t, "required", fieldCodes(verr)["lineItems"])
}

func TestValidationError_Message(t *testing.T) {
	verr := NewValidationError("inbound order")
	assert.NoError(t, verr.OrNil())

	verr.Add("amount", FieldCodeTotalMismatch, "Order total 99.99 does not match line items total 59.98", "99.99")
	verr.Add("_id", "required", "This field is required", "")

	assert.Equal(t,
		"invalid inbound order: amount: Order total 99.99 does not match line items total 59.98; _id: This field is required",
		verr.Error())
}

func TestValidationError_MergeKeepsCauses(t *testing.T) {
	rules := NewValidationError(subjectInbound)
	rules.Add("items[0].qty", "gte", "Must be greater than or equal to 1", "0")
	rules.AddCause("contactSnapshot", FieldCodeEmptyAddress, "", ErrEmptyAddress)
	rules.Add("items[0]", "required", "This field is required", "")

	verr := NewValidationError(subjectInbound)
	verr.Add("items[0].qty", FieldCodeTypeMismatch, "expected int, got string", "")
	verr.Merge(rules, "items[0].qty")

	assert.Equal(t, map[string]string{
		"items[0].qty":    FieldCodeTypeMismatch,
		"contactSnapshot": FieldCodeEmptyAddress,
	}, fieldCodes(verr))
	assert.ErrorIs(t, verr, ErrEmptyAddress)
	assert.Len(t, verr.Unwrap(), 1)
}
