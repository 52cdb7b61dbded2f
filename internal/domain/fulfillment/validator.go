package fulfillment

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/shopspring/decimal"
)

// TotalTolerance is the largest accepted difference between an order total
// and the sum of its line items.
var TotalTolerance = decimal.New(1, -2)

const (
	subjectInbound  = "inbound order"
	subjectOutbound = "fulfillment request"
)

var validate = newValidator()

// newValidator builds the struct validator used for both schemas.
// Field paths in errors use JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// A null or missing decimal reads as no value, so "required" applies.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		nd, ok := field.Interface().(decimal.NullDecimal)
		if !ok || !nd.Valid {
			return nil
		}
		// A pointer keeps a zero amount distinct from a missing one.
		f, _ := nd.Decimal.Float64()
		return &f
	}, decimal.NullDecimal{})
	return v
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

// DecodeInboundOrder decodes a raw platform payload into an InboundOrder and validates it.
func DecodeInboundOrder(raw []byte) (*InboundOrder, error) {
	order, err := ParseInboundOrder(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateInbound(order); err != nil {
		return nil, err
	}
	return order, nil
}

// ParseInboundOrder decodes a raw platform payload without validating it.
// Decode failures are reported as *ValidationError. When a field has the
// wrong JSON type the rest of the document still decodes, so the report also
// lists the rule violations found in it.
func ParseInboundOrder(raw []byte) (*InboundOrder, error) {
	var order InboundOrder
	err := json.Unmarshal(raw, &order)
	if err == nil {
		return &order, nil
	}

	verr := NewValidationError(subjectInbound)
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) {
		addDecodeError(verr, err)
		return nil, verr
	}

	path := typeMismatchPath(raw, typeErr)
	verr.Add(path, FieldCodeTypeMismatch,
		fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value), "")
	var rules *ValidationError
	if errors.As(ValidateInbound(&order), &rules) {
		verr.Merge(rules, path)
	}
	return nil, verr
}

func addDecodeError(verr *ValidationError, err error) {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		verr.Add("$", FieldCodeMalformedJSON,
			fmt.Sprintf("malformed JSON at offset %d: %v", syntaxErr.Offset, syntaxErr), "")
		return
	}
	verr.Add("$", FieldCodeMalformedJSON, err.Error(), "")
}

// typeMismatchPath turns the dotted field of a type error ("items.qty") into
// the indexed path validator errors use ("items[1].qty"). The decoder does not
// report array positions, so the raw document is walked to the first value
// whose JSON kind matches the error.
func typeMismatchPath(raw []byte, typeErr *json.UnmarshalTypeError) string {
	if typeErr.Field == "" {
		return "$"
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return typeErr.Field
	}
	kind, _, _ := strings.Cut(typeErr.Value, " ")
	if path, ok := findKind(doc, strings.Split(typeErr.Field, "."), "", kind); ok {
		return path
	}
	return typeErr.Field
}

func findKind(node any, segments []string, path, kind string) (string, bool) {
	if len(segments) == 0 {
		return path, jsonKind(node) == kind
	}
	switch n := node.(type) {
	case []any:
		for i, el := range n {
			if found, ok := findKind(el, segments, fmt.Sprintf("%s[%d]", path, i), kind); ok {
				return found, true
			}
		}
	case map[string]any:
		child, ok := n[segments[0]]
		if !ok {
			return "", false
		}
		next := segments[0]
		if path != "" {
			next = path + "." + next
		}
		return findKind(child, segments[1:], next, kind)
	}
	return "", false
}

// jsonKind names a decoded value the way UnmarshalTypeError.Value does.
func jsonKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "null"
	}
}

// ValidateInbound checks structure and business invariants of an inbound order.
// Every violation is reported, not only the first.
func ValidateInbound(order *InboundOrder) error {
	verr := NewValidationError(subjectInbound)
	if order == nil {
		verr.Add("$", "required", "order is required", "")
		return verr
	}
	collectStructErrors(verr, order)

	if len(order.Currency) == 3 {
		if _, err := NormalizeCurrency(order.Currency); err != nil {
			verr.Add("currency", FieldCodeUnknownCurrency, "Not a recognized ISO 4217 currency code", order.Currency)
		}
	}

	if order.Amount.Valid && allPricesPresent(order.Items) && len(order.Items) > 0 {
		sum := order.ItemsTotal()
		if order.Amount.Decimal.Sub(sum).Abs().GreaterThan(TotalTolerance) {
			verr.Add("amount", FieldCodeTotalMismatch,
				fmt.Sprintf("Order total %s does not match line items total %s", order.Amount.Decimal.String(), sum.String()),
				order.Amount.Decimal.String())
		}
	}

	validateContact(verr, order.Contact)
	return verr.OrNil()
}

func allPricesPresent(items []OrderItem) bool {
	for _, item := range items {
		if !item.Price.Amount.Valid {
			return false
		}
	}
	return true
}

func validateContact(verr *ValidationError, c ContactSnapshot) {
	street := strings.TrimSpace(c.Address1)
	city := strings.TrimSpace(c.City)
	postal := strings.TrimSpace(c.PostalCode)
	country := strings.TrimSpace(c.Country)

	if street == "" && city == "" && postal == "" && country == "" {
		verr.AddCause("contactSnapshot", FieldCodeEmptyAddress, "", ErrEmptyAddress)
	} else if _, err := NormalizeCountry(country); err != nil {
		verr.AddCause("contactSnapshot.country", FieldCodeUnrecognizedCountry, c.Country, err)
	}

	if strings.TrimSpace(c.Email) != "" {
		if _, err := NormalizeEmail(c.Email); err != nil {
			verr.AddCause("contactSnapshot.email", FieldCodeInvalidEmail, c.Email, err)
		}
	}
	if strings.TrimSpace(c.Phone) != "" {
		if _, err := NormalizePhone(c.Phone); err != nil {
			verr.AddCause("contactSnapshot.phone", FieldCodeInvalidPhone, c.Phone, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// ValidateOutbound checks a fulfillment request before it leaves the service.
func ValidateOutbound(req *FulfillmentRequest) error {
	verr := NewValidationError(subjectOutbound)
	if req == nil {
		verr.Add("$", "required", "request is required", "")
		return verr
	}
	collectStructErrors(verr, req)

	if req.DeliveryDate != "" {
		if _, err := time.Parse(DeliveryDateLayout, req.DeliveryDate); err != nil {
			verr.Add("deliveryDate", FieldCodeInvalidDate, "Must be a date formatted YYYY-MM-DD", req.DeliveryDate)
		}
	}
	if len(req.Currency) == 3 {
		if _, err := NormalizeCurrency(req.Currency); err != nil {
			verr.Add("currency", FieldCodeUnknownCurrency, "Not a recognized ISO 4217 currency code", req.Currency)
		}
	}
	if req.TotalValue.IsNegative() {
		verr.Add("totalValue", FieldCodeNegativeAmount, "Must not be negative", req.TotalValue.String())
	}
	if code := req.ShippingAddress.CountryCode; len(code) == 2 {
		if canonical, err := NormalizeCountry(code); err != nil || canonical != code {
			verr.Add("shippingAddress.countryCode", FieldCodeUnrecognizedCountry, "Not an ISO 3166 alpha-2 country code", code)
		}
	}

	for i, line := range req.LineItems {
		path := fmt.Sprintf("lineItems[%d]", i)
		if line.LineNumber != i+1 {
			verr.Add(path+".lineNumber", FieldCodeLineNumberSequence,
				fmt.Sprintf("Must be %d", i+1), fmt.Sprint(line.LineNumber))
		}
		if line.UnitPrice.IsNegative() {
			verr.Add(path+".unitPrice", FieldCodeNegativeAmount, "Must not be negative", line.UnitPrice.String())
		}
		expected := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		if line.TotalPrice.Sub(expected).Abs().GreaterThan(TotalTolerance) {
			verr.Add(path+".totalPrice", FieldCodeLineTotalMismatch,
				fmt.Sprintf("Must equal quantity x unit price (%s)", expected.String()), line.TotalPrice.String())
		}
	}
	return verr.OrNil()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// collectStructErrors runs tag validation and appends one FieldError per failure.
func collectStructErrors(verr *ValidationError, s interface{}) {
	err := validate.Struct(s)
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		verr.Add("$", "invalid", err.Error(), "")
		return
	}
	for _, fe := range verrs {
		value := ""
		if fe.Tag() != "required" {
			value = fmt.Sprint(fe.Value())
		}
		verr.Add(fieldPath(fe.Namespace()), fe.Tag(), validationMessage(fe), value)
	}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// validationMessage returns a human-readable message for a validator tag.
func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "notblank":
		return "Must not be blank"
	case "min":
		if e.Kind() == reflect.Slice {
			return "Must contain at least " + e.Param() + " entries"
		}
		return "Must be at least " + e.Param()
	case "len":
		return "Must be exactly " + e.Param() + " characters"
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "alpha":
		return "Must contain only letters"
	case "uppercase":
		return "Must be uppercase"
	case "startswith":
		return "Must start with " + e.Param()
	default:
		return "Invalid value"
	}
}
