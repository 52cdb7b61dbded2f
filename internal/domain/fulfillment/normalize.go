package fulfillment

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Normalizer errors
var (
	ErrNegativeAmount  = errors.New("fulfillment: amount must not be negative")
	ErrUnknownCurrency = errors.New("fulfillment: unknown currency code")
	ErrInvalidEmail    = errors.New("fulfillment: email address must contain @")
	ErrInvalidPhone    = errors.New("fulfillment: phone number is not well formed")
	ErrEmptyAddress    = errors.New("fulfillment: street, city, postal code and country are all empty")
)

// minPhoneDigits is the shortest subscriber number accepted.
const minPhoneDigits = 7

// NormalizeCurrency returns the uppercase ISO 4217 code for s.
func NormalizeCurrency(s string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, s)
	}
	return unit.String(), nil
}

// CurrencyScale returns the number of minor-unit decimals for an ISO currency code.
// USD-like currencies use 2, JPY uses 0.
func CurrencyScale(code string) (int32, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}

// NormalizeAmount rounds amount to the minor-unit precision of currencyCode
// using round-half-to-even. Negative amounts are rejected.
func NormalizeAmount(amount decimal.Decimal, currencyCode string) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNegativeAmount, amount.String())
	}
	scale, err := CurrencyScale(currencyCode)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.RoundBank(scale), nil
}

// JoinName trims each part and joins the non-empty ones with single spaces.
func JoinName(parts ...string) string {
	fields := make([]string, 0, len(parts))
	for _, p := range parts {
		if f := strings.Join(strings.Fields(p), " "); f != "" {
			fields = append(fields, f)
		}
	}
	return strings.Join(fields, " ")
}

// NormalizeEmail trims the address and checks it is syntactically an address.
// Deliverability is not verified.
func NormalizeEmail(s string) (string, error) {
	email := strings.TrimSpace(s)
	if !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, s)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, s)
	}
	return email, nil
}

// NormalizePhone trims the number and checks it only contains dialing characters
// and enough digits.
func NormalizePhone(s string) (string, error) {
	phone := strings.TrimSpace(s)
	digits := 0
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, s)
		}
	}
	if digits < minPhoneDigits {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, s)
	}
	return phone, nil
}

// AssembleAddress builds the shipping address from a contact snapshot.
// Contact channels are expected to be validated already; empty ones are disabled.
func AssembleAddress(contact ContactSnapshot) (ShippingAddress, error) {
	street := strings.TrimSpace(contact.Address1)
	city := strings.TrimSpace(contact.City)
	postal := strings.TrimSpace(contact.PostalCode)
	country := strings.TrimSpace(contact.Country)
	if street == "" && city == "" && postal == "" && country == "" {
		return ShippingAddress{}, ErrEmptyAddress
	}

	code, err := NormalizeCountry(country)
	if err != nil {
		return ShippingAddress{}, err
	}

	addr := ShippingAddress{
		Name:        JoinName(contact.FirstName, contact.LastName),
		Address1:    street,
		Address2:    strings.TrimSpace(contact.Address2),
		PostalCode:  postal,
		City:        city,
		CountryCode: code,
	}
	if id := strings.TrimSpace(contact.ID); id != "" {
		addr.CustomerNumber = CustomerNumberPrefix + id
	}
	if phone := strings.TrimSpace(contact.Phone); phone != "" {
		addr.PhoneNotification = Notification{Enabled: true, Value: phone}
	}
	if email := strings.TrimSpace(contact.Email); email != "" {
		addr.EmailNotification = Notification{Enabled: true, Value: email}
	}
	return addr, nil
}
