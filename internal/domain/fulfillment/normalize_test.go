package fulfillment

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// NormalizeCountry Tests
// ---------------------------------------------------------------------------

func TestNormalizeCountry(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"full name", "United States", "US"},
		{"canonical code unchanged", "US", "US"},
		{"lowercase code", "se", "SE"},
		{"extra whitespace", "  united   states ", "US"},
		{"mixed case name", "SWEDEN", "SE"},
		{"alias uk", "UK", "GB"},
		{"alias usa", "USA", "US"},
		{"alias holland", "Holland", "NL"},
		{"japan", "Japan", "JP"},
		{"singapore", "singapore", "SG"},
		{"display name not in alias table", "Brazil", "BR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := NormalizeCountry(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, code)
		})
	}
}

func TestNormalizeCountry_Idempotent(t *testing.T) {
	first, err := NormalizeCountry("United States")
	require.NoError(t, err)
	second, err := NormalizeCountry(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNormalizeCountry_Unrecognized(t *testing.T) {
	for _, input := range []string{"", "   ", "Atlantis", "Middle Earth"} {
		t.Run(input, func(t *testing.T) {
			code, err := NormalizeCountry(input)
			assert.Empty(t, code)

			var ucErr *UnrecognizedCountryError
			require.True(t, errors.As(err, &ucErr))
			assert.Equal(t, input, ucErr.Input)
			assert.Equal(t, CodeUnrecognizedCountry, ErrorCode(err))
		})
	}
}

// ---------------------------------------------------------------------------
// Currency and amount Tests
// ---------------------------------------------------------------------------

func TestNormalizeCurrency(t *testing.T) {
	code, err := NormalizeCurrency(" usd ")
	require.NoError(t, err)
	assert.Equal(t, "USD", code)

	_, err = NormalizeCurrency("QQQ")
	assert.ErrorIs(t, err, ErrUnknownCurrency)

	_, err = NormalizeCurrency("")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestCurrencyScale(t *testing.T) {
	tests := []struct {
		code  string
		scale int32
	}{
		{"USD", 2},
		{"EUR", 2},
		{"SEK", 2},
		{"JPY", 0},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			scale, err := CurrencyScale(tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.scale, scale)
		})
	}
}

func TestNormalizeAmount_BankersRounding(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		expected string
	}{
		{"already two decimals", "29.99", "USD", "29.99"},
		{"half rounds to even down", "2.345", "USD", "2.34"},
		{"half rounds to even up", "2.355", "USD", "2.36"},
		{"above half rounds up", "2.3451", "USD", "2.35"},
		{"zero decimal currency", "100.5", "JPY", "100"},
		{"zero decimal currency odd", "101.5", "JPY", "102"},
		{"zero", "0", "USD", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAmount(decimal.RequireFromString(tt.amount), tt.currency)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.expected).Equal(got), "got %s", got)
		})
	}
}

func TestNormalizeAmount_RejectsNegative(t *testing.T) {
	_, err := NormalizeAmount(decimal.RequireFromString("-0.01"), "USD")
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestNormalizeAmount_UnknownCurrency(t *testing.T) {
	_, err := NormalizeAmount(decimal.NewFromInt(1), "QQQ")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}

// ---------------------------------------------------------------------------
// Name, email, phone and address Tests
// ---------------------------------------------------------------------------

func TestJoinName(t *testing.T) {
	assert.Equal(t, "John Doe", JoinName(" John ", "Doe "))
	assert.Equal(t, "Mary Ann Smith", JoinName("Mary  Ann", "Smith"))
	assert.Equal(t, "Doe", JoinName("", "Doe"))
	assert.Equal(t, "", JoinName("", "  "))
}

func TestNormalizeEmail(t *testing.T) {
	email, err := NormalizeEmail("  john@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "john@example.com", email)

	for _, bad := range []string{"john.example.com", "", "@"} {
		_, err := NormalizeEmail(bad)
		assert.ErrorIs(t, err, ErrInvalidEmail, bad)
	}
}

func TestNormalizePhone(t *testing.T) {
	for _, good := range []string{"+1-555-0123", "(08) 123 45 67", "0701234567"} {
		phone, err := NormalizePhone(good)
		require.NoError(t, err, good)
		assert.Equal(t, good, phone)
	}
	for _, bad := range []string{"555", "call me", "12+345678", "+46 70 abc 12"} {
		_, err := NormalizePhone(bad)
		assert.ErrorIs(t, err, ErrInvalidPhone, bad)
	}
}

func TestAssembleAddress(t *testing.T) {
	addr, err := AssembleAddress(ContactSnapshot{
		ID:         "67890",
		FirstName:  " John",
		LastName:   "Doe ",
		Email:      "john@example.com",
		Address1:   " 123 Main St ",
		Address2:   "Apt 4B",
		City:       "New York",
		PostalCode: "10001",
		Country:    "United States",
	})
	require.NoError(t, err)

	assert.Equal(t, "CUSTOMER-67890", addr.CustomerNumber)
	assert.Equal(t, "John Doe", addr.Name)
	assert.Equal(t, "123 Main St", addr.Address1)
	assert.Equal(t, "Apt 4B", addr.Address2)
	assert.Equal(t, "US", addr.CountryCode)
	assert.Equal(t, Notification{Enabled: true, Value: "john@example.com"}, addr.EmailNotification)
	assert.Equal(t, Notification{}, addr.PhoneNotification)
}

func TestAssembleAddress_AllPartsEmpty(t *testing.T) {
	_, err := AssembleAddress(ContactSnapshot{FirstName: "John", Address1: "  "})
	assert.ErrorIs(t, err, ErrEmptyAddress)
}

func TestAssembleAddress_UnresolvableCountryIsNotDefaulted(t *testing.T) {
	_, err := AssembleAddress(ContactSnapshot{Address1: "1 Road", City: "Town", PostalCode: "1", Country: "Narnia"})

	var ucErr *UnrecognizedCountryError
	require.ErrorAs(t, err, &ucErr)
	assert.Equal(t, "Narnia", ucErr.Input)
}
