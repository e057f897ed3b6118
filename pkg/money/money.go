// Package money provides currency-safe financial arithmetic using integer minor
// units and the Fowler Money pattern. Statement amounts and balances are never
// represented as binary floats anywhere in the ingestion pipeline.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	USD = "USD" // US Dollar
	EUR = "EUR" // Euro
	GBP = "GBP" // British Pound
	CHF = "CHF" // Swiss Franc
	JPY = "JPY" // Japanese Yen (no decimal places)
)

// Money represents a monetary value with currency.
// It wraps go-money for safe arithmetic and shopspring/decimal for precision parsing.
type Money struct {
	m *money.Money
}

// New creates a new Money value from minor units (cents) and currency code.
// For JPY and other zero-decimal currencies, amount is the actual value.
func New(amountCents int64, currencyCode string) *Money {
	return &Money{m: money.New(amountCents, currencyCode)}
}

// NewFromDecimal creates Money from a decimal.Decimal major-unit value.
// This is the safest way to create Money from parsed statement text.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	currency := money.GetCurrency(currencyCode)
	if currency == nil {
		currency = money.GetCurrency(USD)
	}

	multiplier := decimal.New(1, int32(currency.Fraction))
	cents := amount.Mul(multiplier).Round(0).IntPart()

	return New(cents, currencyCode)
}

// NewFromString parses a plain decimal string like "100.50" or "-250.00".
// Locale-specific cleanup (thousands separators, CR/DR suffixes) is the
// caller's responsibility; this only accepts canonical dot-decimal text.
func NewFromString(amount string, currencyCode string) (*Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return NewFromDecimal(d, currencyCode), nil
}

// Zero returns a zero Money value for the given currency
func Zero(currencyCode string) *Money {
	return New(0, currencyCode)
}

// MinorUnits returns the number of decimal places for a currency code
// (2 for USD/EUR, 0 for JPY). Unknown codes default to 2.
func MinorUnits(currencyCode string) int {
	currency := money.GetCurrency(currencyCode)
	if currency == nil {
		return 2
	}
	return currency.Fraction
}

// Amount returns the amount in minor units (cents)
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 currency code
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

// IsZero returns true if the amount is zero
func (m *Money) IsZero() bool {
	return m == nil || m.m == nil || m.m.IsZero()
}

// IsNegative returns true if the amount is less than zero
func (m *Money) IsNegative() bool {
	return m != nil && m.m != nil && m.m.IsNegative()
}

// IsPositive returns true if the amount is greater than zero
func (m *Money) IsPositive() bool {
	return m != nil && m.m != nil && m.m.IsPositive()
}

// Abs returns the absolute value
func (m *Money) Abs() *Money {
	if m == nil || m.m == nil {
		return Zero(USD)
	}
	return &Money{m: m.m.Absolute()}
}

// Negate returns the negated value
func (m *Money) Negate() *Money {
	if m == nil || m.m == nil {
		return Zero(USD)
	}
	return &Money{m: m.m.Negative()}
}

// Add adds two Money values. Returns error if currencies don't match.
func (m *Money) Add(other *Money) (*Money, error) {
	if m == nil || m.m == nil {
		return other, nil
	}
	if other == nil || other.m == nil {
		return m, nil
	}

	result, err := m.m.Add(other.m)
	if err != nil {
		return nil, err
	}
	return &Money{m: result}, nil
}

// Subtract subtracts other from m. Returns error if currencies don't match.
func (m *Money) Subtract(other *Money) (*Money, error) {
	if m == nil || m.m == nil {
		if other == nil {
			return Zero(USD), nil
		}
		return other.Negate(), nil
	}
	if other == nil || other.m == nil {
		return m, nil
	}

	result, err := m.m.Subtract(other.m)
	if err != nil {
		return nil, err
	}
	return &Money{m: result}, nil
}

// Equals returns true if both values are equal
func (m *Money) Equals(other *Money) bool {
	if m == nil || m.m == nil {
		return other == nil || other.m == nil || other.IsZero()
	}
	if other == nil || other.m == nil {
		return m.IsZero()
	}
	eq, _ := m.m.Equals(other.m)
	return eq
}

// SameCurrency returns true if both have the same currency
func (m *Money) SameCurrency(other *Money) bool {
	if m == nil || m.m == nil || other == nil || other.m == nil {
		return false
	}
	return m.m.SameCurrency(other.m)
}

// WithinTolerance reports whether |m - other| is at most tol minor units.
// Reconciliation uses tol = 1 (one cent).
func (m *Money) WithinTolerance(other *Money, tol int64) bool {
	if !m.SameCurrency(other) {
		return false
	}
	diff := m.Amount() - other.Amount()
	if diff < 0 {
		diff = -diff
	}
	return diff <= tol
}

// ToDecimal converts to decimal.Decimal for precise calculations
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	currency := m.m.Currency()
	d := decimal.NewFromInt(m.m.Amount())
	divisor := decimal.New(1, int32(currency.Fraction))
	return d.Div(divisor)
}

// String returns the amount as a decimal string (e.g., "1234.56")
func (m *Money) String() string {
	if m == nil || m.m == nil {
		return "0.00"
	}
	return m.ToDecimal().StringFixed(int32(m.m.Currency().Fraction))
}

// Display returns a formatted string for display (e.g., "$1,234.56")
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return "$0.00"
	}
	return m.m.Display()
}

// Sum adds a slice of Money values sharing one currency.
// An empty slice sums to zero in the given currency.
func Sum(currencyCode string, values []*Money) (*Money, error) {
	total := Zero(currencyCode)
	for _, v := range values {
		if v == nil || v.m == nil {
			continue
		}
		if v.Currency() != currencyCode {
			return nil, fmt.Errorf("cannot sum %s into %s total", v.Currency(), currencyCode)
		}
		next, err := total.Add(v)
		if err != nil {
			return nil, err
		}
		total = next
	}
	return total, nil
}

// JSON marshaling keeps amounts as integer minor units so round-trips are exact.
func (m *Money) MarshalJSON() ([]byte, error) {
	if m == nil || m.m == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(map[string]interface{}{
		"amount":   m.Amount(),
		"currency": m.Currency(),
		"display":  m.String(),
	})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var v struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Currency == "" {
		return errors.New("money: missing currency")
	}
	m.m = money.New(v.Amount, v.Currency)
	return nil
}
