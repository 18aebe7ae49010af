package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyPrecision is the number of decimal places in the settlement currency.
const CurrencyPrecision = 2

var minorUnitsPerMajor = decimal.New(1, CurrencyPrecision)

// Money is a fixed-point amount held as minor units (cents) of the settlement currency.
type Money int64

// ParseMoney parses a decimal string such as "150" or "6.50".
// Amounts with more than CurrencyPrecision fractional digits are rejected rather than rounded.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts a decimal to minor units, refusing sub-cent precision.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if !d.Equal(d.Round(CurrencyPrecision)) {
		return 0, fmt.Errorf("amount %s exceeds %d decimal places", d.String(), CurrencyPrecision)
	}
	return Money(d.Mul(minorUnitsPerMajor).IntPart()), nil
}

// MustParseMoney is ParseMoney for literals in tests and defaults.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -CurrencyPrecision)
}

// MulRate scales the amount by rate, rounding half away from zero to currency precision.
func (m Money) MulRate(rate decimal.Decimal) Money {
	scaled := m.Decimal().Mul(rate).Round(CurrencyPrecision)
	return Money(scaled.Mul(minorUnitsPerMajor).IntPart())
}

func (m Money) IsPositive() bool { return m > 0 }

// String renders the amount with exactly CurrencyPrecision decimals, e.g. "6.00".
func (m Money) String() string {
	return m.Decimal().StringFixed(CurrencyPrecision)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both "12.50" and 12.50.
func (m *Money) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		*m = 0
		return nil
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
