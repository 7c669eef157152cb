// Package money provides fixed-point arithmetic for currency amounts.
// Amounts are stored as int64 minor units (cents, or whole pesos for
// zero-decimal currencies) to avoid floating-point drift.
package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrCurrencyMismatch = errors.New("currency_mismatch")
)

// zeroDecimal lists currencies whose minor unit equals the major unit.
var zeroDecimal = map[string]bool{
	"CLP": true,
	"JPY": true,
	"KRW": true,
	"PYG": true,
	"VND": true,
}

// Exponent returns the number of minor-unit digits for a currency.
func Exponent(currency string) int {
	if zeroDecimal[strings.ToUpper(strings.TrimSpace(currency))] {
		return 0
	}
	return 2
}

// Amount is a currency amount in minor units.
type Amount struct {
	Value    int64
	Currency string
}

func New(value int64, currency string) Amount {
	return Amount{Value: value, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

func (a Amount) IsZero() bool     { return a.Value == 0 }
func (a Amount) IsNegative() bool { return a.Value < 0 }
func (a Amount) IsPositive() bool { return a.Value > 0 }

func (a Amount) Add(b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, ErrCurrencyMismatch
	}
	return Amount{Value: a.Value + b.Value, Currency: a.Currency}, nil
}

func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, ErrCurrencyMismatch
	}
	return Amount{Value: a.Value - b.Value, Currency: a.Currency}, nil
}

// String renders the amount with the currency's minor-unit exponent,
// e.g. 150000 CLP -> "150000", 150000 USD -> "1500.00".
func (a Amount) String() string {
	exp := Exponent(a.Currency)
	if exp == 0 {
		return strconv.FormatInt(a.Value, 10)
	}
	div := int64(1)
	for i := 0; i < exp; i++ {
		div *= 10
	}
	major := a.Value / div
	minor := a.Value % div
	if minor < 0 {
		minor = -minor
	}
	return fmt.Sprintf("%d.%0*d", major, exp, minor)
}

// Parse converts a decimal string into minor units for the given currency.
// It rejects more fractional digits than the currency allows.
func Parse(raw string, currency string) (Amount, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Amount{}, ErrInvalidAmount
	}
	negative := false
	if strings.HasPrefix(raw, "-") {
		negative = true
		raw = raw[1:]
	}

	whole, frac, _ := strings.Cut(raw, ".")
	if whole == "" {
		whole = "0"
	}
	exp := Exponent(currency)
	if len(frac) > exp {
		return Amount{}, ErrInvalidAmount
	}
	for len(frac) < exp {
		frac += "0"
	}

	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return Amount{}, ErrInvalidAmount
	}
	value := major
	for i := 0; i < exp; i++ {
		value *= 10
	}
	if frac != "" {
		minor, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return Amount{}, ErrInvalidAmount
		}
		value += minor
	}
	if negative {
		value = -value
	}
	return New(value, currency), nil
}
