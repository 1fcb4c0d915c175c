package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Validation errors for money and rate construction.
var (
	ErrInvalidMoney = errors.New("invalid money amount")
	ErrInvalidRate  = errors.New("invalid rate")
)

const minorUnitPlaces = 2

// Money is a fixed-point decimal amount in the ledger currency.
// All ledger arithmetic goes through this type; binary floats never do.
type Money struct {
	value decimal.Decimal
}

// Zero returns the zero amount.
func Zero() Money {
	return Money{value: decimal.Zero}
}

// FromDecimal wraps a decimal value, normalized to minor-unit precision.
func FromDecimal(value decimal.Decimal) Money {
	return Money{value: value.Round(minorUnitPlaces)}
}

// FromCents builds an amount from integer minor units.
func FromCents(cents int64) Money {
	return Money{value: decimal.New(cents, -minorUnitPlaces)}
}

// FromString parses a decimal string such as "125.40".
func FromString(raw string) (Money, error) {
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidMoney, raw)
	}
	return FromDecimal(parsed), nil
}

// MustFromString parses or panics. Test helper and constant initializer only.
func MustFromString(raw string) Money {
	amount, err := FromString(raw)
	if err != nil {
		panic(err)
	}
	return amount
}

// Decimal returns the underlying decimal value.
func (amount Money) Decimal() decimal.Decimal {
	return amount.value
}

// Cents returns the amount in integer minor units.
func (amount Money) Cents() int64 {
	return amount.value.Shift(minorUnitPlaces).IntPart()
}

// String renders the amount with minor-unit precision.
func (amount Money) String() string {
	return amount.value.StringFixed(minorUnitPlaces)
}

func (amount Money) Add(other Money) Money {
	return Money{value: amount.value.Add(other.value)}
}

func (amount Money) Sub(other Money) Money {
	return Money{value: amount.value.Sub(other.value)}
}

func (amount Money) Neg() Money {
	return Money{value: amount.value.Neg()}
}

// MulRate applies a rate and rounds to minor-unit precision.
func (amount Money) MulRate(rate Rate) Money {
	return Money{value: amount.value.Mul(rate.value).Round(minorUnitPlaces)}
}

func (amount Money) Min(other Money) Money {
	if amount.value.LessThan(other.value) {
		return amount
	}
	return other
}

func (amount Money) Max(other Money) Money {
	if amount.value.GreaterThan(other.value) {
		return amount
	}
	return other
}

func (amount Money) IsZero() bool     { return amount.value.IsZero() }
func (amount Money) IsNegative() bool { return amount.value.IsNegative() }
func (amount Money) IsPositive() bool { return amount.value.IsPositive() }

func (amount Money) Equal(other Money) bool {
	return amount.value.Equal(other.value)
}

func (amount Money) LessThan(other Money) bool {
	return amount.value.LessThan(other.value)
}

func (amount Money) GreaterThan(other Money) bool {
	return amount.value.GreaterThan(other.value)
}

// MarshalJSON renders the amount as a decimal string.
func (amount Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + amount.String() + `"`), nil
}

// UnmarshalJSON accepts a decimal string or bare number.
func (amount *Money) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	parsed, err := FromString(raw)
	if err != nil {
		return err
	}
	*amount = parsed
	return nil
}

// Rate is a dimensionless multiplier such as a profit rate, in [0, 1].
type Rate struct {
	value decimal.Decimal
}

// ZeroRate returns the zero rate.
func ZeroRate() Rate {
	return Rate{value: decimal.Zero}
}

// NewRate validates a decimal rate.
func NewRate(value decimal.Decimal) (Rate, error) {
	if value.IsNegative() || value.GreaterThan(decimal.NewFromInt(1)) {
		return Rate{}, fmt.Errorf("%w: must be within [0, 1]", ErrInvalidRate)
	}
	return Rate{value: value}, nil
}

// NewRateFromString parses a rate string such as "0.05".
func NewRateFromString(raw string) (Rate, error) {
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return Rate{}, fmt.Errorf("%w: %q", ErrInvalidRate, raw)
	}
	return NewRate(parsed)
}

// MustRateFromString parses or panics. Test helper and constant initializer only.
func MustRateFromString(raw string) Rate {
	rate, err := NewRateFromString(raw)
	if err != nil {
		panic(err)
	}
	return rate
}

// Decimal returns the underlying decimal value.
func (rate Rate) Decimal() decimal.Decimal {
	return rate.value
}

// String renders the rate as a plain decimal.
func (rate Rate) String() string {
	return rate.value.String()
}

func (rate Rate) IsZero() bool { return rate.value.IsZero() }
