package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Amounts are NUMERIC(14,2): two fractional digits, fourteen significant digits.
const (
	AmountScale     = 2
	AmountPrecision = 14
)

// amountLimit is the first value that no longer fits NUMERIC(14,2).
var amountLimit = decimal.New(1, AmountPrecision-AmountScale)

// ParseAmount reads a decimal string such as "19.99" and validates it as a
// payment amount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, NewError(KindInvalidInput, "amount %q is not a decimal number", raw)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount checks that d is strictly positive and representable.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return NewError(KindInvalidInput, "amount must be greater than zero")
	}
	return validateRange(d)
}

// ValidateBalance checks that a resulting balance still fits the column.
func ValidateBalance(d decimal.Decimal) error {
	return validateRange(d)
}

func validateRange(d decimal.Decimal) error {
	if !d.Equal(d.Truncate(AmountScale)) {
		return NewError(KindInvalidInput, "amount %s has more than %d decimal places", d, AmountScale)
	}
	if d.Abs().GreaterThanOrEqual(amountLimit) {
		return NewError(KindInvalidInput, "amount %s exceeds %d significant digits", d, AmountPrecision)
	}
	return nil
}

// Normalize fixes d to exactly two fractional digits for storage and display.
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}
