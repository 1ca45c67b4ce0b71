package safe

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrDivisionByZero is returned when attempting to divide by zero.
var ErrDivisionByZero = errors.New("division by zero")

// percentageMultiplier is the multiplier for percentage calculations.
const percentageMultiplier = 100

// hundredDecimal is the pre-allocated decimal multiplier for percentage calculations.
var hundredDecimal = decimal.NewFromInt(percentageMultiplier)

// Divide performs decimal division with zero check.
// Returns ErrDivisionByZero if denominator is zero.
func Divide(numerator, denominator decimal.Decimal) (decimal.Decimal, error) {
	if denominator.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}

	return numerator.Div(denominator), nil
}

// DivideOrZero performs decimal division, returning zero if denominator is zero.
// Use when zero is an acceptable fallback.
func DivideOrZero(numerator, denominator decimal.Decimal) decimal.Decimal {
	if denominator.IsZero() {
		return decimal.Zero
	}

	return numerator.Div(denominator)
}

// Percentage returns part/total expressed as a percentage, or zero when
// total is zero.
//
// Example:
//
//	level := safe.Percentage(decimal.NewFromInt(remaining), decimal.NewFromInt(threshold))
func Percentage(part, total decimal.Decimal) decimal.Decimal {
	return DivideOrZero(part, total).Mul(hundredDecimal)
}
