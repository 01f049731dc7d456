package domain

import "github.com/shopspring/decimal"

// minorUnitExp is the number of decimal places between major and minor units
// (kobo, cents).
const minorUnitExp = 2

// ToMinorUnits converts a major-unit amount to gateway minor units.
// Fractions below one minor unit are rejected rather than rounded.
func ToMinorUnits(amount decimal.Decimal) (int64, bool) {
	minor := amount.Shift(minorUnitExp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, false
	}
	return minor.IntPart(), true
}

// FromMinorUnits converts gateway minor units back to major units.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorUnitExp)
}

// ValidAmount reports whether amount is positive with at most two decimals.
func ValidAmount(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	_, ok := ToMinorUnits(amount)
	return ok
}
