package domain

import (
	"github.com/shopspring/decimal"
)

const moneyScale int32 = 2

var (
	// MoneyTolerance is the maximum accepted gap between a declared and a computed total.
	MoneyTolerance = decimal.New(1, -moneyScale)

	minorUnitFactor = decimal.NewFromInt(100)
)

// RoundMoney rounds to cents, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyScale)
}

// ToMinorUnits converts a major-unit amount into cents.
func ToMinorUnits(d decimal.Decimal) int64 {
	return RoundMoney(d).Mul(minorUnitFactor).IntPart()
}

// FromMinorUnits converts cents into a major-unit amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -moneyScale)
}

// WithinTolerance reports whether a and b differ by strictly less than MoneyTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(MoneyTolerance)
}

// FormatMoney renders an amount with exactly two decimals ("44.99").
func FormatMoney(d decimal.Decimal) string {
	return RoundMoney(d).StringFixed(moneyScale)
}

// ParseMoney parses a decimal string such as "12.50".
func ParseMoney(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(raw)
}
