package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round2 округляет сумму до копеек (half-up для неотрицательных сумм).
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MaxZero возвращает d, но не меньше нуля.
func MaxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// MinorUnits переводит сумму в минимальные единицы валюты (×100) для платёжного шлюза.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits обратное преобразование для сумм, пришедших от шлюза.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// ApplyPercent уменьшает цену на процент скидки и округляет до копеек.
func ApplyPercent(price decimal.Decimal, percent int) decimal.Decimal {
	if percent <= 0 {
		return Round2(price)
	}
	factor := hundred.Sub(decimal.NewFromInt(int64(percent))).Div(hundred)
	return Round2(price.Mul(factor))
}
