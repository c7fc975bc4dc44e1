package domain

import "github.com/shopspring/decimal"

// Policy — параметры оформления, которые раньше были зашиты константами.
type Policy struct {
	CODMaxAmount          decimal.Decimal
	GatewayMinAmount      decimal.Decimal
	MaxQuantityPerItem    int
	Currency              string
	FreeShippingThreshold decimal.Decimal
	ShippingFee           decimal.Decimal
	ReturnReasonMinLength int
}

// DefaultPolicy возвращает политику по умолчанию: доставка бесплатна, COD до 1000.
func DefaultPolicy() Policy {
	return Policy{
		CODMaxAmount:          decimal.NewFromInt(1000),
		GatewayMinAmount:      decimal.NewFromInt(1),
		MaxQuantityPerItem:    5,
		Currency:              "INR",
		FreeShippingThreshold: decimal.Zero,
		ShippingFee:           decimal.Zero,
		ReturnReasonMinLength: 5,
	}
}

// Shipping возвращает стоимость доставки для subtotal.
func (p Policy) Shipping(subtotal decimal.Decimal) decimal.Decimal {
	if !p.ShippingFee.IsPositive() {
		return decimal.Zero
	}
	if p.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return p.ShippingFee
}
