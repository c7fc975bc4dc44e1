// Package coupon проверяет применимость купона и считает его скидку.
package coupon

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Result — итог проверки. При Valid=false Reason содержит типизированную причину.
type Result struct {
	Valid    bool
	Discount decimal.Decimal
	Reason   error
}

// Validator проверяет купоны относительно текущего времени.
type Validator struct {
	now func() time.Time
}

// NewValidator создаёт Validator; now=nil означает time.Now.
func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

// Validate проверяет купон; первая сработавшая причина отказа выигрывает.
// Порядок: неактивен, истёк, не достигнута минимальная сумма, исчерпан лимит пользователя.
func (v *Validator) Validate(c domain.Coupon, subtotal decimal.Decimal, userID string) Result {
	switch {
	case !c.Active:
		return reject(domain.ErrCouponInactive)
	case !c.ExpiresAt.IsZero() && v.now().After(c.ExpiresAt):
		return reject(domain.ErrCouponExpired)
	case subtotal.LessThan(c.MinPurchase):
		return reject(domain.ErrCouponMinimum.Withf("minimum purchase of %s required", c.MinPurchase.StringFixed(2)))
	case c.UsageCount(userID) >= usageLimit(c):
		return reject(domain.ErrCouponUsageLimit)
	}

	return Result{Valid: true, Discount: Discount(c, subtotal)}
}

// Discount считает скидку без проверок применимости: 0 ≤ discount ≤ subtotal.
func Discount(c domain.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	subtotal = domain.MaxZero(subtotal)

	var discount decimal.Decimal
	switch c.Type {
	case domain.CouponTypePercent:
		discount = subtotal.Mul(c.Value).Div(decimal.NewFromInt(100))
		if c.MaxDiscount.IsPositive() && discount.GreaterThan(c.MaxDiscount) {
			discount = c.MaxDiscount
		}
	case domain.CouponTypeFlat:
		discount = c.Value
	default:
		discount = decimal.Zero
	}

	discount = domain.MaxZero(discount)
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	return domain.Round2(discount)
}

// usageLimit — лимит на пользователя; незаданный лимит означает одно использование.
func usageLimit(c domain.Coupon) int {
	if c.UsageLimit <= 0 {
		return 1
	}
	return c.UsageLimit
}

func reject(reason error) Result {
	return Result{Discount: decimal.Zero, Reason: reason}
}
