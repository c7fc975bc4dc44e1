package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CouponType определяет способ расчёта скидки.
type CouponType string

const (
	CouponTypeFlat    CouponType = "FLAT"
	CouponTypePercent CouponType = "PERCENT"
)

// CouponUsage — запись об использовании купона пользователем.
type CouponUsage struct {
	UserID  string
	OrderID string
	UsedAt  time.Time
}

// Coupon — промокод. MaxDiscount учитывается только для PERCENT и только если > 0.
type Coupon struct {
	ID          string
	Code        string
	Type        CouponType
	Value       decimal.Decimal
	MaxDiscount decimal.Decimal
	MinPurchase decimal.Decimal
	UsageLimit  int
	ExpiresAt   time.Time
	Active      bool
	Usages      []CouponUsage
	CreatedAt   time.Time
}

// UsageCount возвращает число использований купона пользователем.
func (c Coupon) UsageCount(userID string) int {
	n := 0
	for _, u := range c.Usages {
		if u.UserID == userID {
			n++
		}
	}
	return n
}

// Clone возвращает копию с независимым журналом использований.
func (c Coupon) Clone() Coupon {
	cp := c
	cp.Usages = append([]CouponUsage(nil), c.Usages...)
	return cp
}

// NormalizeCouponCode приводит код к виду, в котором он хранится.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
