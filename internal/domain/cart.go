package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem — строка корзины. UnitPrice и LineTotal кешируются при каждом пересчёте.
type CartItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Cart — единственная живая корзина пользователя.
type Cart struct {
	UserID        string
	Items         []CartItem
	CouponID      string
	CouponCode    string
	DiscountTotal decimal.Decimal
	Version       int64
	UpdatedAt     time.Time
}

// Find возвращает индекс строки с товаром или -1.
func (c *Cart) Find(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Remove удаляет строку с товаром; возвращает false, если её не было.
func (c *Cart) Remove(productID string) bool {
	idx := c.Find(productID)
	if idx < 0 {
		return false
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return true
}

// DetachCoupon снимает купон и обнуляет скидку.
func (c *Cart) DetachCoupon() {
	c.CouponID = ""
	c.CouponCode = ""
	c.DiscountTotal = decimal.Zero
}

// Clear очищает корзину целиком (позиции, купон, скидку).
func (c *Cart) Clear() {
	c.Items = nil
	c.DetachCoupon()
}

// Clone возвращает глубокую копию корзины.
func (c Cart) Clone() Cart {
	cp := c
	cp.Items = append([]CartItem(nil), c.Items...)
	return cp
}
