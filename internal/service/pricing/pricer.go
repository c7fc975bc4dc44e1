// Package pricing пересчитывает корзину по текущим ценам, офферам и купону.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/coupon"
	"github.com/vladislavdragonenkov/storefront/internal/service/offer"
)

// Line — оценённая строка корзины вместе с товаром на момент расчёта.
type Line struct {
	Item    domain.CartItem
	Product domain.Product
	Offer   offer.Best
}

// Quote — итог пересчёта корзины.
type Quote struct {
	Lines         []Line
	Excluded      []string
	Subtotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	ShippingFee   decimal.Decimal
	GrandTotal    decimal.Decimal
	// CouponDetached — купон был прикреплён, но перестал быть применимым.
	CouponDetached bool
	CouponReason   error
}

// Pricer считает корзину. Состояние не хранит; репозитории передаются на каждый вызов,
// чтобы расчёт шёл внутри той же транзакции, что и оформление.
type Pricer struct {
	offers  *offer.Resolver
	coupons *coupon.Validator
	policy  domain.Policy
}

// NewPricer создаёт Pricer.
func NewPricer(offers *offer.Resolver, coupons *coupon.Validator, policy domain.Policy) *Pricer {
	return &Pricer{offers: offers, coupons: coupons, policy: policy}
}

// PriceCart пересчитывает корзину и обновляет UnitPrice/LineTotal её строк.
// Строки с отсутствующим, неактивным или удалённым товаром в суммы не входят.
// Неприменимый купон молча снимается.
func (p *Pricer) PriceCart(ctx context.Context, repos domain.Repositories, cart *domain.Cart) (Quote, error) {
	quote := Quote{Subtotal: decimal.Zero, DiscountTotal: decimal.Zero}
	categories := make(map[string]*domain.Category)

	for i := range cart.Items {
		item := &cart.Items[i]
		product, err := repos.Catalog.GetProduct(ctx, item.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) {
			quote.Excluded = append(quote.Excluded, item.ProductID)
			continue
		}
		if err != nil {
			return Quote{}, fmt.Errorf("load product %s: %w", item.ProductID, err)
		}
		if !product.Purchasable() {
			quote.Excluded = append(quote.Excluded, item.ProductID)
			continue
		}

		category, err := p.category(ctx, repos, categories, product.CategoryID)
		if err != nil {
			return Quote{}, err
		}

		best := p.offers.BestOffer(product, category)
		item.UnitPrice = offer.DiscountedPrice(product.Price, best.Percent)
		item.LineTotal = domain.Round2(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		quote.Subtotal = quote.Subtotal.Add(item.LineTotal)
		quote.Lines = append(quote.Lines, Line{Item: *item, Product: product, Offer: best})
	}

	if err := p.applyCoupon(ctx, repos, cart, &quote); err != nil {
		return Quote{}, err
	}

	quote.ShippingFee = p.policy.Shipping(quote.Subtotal)
	quote.GrandTotal = domain.MaxZero(quote.Subtotal.Sub(quote.DiscountTotal).Add(quote.ShippingFee))
	return quote, nil
}

// DropExcluded удаляет из корзины строки, исключённые при расчёте.
func DropExcluded(cart *domain.Cart, quote Quote) {
	for _, id := range quote.Excluded {
		cart.Remove(id)
	}
}

func (p *Pricer) applyCoupon(ctx context.Context, repos domain.Repositories, cart *domain.Cart, quote *Quote) error {
	if cart.CouponID == "" {
		cart.DiscountTotal = decimal.Zero
		return nil
	}

	c, err := repos.Coupons.Get(ctx, cart.CouponID)
	if errors.Is(err, domain.ErrCouponNotFound) {
		quote.CouponDetached = true
		quote.CouponReason = err
		cart.DetachCoupon()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load coupon %s: %w", cart.CouponID, err)
	}

	res := p.coupons.Validate(c, quote.Subtotal, cart.UserID)
	if !res.Valid {
		quote.CouponDetached = true
		quote.CouponReason = res.Reason
		cart.DetachCoupon()
		return nil
	}

	cart.DiscountTotal = res.Discount
	quote.DiscountTotal = res.Discount
	return nil
}

func (p *Pricer) category(ctx context.Context, repos domain.Repositories, cache map[string]*domain.Category, id string) (*domain.Category, error) {
	if id == "" {
		return nil, nil
	}
	if c, ok := cache[id]; ok {
		return c, nil
	}
	c, err := repos.Catalog.GetCategory(ctx, id)
	if errors.Is(err, domain.ErrCategoryNotFound) {
		cache[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load category %s: %w", id, err)
	}
	cache[id] = &c
	return &c, nil
}
