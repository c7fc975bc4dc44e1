// Package cart изменяет корзину пользователя и возвращает её пересчитанное представление.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/coupon"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

// View — корзина вместе с расчётом.
type View struct {
	Cart  domain.Cart
	Quote pricing.Quote
}

// Service — операции над корзиной. Каждая мутация выполняется в транзакции
// и повторяется при конфликте версий корзины.
type Service struct {
	uow     domain.UnitOfWork
	pricer  *pricing.Pricer
	coupons *coupon.Validator
	policy  domain.Policy
	logger  *log.Entry
	now     func() time.Time
}

// NewService создаёт сервис корзины.
func NewService(uow domain.UnitOfWork, pricer *pricing.Pricer, coupons *coupon.Validator, policy domain.Policy, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	if policy.MaxQuantityPerItem <= 0 {
		policy.MaxQuantityPerItem = domain.DefaultPolicy().MaxQuantityPerItem
	}
	return &Service{
		uow:     uow,
		pricer:  pricer,
		coupons: coupons,
		policy:  policy,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get возвращает пересчитанную корзину. Недоступные товары и неприменимый купон
// снимаются и сохраняются сразу.
func (s *Service) Get(ctx context.Context, userID string) (View, error) {
	return s.mutate(ctx, userID, func(context.Context, domain.Repositories, *domain.Cart) error { return nil })
}

// AddItem добавляет товар; qty приводится к [1, MaxQuantityPerItem].
func (s *Service) AddItem(ctx context.Context, userID, productID string, qty int) (View, error) {
	if strings.TrimSpace(productID) == "" {
		return View{}, domain.ErrInvalidInput.Withf("product id is required")
	}
	qty = s.clamp(qty)

	return s.mutate(ctx, userID, func(ctx context.Context, repos domain.Repositories, cart *domain.Cart) error {
		product, err := s.purchasable(ctx, repos, productID)
		if err != nil {
			return err
		}
		if product.Stock <= 0 {
			return domain.ErrInsufficientStock.Withf("%s is out of stock", product.Name)
		}

		merged := qty
		idx := cart.Find(productID)
		if idx >= 0 {
			merged += cart.Items[idx].Quantity
		}
		if merged > s.policy.MaxQuantityPerItem {
			return domain.ErrQuantityLimit.Withf("maximum %d units allowed per product", s.policy.MaxQuantityPerItem)
		}
		if merged > product.Stock {
			return domain.ErrInsufficientStock.Withf("only %d left in stock for %s", product.Stock, product.Name)
		}

		if idx >= 0 {
			cart.Items[idx].Quantity = merged
		} else {
			cart.Items = append(cart.Items, domain.CartItem{ProductID: productID, Quantity: merged})
		}
		return nil
	})
}

// IncrementItem увеличивает количество на 1 в пределах min(stock, MaxQuantityPerItem).
func (s *Service) IncrementItem(ctx context.Context, userID, productID string) (View, error) {
	return s.mutateItem(ctx, userID, productID, func(ctx context.Context, repos domain.Repositories, item *domain.CartItem) error {
		product, err := s.purchasable(ctx, repos, productID)
		if err != nil {
			return err
		}
		next := item.Quantity + 1
		if next > s.policy.MaxQuantityPerItem {
			return domain.ErrQuantityLimit.Withf("maximum %d units allowed per product", s.policy.MaxQuantityPerItem)
		}
		if next > product.Stock {
			return domain.ErrInsufficientStock.Withf("only %d left in stock for %s", product.Stock, product.Name)
		}
		item.Quantity = next
		return nil
	})
}

// DecrementItem уменьшает количество на 1, но не ниже 1.
func (s *Service) DecrementItem(ctx context.Context, userID, productID string) (View, error) {
	return s.mutateItem(ctx, userID, productID, func(_ context.Context, _ domain.Repositories, item *domain.CartItem) error {
		if item.Quantity > 1 {
			item.Quantity--
		}
		return nil
	})
}

// SetQuantity задаёт количество из [1, MaxQuantityPerItem], не больше остатка.
func (s *Service) SetQuantity(ctx context.Context, userID, productID string, qty int) (View, error) {
	if qty < 1 || qty > s.policy.MaxQuantityPerItem {
		return View{}, domain.ErrInvalidQuantity.Withf("quantity must be between 1 and %d", s.policy.MaxQuantityPerItem)
	}
	return s.mutateItem(ctx, userID, productID, func(ctx context.Context, repos domain.Repositories, item *domain.CartItem) error {
		product, err := s.purchasable(ctx, repos, productID)
		if err != nil {
			return err
		}
		if qty > product.Stock {
			return domain.ErrInsufficientStock.Withf("only %d left in stock for %s", product.Stock, product.Name)
		}
		item.Quantity = qty
		return nil
	})
}

// RemoveItem удаляет строку из корзины.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (View, error) {
	return s.mutate(ctx, userID, func(_ context.Context, _ domain.Repositories, cart *domain.Cart) error {
		if !cart.Remove(productID) {
			return domain.ErrCartItemNotFound
		}
		return nil
	})
}

// ApplyCoupon прикрепляет купон; причины отказа возвращаются типизированными ошибками.
func (s *Service) ApplyCoupon(ctx context.Context, userID, code string) (View, error) {
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return View{}, domain.ErrInvalidInput.Withf("coupon code is required")
	}

	return s.mutate(ctx, userID, func(ctx context.Context, repos domain.Repositories, cart *domain.Cart) error {
		if len(cart.Items) == 0 {
			return domain.ErrEmptyCart
		}
		c, err := repos.Coupons.GetByCode(ctx, code)
		if err != nil {
			return err
		}

		// субтотал считается без текущего купона
		bare := cart.Clone()
		bare.DetachCoupon()
		quote, err := s.pricer.PriceCart(ctx, repos, &bare)
		if err != nil {
			return err
		}
		if len(quote.Lines) == 0 {
			return domain.ErrEmptyCart
		}

		res := s.coupons.Validate(c, quote.Subtotal, userID)
		if !res.Valid {
			return res.Reason
		}
		cart.CouponID = c.ID
		cart.CouponCode = c.Code
		return nil
	})
}

// RemoveCoupon снимает купон с корзины.
func (s *Service) RemoveCoupon(ctx context.Context, userID string) (View, error) {
	return s.mutate(ctx, userID, func(_ context.Context, _ domain.Repositories, cart *domain.Cart) error {
		cart.DetachCoupon()
		return nil
	})
}

type cartMutation func(ctx context.Context, repos domain.Repositories, cart *domain.Cart) error

type itemMutation func(ctx context.Context, repos domain.Repositories, item *domain.CartItem) error

func (s *Service) mutateItem(ctx context.Context, userID, productID string, fn itemMutation) (View, error) {
	return s.mutate(ctx, userID, func(ctx context.Context, repos domain.Repositories, cart *domain.Cart) error {
		idx := cart.Find(productID)
		if idx < 0 {
			return domain.ErrCartItemNotFound
		}
		return fn(ctx, repos, &cart.Items[idx])
	})
}

// mutate загружает корзину, применяет fn, пересчитывает и сохраняет результат.
func (s *Service) mutate(ctx context.Context, userID string, fn cartMutation) (View, error) {
	if strings.TrimSpace(userID) == "" {
		return View{}, domain.ErrInvalidInput.Withf("user id is required")
	}

	var view View
	err := domain.WithinTxRetry(ctx, s.uow, func(ctx context.Context, repos domain.Repositories) error {
		cart, err := repos.Carts.Get(ctx, userID)
		if errors.Is(err, domain.ErrCartNotFound) {
			cart = domain.Cart{UserID: userID}
		} else if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}

		if err := fn(ctx, repos, &cart); err != nil {
			return err
		}

		quote, err := s.pricer.PriceCart(ctx, repos, &cart)
		if err != nil {
			return err
		}
		if len(quote.Excluded) > 0 {
			s.logger.WithFields(log.Fields{
				"user_id":  userID,
				"excluded": quote.Excluded,
			}).Info("unavailable products removed from cart")
		}
		if quote.CouponDetached {
			s.logger.WithError(quote.CouponReason).WithField("user_id", userID).Info("coupon detached from cart")
		}
		pricing.DropExcluded(&cart, quote)

		cart.UpdatedAt = s.now()
		if err := repos.Carts.Save(ctx, &cart); err != nil {
			return err
		}
		view = View{Cart: cart, Quote: quote}
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return view, nil
}

func (s *Service) purchasable(ctx context.Context, repos domain.Repositories, productID string) (domain.Product, error) {
	product, err := repos.Catalog.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if !product.Purchasable() {
		return domain.Product{}, domain.ErrProductUnavailable.Withf("%s is not available", product.Name)
	}
	return product, nil
}

func (s *Service) clamp(qty int) int {
	if qty < 1 {
		return 1
	}
	if qty > s.policy.MaxQuantityPerItem {
		return s.policy.MaxQuantityPerItem
	}
	return qty
}
