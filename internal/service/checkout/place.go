package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

// PlaceOrderRequest — запрос на оформление заказа из корзины пользователя.
type PlaceOrderRequest struct {
	UserID        string
	AddressID     string
	PaymentMethod domain.PaymentMethod
}

// Placement — результат оформления. Gateway заполнен только для онлайн-оплаты.
type Placement struct {
	Order   domain.Order
	Gateway *domain.GatewayCheckout
}

// draft — заказ, собранный из корзины, ещё не сохранённый.
type draft struct {
	order domain.Order
	cart  domain.Cart
	quote pricing.Quote
}

// PlaceOrder оформляет заказ. Проверки идут в фиксированном порядке:
// ввод и адрес, пустая корзина, остатки, ограничения способа оплаты.
// COD и WALLET выполняются одной транзакцией; для GATEWAY заказ шлюза создаётся
// до транзакции, а остатки не трогаются до подтверждения оплаты.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (result Placement, err error) {
	ctx, span := s.startSpan(ctx, "checkout.PlaceOrder",
		attribute.String("user.id", req.UserID),
		attribute.String("payment.method", string(req.PaymentMethod)),
	)
	started := time.Now()
	defer func() { s.finish(span, "place_order", started, err) }()

	if err := validatePlaceOrder(req); err != nil {
		return Placement{}, err
	}

	switch req.PaymentMethod {
	case domain.PaymentMethodGateway:
		result, err = s.placeGatewayOrder(ctx, req)
	default:
		result, err = s.placePrepaidOrder(ctx, req)
	}
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"user_id": req.UserID,
			"method":  req.PaymentMethod,
		}).Warn("order placement rejected")
		return Placement{}, err
	}

	s.metrics.RecordOrderPlaced(string(req.PaymentMethod))
	span.SetAttributes(attribute.String("order.id", result.Order.ID))
	s.logger.WithFields(log.Fields{
		"order_id":    result.Order.ID,
		"order_code":  result.Order.Code,
		"user_id":     req.UserID,
		"method":      req.PaymentMethod,
		"grand_total": result.Order.GrandTotal.StringFixed(2),
	}).Info("order placed")
	return result, nil
}

func validatePlaceOrder(req PlaceOrderRequest) error {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return domain.ErrInvalidInput.Withf("user id is required")
	case strings.TrimSpace(req.AddressID) == "":
		return domain.ErrInvalidInput.Withf("address is required")
	case req.PaymentMethod == "":
		return domain.ErrInvalidInput.Withf("payment method is required")
	case !req.PaymentMethod.Valid():
		return domain.ErrInvalidInput.Withf("invalid payment method")
	}
	return nil
}

// placePrepaidOrder — COD и WALLET: заказ, списание остатков, очистка корзины
// и (для WALLET) дебет кошелька в одной транзакции.
func (s *Service) placePrepaidOrder(ctx context.Context, req PlaceOrderRequest) (Placement, error) {
	var placed domain.Order
	err := domain.WithinTxRetry(ctx, s.uow, func(ctx context.Context, repos domain.Repositories) error {
		d, err := s.prepare(ctx, repos, req)
		if err != nil {
			return err
		}
		order := d.order

		if req.PaymentMethod == domain.PaymentMethodWallet {
			if order.GrandTotal.IsPositive() {
				desc := fmt.Sprintf("Payment for order %s", order.Code)
				if _, err := s.wallets.Debit(ctx, repos, req.UserID, order.GrandTotal, domain.ReasonWalletPayment, order.ID, desc); err != nil {
					return err
				}
				s.metrics.RecordWalletTransaction(string(domain.TransactionDebit), string(domain.ReasonWalletPayment))
			}
			paidAt := order.CreatedAt
			order.PaymentStatus = domain.PaymentStatusPaid
			order.PaidAt = &paidAt
		}

		if err := reserveStock(ctx, repos, order.Items); err != nil {
			return err
		}
		order.StockReserved = true

		if err := repos.Orders.Create(ctx, &order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := s.consumeCart(ctx, repos, d.cart, order); err != nil {
			return err
		}
		if err := s.recorder.RecordOrder(ctx, repos, &order, events.OrderEvent{
			Type:   domain.EventOrderPlaced,
			Amount: order.GrandTotal,
		}); err != nil {
			return err
		}
		placed = order
		return nil
	})
	if err != nil {
		return Placement{}, err
	}
	return Placement{Order: placed}, nil
}

// placeGatewayOrder создаёт заказ шлюза, затем в транзакции заново собирает заказ из корзины
// и сохраняет его со статусом оплаты PENDING.
func (s *Service) placeGatewayOrder(ctx context.Context, req PlaceOrderRequest) (Placement, error) {
	preview, err := s.prepare(ctx, s.uow.Repositories(), req)
	if err != nil {
		return Placement{}, err
	}

	gwOrder, err := s.createGatewayOrder(ctx, preview.order.GrandTotal, preview.order.Code)
	if err != nil {
		return Placement{}, err
	}

	var placed domain.Order
	err = domain.WithinTxRetry(ctx, s.uow, func(ctx context.Context, repos domain.Repositories) error {
		d, err := s.prepare(ctx, repos, req)
		if err != nil {
			return err
		}
		if !d.order.GrandTotal.Equal(preview.order.GrandTotal) {
			return domain.ErrCartVersionConflict.Withf("cart changed during checkout, please retry")
		}

		order := d.order
		order.Code = preview.order.Code
		order.GatewayOrderID = gwOrder.ID
		if err := repos.Orders.Create(ctx, &order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := s.recorder.RecordOrder(ctx, repos, &order, events.OrderEvent{
			Type:     domain.EventOrderPlaced,
			Amount:   order.GrandTotal,
			Metadata: map[string]any{"gateway_order_id": gwOrder.ID},
		}); err != nil {
			return err
		}
		placed = order
		return nil
	})
	if err != nil {
		return Placement{}, err
	}

	return Placement{
		Order: placed,
		Gateway: &domain.GatewayCheckout{
			KeyID:          s.keyID,
			GatewayOrderID: gwOrder.ID,
			AmountMinor:    gwOrder.AmountMinor,
			Currency:       gwOrder.Currency,
			Receipt:        placed.Code,
		},
	}, nil
}

func (s *Service) createGatewayOrder(ctx context.Context, amount decimal.Decimal, receipt string) (domain.GatewayOrder, error) {
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	started := time.Now()
	order, err := s.gateway.CreateOrder(gctx, domain.MinorUnits(amount), s.policy.Currency, receipt)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"receipt": receipt,
			"elapsed": time.Since(started),
		}).Warn("gateway order creation failed")
		return domain.GatewayOrder{}, gatewayError(err)
	}
	return order, nil
}

// prepare собирает заказ из корзины и проверяет предусловия оформления.
func (s *Service) prepare(ctx context.Context, repos domain.Repositories, req PlaceOrderRequest) (draft, error) {
	address, err := repos.Address.Get(ctx, req.AddressID)
	if errors.Is(err, domain.ErrAddressNotFound) {
		return draft{}, domain.ErrInvalidInput.Withf("invalid address")
	}
	if err != nil {
		return draft{}, fmt.Errorf("load address: %w", err)
	}
	if address.UserID != req.UserID || address.Deleted {
		return draft{}, domain.ErrInvalidInput.Withf("invalid address")
	}

	cart, err := repos.Carts.Get(ctx, req.UserID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return draft{}, domain.ErrEmptyCart
	}
	if err != nil {
		return draft{}, fmt.Errorf("load cart: %w", err)
	}

	quote, err := s.pricer.PriceCart(ctx, repos, &cart)
	if err != nil {
		return draft{}, err
	}
	if len(quote.Lines) == 0 {
		return draft{}, domain.ErrEmptyCart
	}

	for _, line := range quote.Lines {
		if line.Item.Quantity > line.Product.Stock {
			return draft{}, domain.ErrInsufficientStock.Withf("insufficient stock for %s", line.Product.Name)
		}
	}

	if err := s.checkPaymentMethod(ctx, repos, req, quote); err != nil {
		return draft{}, err
	}

	now := s.now()
	order := domain.Order{
		ID:            uuid.NewString(),
		Code:          s.newOrderCode(),
		UserID:        req.UserID,
		Address:       address.Snapshot(),
		Subtotal:      quote.Subtotal,
		DiscountTotal: quote.DiscountTotal,
		ShippingFee:   quote.ShippingFee,
		GrandTotal:    quote.GrandTotal,
		CouponID:      cart.CouponID,
		CouponCode:    cart.CouponCode,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, line := range quote.Lines {
		order.Items = append(order.Items, domain.OrderItem{
			ID:        uuid.NewString(),
			ProductID: line.Product.ID,
			Name:      line.Product.Name,
			Image:     line.Product.Image,
			UnitPrice: line.Item.UnitPrice,
			Quantity:  line.Item.Quantity,
			LineTotal: line.Item.LineTotal,
			Status:    domain.OrderStatusPending,
		})
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return draft{}, fmt.Errorf("order invariants violated: %w", errors.Join(errs...))
	}

	return draft{order: order, cart: cart, quote: quote}, nil
}

func (s *Service) checkPaymentMethod(ctx context.Context, repos domain.Repositories, req PlaceOrderRequest, quote pricing.Quote) error {
	switch req.PaymentMethod {
	case domain.PaymentMethodCOD:
		if quote.GrandTotal.GreaterThan(s.policy.CODMaxAmount) {
			return domain.ErrCODLimitExceeded.Withf("COD not available above %s", s.policy.CODMaxAmount.StringFixed(2))
		}
	case domain.PaymentMethodGateway:
		if quote.GrandTotal.LessThan(s.policy.GatewayMinAmount) {
			return domain.ErrGatewayBelowMinimum
		}
	case domain.PaymentMethodWallet:
		w, err := repos.Wallets.Get(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("load wallet: %w", err)
		}
		if w.Balance.LessThan(quote.GrandTotal) {
			return domain.ErrInsufficientBalance
		}
	}
	return nil
}

// consumeCart очищает корзину и фиксирует использование купона заказом.
func (s *Service) consumeCart(ctx context.Context, repos domain.Repositories, cart domain.Cart, order domain.Order) error {
	if order.CouponID != "" {
		if err := repos.Coupons.RecordUsage(ctx, order.CouponID, domain.CouponUsage{
			UserID:  order.UserID,
			OrderID: order.ID,
			UsedAt:  s.now(),
		}); err != nil && !errors.Is(err, domain.ErrCouponNotFound) {
			return fmt.Errorf("record coupon usage: %w", err)
		}
	}

	cart.Clear()
	cart.UpdatedAt = s.now()
	if err := repos.Carts.Save(ctx, &cart); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// reserveStock условно списывает остатки по позициям заказа.
func reserveStock(ctx context.Context, repos domain.Repositories, items []domain.OrderItem) error {
	for _, item := range items {
		if err := repos.Catalog.AdjustStock(ctx, item.ProductID, -item.Quantity); err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) {
				return domain.ErrInsufficientStock.Withf("insufficient stock for %s", item.Name)
			}
			return fmt.Errorf("reserve stock for %s: %w", item.ProductID, err)
		}
	}
	return nil
}
