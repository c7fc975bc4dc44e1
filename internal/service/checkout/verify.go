package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
)

const outOfStockReason = "out of stock"

// Исходы подтверждения оплаты для метрик.
const (
	outcomeCaptured          = "captured"
	outcomeAlreadyPaid       = "already_paid"
	outcomeSignatureMismatch = "signature_mismatch"
	outcomeLateRefunded      = "late_payment_refunded"
	outcomeCompensated       = "compensated"
)

// VerifyPayment проверяет подпись callback шлюза и фиксирует оплату заказа.
// При несовпадении подписи возвращается ErrVerificationFailed без изменения состояния.
// Повторное подтверждение уже оплаченного заказа ничего не меняет.
// Оплата отменённого заказа зачисляется в кошелёк; нехватка остатка после оплаты
// отменяет заказ и возвращает деньги в кошелёк.
func (s *Service) VerifyPayment(ctx context.Context, userID, orderID string, cb domain.PaymentCallback) (result domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "checkout.VerifyPayment",
		attribute.String("order.id", orderID),
		attribute.String("gateway.order_id", cb.GatewayOrderID),
	)
	started := time.Now()
	defer func() { s.finish(span, "verify_payment", started, err) }()

	if err := cb.Validate(); err != nil {
		return domain.Order{}, err
	}
	if orderID == "" {
		return domain.Order{}, domain.ErrInvalidInput.Withf("order id is required")
	}
	if !s.verifier.Verify(cb.GatewayOrderID, cb.GatewayPaymentID, cb.Signature) {
		s.metrics.RecordPaymentVerification(outcomeSignatureMismatch)
		s.logger.WithFields(log.Fields{
			"order_id":         orderID,
			"gateway_order_id": cb.GatewayOrderID,
		}).Warn("payment signature mismatch")
		return domain.Order{}, domain.ErrVerificationFailed
	}

	var outcome string
	err = domain.WithinTxRetry(ctx, s.uow, func(ctx context.Context, repos domain.Repositories) error {
		order, err := loadOwnedOrder(ctx, repos, userID, orderID)
		if err != nil {
			return err
		}
		if order.PaymentMethod != domain.PaymentMethodGateway {
			return domain.ErrGatewayOrderMismatch.Withf("order is not paid through the gateway")
		}
		if order.GatewayOrderID != cb.GatewayOrderID {
			return domain.ErrGatewayOrderMismatch
		}

		if order.PaymentStatus == domain.PaymentStatusPaid ||
			(order.PaymentStatus == domain.PaymentStatusRefunded && order.GatewayPaymentID == cb.GatewayPaymentID) {
			outcome = outcomeAlreadyPaid
			result = order
			return nil
		}

		paidAt := s.now()
		order.GatewayPaymentID = cb.GatewayPaymentID
		order.GatewaySignature = cb.Signature
		order.PaidAt = &paidAt
		order.UpdatedAt = paidAt

		switch {
		case order.Status == domain.OrderStatusCancelled:
			outcome = outcomeLateRefunded
			err = s.refundLatePayment(ctx, repos, &order)
		default:
			var shortage bool
			shortage, err = s.capture(ctx, repos, &order)
			outcome = outcomeCaptured
			if shortage {
				outcome = outcomeCompensated
			}
		}
		if err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordPaymentVerification(outcome)
	switch outcome {
	case outcomeLateRefunded, outcomeCompensated:
		s.metrics.RecordRefund(string(domain.ReasonCancelRefund), result.GrandTotal.InexactFloat64())
		s.metrics.RecordWalletTransaction(string(domain.TransactionCredit), string(domain.ReasonCancelRefund))
	}
	s.logger.WithFields(log.Fields{
		"order_id":   result.ID,
		"payment_id": cb.GatewayPaymentID,
		"outcome":    outcome,
	}).Info("payment verified")
	return result, nil
}

// capture списывает остатки и помечает заказ оплаченным. При нехватке остатка
// уже сделанные списания откатываются, заказ отменяется, деньги уходят в кошелёк.
func (s *Service) capture(ctx context.Context, repos domain.Repositories, order *domain.Order) (bool, error) {
	var reserved []domain.OrderItem
	for _, item := range order.Items {
		if item.Status.Terminal() {
			continue
		}
		err := repos.Catalog.AdjustStock(ctx, item.ProductID, -item.Quantity)
		if errors.Is(err, domain.ErrInsufficientStock) {
			if err := releaseStock(ctx, repos, reserved); err != nil {
				return false, err
			}
			return true, s.compensate(ctx, repos, order, item)
		}
		if err != nil {
			return false, fmt.Errorf("reserve stock for %s: %w", item.ProductID, err)
		}
		reserved = append(reserved, item)
	}

	order.PaymentStatus = domain.PaymentStatusPaid
	order.StockReserved = true
	if err := repos.Orders.Save(ctx, order); err != nil {
		return false, err
	}

	cart, err := repos.Carts.Get(ctx, order.UserID)
	switch {
	case errors.Is(err, domain.ErrCartNotFound):
		cart = domain.Cart{UserID: order.UserID}
	case err != nil:
		return false, fmt.Errorf("load cart: %w", err)
	}
	if err := s.consumeCart(ctx, repos, cart, *order); err != nil {
		return false, err
	}

	return false, s.recorder.RecordOrder(ctx, repos, order, events.OrderEvent{
		Type:   domain.EventPaymentCaptured,
		Amount: order.GrandTotal,
		Metadata: map[string]any{
			"gateway_payment_id": order.GatewayPaymentID,
		},
	})
}

func (s *Service) compensate(ctx context.Context, repos domain.Repositories, order *domain.Order, short domain.OrderItem) error {
	for i := range order.Items {
		if order.Items[i].Status.Terminal() {
			continue
		}
		order.Items[i].Status = domain.OrderStatusCancelled
		order.Items[i].CancelReason = outOfStockReason
	}
	order.Status = domain.OrderStatusCancelled
	order.CancelReason = outOfStockReason
	order.PaymentStatus = domain.PaymentStatusRefunded

	refund := order.RefundRemainder()
	desc := fmt.Sprintf("Refund for order %s: %s went out of stock", order.Code, short.Name)
	if _, err := s.wallets.Credit(ctx, repos, order.UserID, refund, domain.ReasonCancelRefund, order.ID, desc); err != nil {
		return err
	}
	if err := repos.Orders.Save(ctx, order); err != nil {
		return err
	}

	s.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"product_id": short.ProductID,
	}).Warn("stock ran out after payment, order compensated")

	return s.recorder.RecordOrder(ctx, repos, order, events.OrderEvent{
		Type:   domain.EventPaymentCompensated,
		Reason: outOfStockReason,
		ItemID: short.ID,
		Amount: refund,
	})
}

// refundLatePayment — оплата пришла после отмены: всё зачисляется в кошелёк, остатки не трогаются.
func (s *Service) refundLatePayment(ctx context.Context, repos domain.Repositories, order *domain.Order) error {
	order.PaymentStatus = domain.PaymentStatusRefunded
	refund := order.RefundRemainder()
	desc := fmt.Sprintf("Refund for cancelled order %s", order.Code)
	if _, err := s.wallets.Credit(ctx, repos, order.UserID, refund, domain.ReasonCancelRefund, order.ID, desc); err != nil {
		return err
	}
	if err := repos.Orders.Save(ctx, order); err != nil {
		return err
	}
	return s.recorder.RecordOrder(ctx, repos, order, events.OrderEvent{
		Type:   domain.EventPaymentCompensated,
		Reason: "payment received for cancelled order",
		Amount: refund,
	})
}

func releaseStock(ctx context.Context, repos domain.Repositories, items []domain.OrderItem) error {
	for _, item := range items {
		if err := repos.Catalog.AdjustStock(ctx, item.ProductID, item.Quantity); err != nil {
			return fmt.Errorf("release stock for %s: %w", item.ProductID, err)
		}
	}
	return nil
}
