package checkout

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
)

const expiredPaymentReason = "payment window expired"

// RetryPayment создаёт новый заказ шлюза для неоплаченного GATEWAY-заказа.
// Квитанцией остаётся код заказа.
func (s *Service) RetryPayment(ctx context.Context, userID, orderID string) (result domain.GatewayCheckout, err error) {
	ctx, span := s.startSpan(ctx, "checkout.RetryPayment", attribute.String("order.id", orderID))
	started := time.Now()
	defer func() { s.finish(span, "retry_payment", started, err) }()

	order, err := loadOwnedOrder(ctx, s.uow.Repositories(), userID, orderID)
	if err != nil {
		return domain.GatewayCheckout{}, err
	}
	if err := retryable(order); err != nil {
		return domain.GatewayCheckout{}, err
	}

	gwOrder, err := s.createGatewayOrder(ctx, order.GrandTotal, order.Code)
	if err != nil {
		return domain.GatewayCheckout{}, err
	}

	err = domain.WithinTxRetry(ctx, s.uow, func(ctx context.Context, repos domain.Repositories) error {
		fresh, err := loadOwnedOrder(ctx, repos, userID, orderID)
		if err != nil {
			return err
		}
		if err := retryable(fresh); err != nil {
			return err
		}
		fresh.GatewayOrderID = gwOrder.ID
		fresh.PaymentStatus = domain.PaymentStatusPending
		fresh.UpdatedAt = s.now()
		if err := repos.Orders.Save(ctx, &fresh); err != nil {
			return err
		}
		return s.recorder.RecordOrder(ctx, repos, &fresh, events.OrderEvent{
			Type:     domain.EventPaymentRetried,
			Amount:   fresh.GrandTotal,
			Metadata: map[string]any{"gateway_order_id": gwOrder.ID},
		})
	})
	if err != nil {
		return domain.GatewayCheckout{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":         order.ID,
		"gateway_order_id": gwOrder.ID,
	}).Info("payment retry created")

	return domain.GatewayCheckout{
		KeyID:          s.keyID,
		GatewayOrderID: gwOrder.ID,
		AmountMinor:    gwOrder.AmountMinor,
		Currency:       gwOrder.Currency,
		Receipt:        order.Code,
	}, nil
}

func retryable(order domain.Order) error {
	switch {
	case order.PaymentMethod != domain.PaymentMethodGateway:
		return domain.ErrPaymentNotRetryable.Withf("order is not paid through the gateway")
	case order.PaymentStatus == domain.PaymentStatusPaid || order.PaymentStatus == domain.PaymentStatusRefunded:
		return domain.ErrPaymentNotRetryable.Withf("order already paid")
	case order.Status == domain.OrderStatusCancelled:
		return domain.ErrPaymentNotRetryable.Withf("order is cancelled")
	}
	return nil
}

// ExpireAbandonedPayments помечает FAILED оплату GATEWAY-заказов, ожидающих дольше maxAge.
// Повторная оплата таких заказов остаётся доступной.
func (s *Service) ExpireAbandonedPayments(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	before := s.now().Add(-maxAge)
	stale, err := s.uow.Repositories().Orders.ListAwaitingPayment(ctx, before, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range stale {
		if ctx.Err() != nil {
			break
		}
		changed := false
		err := domain.WithinTxRetry(ctx, s.uow, func(ctx context.Context, repos domain.Repositories) error {
			changed = false
			order, err := repos.Orders.Get(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if order.PaymentMethod != domain.PaymentMethodGateway ||
				order.PaymentStatus != domain.PaymentStatusPending ||
				order.Status == domain.OrderStatusCancelled ||
				order.CreatedAt.After(before) {
				return nil
			}
			order.PaymentStatus = domain.PaymentStatusFailed
			order.UpdatedAt = s.now()
			if err := repos.Orders.Save(ctx, &order); err != nil {
				return err
			}
			changed = true
			return s.recorder.RecordOrder(ctx, repos, &order, events.OrderEvent{
				Type:   domain.EventPaymentFailed,
				Reason: expiredPaymentReason,
			})
		})
		if err != nil {
			s.logger.WithError(err).WithField("order_id", candidate.ID).Warn("failed to expire payment")
			continue
		}
		if changed {
			expired++
		}
	}

	s.metrics.RecordPaymentsExpired(expired)
	return expired, ctx.Err()
}
