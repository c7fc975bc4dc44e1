package fulfilment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
)

// CancelOrder отменяет все ещё не закрытые позиции заказа до доставки.
// Остаток возвращается, оплаченный не-COD заказ получает возврат в кошелёк одной проводкой.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID, reason string) (result domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "fulfilment.CancelOrder", attribute.String("order.id", orderID))
	started := time.Now()
	defer func() { s.finish(span, "cancel_order", started, err) }()

	reason = cancelReason(reason)
	var refund decimal.Decimal
	err = domain.WithinTxRetry(ctx, s.uow, func(ctx context.Context, repos domain.Repositories) error {
		order, err := loadOrder(ctx, repos, userID, orderID)
		if err != nil {
			return err
		}
		if !order.Status.Cancellable() {
			return domain.ErrOrderNotCancellable.Withf("cannot cancel a %s order", order.Status)
		}

		refundable := order.Refundable()
		refund = decimal.Zero
		for i := range order.Items {
			item := &order.Items[i]
			if item.Status.Terminal() {
				continue
			}
			item.Status = domain.OrderStatusCancelled
			item.CancelReason = reason
			if err := restoreStock(ctx, repos, &order, *item); err != nil {
				return err
			}
			if refundable {
				refund = refund.Add(order.RefundItem(item))
			}
		}

		order.Status = domain.OrderStatusCancelled
		order.CancelReason = reason
		if refundable {
			order.PaymentStatus = domain.PaymentStatusRefunded
		}
		order.UpdatedAt = s.now()

		if refund.IsPositive() {
			desc := fmt.Sprintf("Refund for cancelled order %s", order.Code)
			if _, err := s.wallets.Credit(ctx, repos, order.UserID, refund, domain.ReasonCancelRefund, order.ID, desc); err != nil {
				return err
			}
		}
		if err := repos.Orders.Save(ctx, &order); err != nil {
			return err
		}
		if err := s.recorder.RecordOrder(ctx, repos, &order, events.OrderEvent{
			Type:   domain.EventOrderCancelled,
			Reason: reason,
			Amount: refund,
		}); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.recordRefund(domain.ReasonCancelRefund, refund)
	s.logger.WithFields(log.Fields{
		"order_id": result.ID,
		"refund":   refund.StringFixed(2),
	}).Info("order cancelled")
	return result, nil
}

// CancelItem отменяет одну позицию до доставки. Когда все позиции закрыты,
// заказ становится CANCELLED, а оплаченный заказ REFUNDED.
func (s *Service) CancelItem(ctx context.Context, userID, orderID, itemID, reason string) (result domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "fulfilment.CancelItem",
		attribute.String("order.id", orderID),
		attribute.String("item.id", itemID),
	)
	started := time.Now()
	defer func() { s.finish(span, "cancel_item", started, err) }()

	reason = cancelReason(reason)
	var refund decimal.Decimal
	err = domain.WithinTxRetry(ctx, s.uow, func(ctx context.Context, repos domain.Repositories) error {
		order, err := loadOrder(ctx, repos, userID, orderID)
		if err != nil {
			return err
		}
		item, err := order.Item(itemID)
		if err != nil {
			return err
		}
		switch {
		case item.Status.Terminal():
			return domain.ErrItemNotCancellable
		case !item.Status.Cancellable():
			return domain.ErrItemNotCancellable.Withf("delivered items can only be returned")
		case order.AwaitingGatewayPayment():
			return domain.ErrPaymentPending.Withf("complete the payment or cancel the whole order")
		}

		item.Status = domain.OrderStatusCancelled
		item.CancelReason = reason
		if err := restoreStock(ctx, repos, &order, *item); err != nil {
			return err
		}

		refund = decimal.Zero
		if order.Refundable() {
			refund = order.RefundItem(item)
		}
		if refund.IsPositive() {
			desc := fmt.Sprintf("Refund for cancelled item in order %s", order.Code)
			if _, err := s.wallets.Credit(ctx, repos, order.UserID, refund, domain.ReasonCancelRefund, order.ID, desc); err != nil {
				return err
			}
		}

		closed := s.settle(&order)
		order.UpdatedAt = s.now()
		if err := repos.Orders.Save(ctx, &order); err != nil {
			return err
		}
		if err := s.recorder.RecordOrder(ctx, repos, &order, events.OrderEvent{
			Type:     domain.EventItemCancelled,
			Reason:   reason,
			ItemID:   itemID,
			Amount:   refund,
			Metadata: map[string]any{"order_closed": closed},
		}); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.recordRefund(domain.ReasonCancelRefund, refund)
	s.logger.WithFields(log.Fields{
		"order_id": result.ID,
		"item_id":  itemID,
		"refund":   refund.StringFixed(2),
	}).Info("order item cancelled")
	return result, nil
}

func cancelReason(reason string) string {
	if r := strings.TrimSpace(reason); r != "" {
		return r
	}
	return defaultCancelReason
}
