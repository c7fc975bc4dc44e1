package fulfilment

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
)

// UpdateStatus продвигает заказ вперёд по цепочке CONFIRMED → SHIPPED → OUT_FOR_DELIVERY → DELIVERED.
// Закрытые позиции и позиции в возврате не трогаются, DELIVERED проставляет deliveredAt.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, target domain.OrderStatus) (result domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "fulfilment.UpdateStatus",
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(target)),
	)
	started := time.Now()
	defer func() { s.finish(span, "update_status", started, err) }()

	if !target.AdminTarget() {
		return domain.Order{}, domain.ErrInvalidStatus.Withf("invalid status %q: PENDING and CANCELLED are user actions only", target)
	}

	var from domain.OrderStatus
	err = domain.WithinTxRetry(ctx, s.uow, func(ctx context.Context, repos domain.Repositories) error {
		order, err := loadOrder(ctx, repos, "", orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return domain.ErrOrderClosed.Withf("cannot update status of a %s order", order.Status)
		}
		if order.AwaitingGatewayPayment() {
			return domain.ErrPaymentPending.Withf("order %s is awaiting gateway payment", order.Code)
		}
		from = order.Status
		if from != target && !domain.CanAdvance(from, target) {
			return domain.ErrStatusRegression.Withf("cannot move status from %s to %s", from, target)
		}

		for i := range order.Items {
			if domain.CanAdvance(order.Items[i].Status, target) {
				order.Items[i].Status = target
			}
		}
		order.Status = target
		now := s.now()
		if target == domain.OrderStatusDelivered && order.DeliveredAt == nil {
			order.DeliveredAt = &now
		}
		order.UpdatedAt = now

		if err := repos.Orders.Save(ctx, &order); err != nil {
			return err
		}
		if err := s.recorder.RecordOrder(ctx, repos, &order, events.OrderEvent{
			Type:     domain.EventStatusUpdated,
			Metadata: map[string]any{"from": string(from), "to": string(target)},
		}); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"from":     from,
		"to":       target,
	}).Info("order status updated")
	return result, nil
}
