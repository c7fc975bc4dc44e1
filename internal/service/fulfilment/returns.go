package fulfilment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
)

// ReturnDecision — решение администратора по заявке.
type ReturnDecision string

const (
	ReturnApprove ReturnDecision = "approve"
	ReturnReject  ReturnDecision = "reject"
)

// RequestReturn создаёт заявку на возврат доставленной позиции.
func (s *Service) RequestReturn(ctx context.Context, userID, orderID, itemID, reason string) (result domain.ReturnRequest, err error) {
	ctx, span := s.startSpan(ctx, "fulfilment.RequestReturn",
		attribute.String("order.id", orderID),
		attribute.String("item.id", itemID),
	)
	started := time.Now()
	defer func() { s.finish(span, "request_return", started, err) }()

	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < s.policy.ReturnReasonMinLength {
		return domain.ReturnRequest{}, domain.ErrReturnReasonTooShort.Withf(
			"return reason is required (minimum %d characters)", s.policy.ReturnReasonMinLength)
	}

	err = domain.WithinTxRetry(ctx, s.uow, func(ctx context.Context, repos domain.Repositories) error {
		order, err := loadOrder(ctx, repos, userID, orderID)
		if err != nil {
			return err
		}
		item, err := order.Item(itemID)
		if err != nil {
			return err
		}
		if item.Status == domain.OrderStatusPendingReturn {
			return domain.ErrReturnAlreadyRequested
		}
		if item.Status != domain.OrderStatusDelivered {
			return domain.ErrReturnNotAllowed
		}

		now := s.now()
		request := domain.ReturnRequest{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			ItemID:    item.ID,
			UserID:    order.UserID,
			Reason:    reason,
			Status:    domain.ReturnStatusPending,
			CreatedAt: now,
		}
		if err := repos.Returns.Create(ctx, request); err != nil {
			return err
		}

		item.Status = domain.OrderStatusPendingReturn
		item.ReturnReason = reason
		order.UpdatedAt = now
		if err := repos.Orders.Save(ctx, &order); err != nil {
			return err
		}
		if err := s.recorder.RecordOrder(ctx, repos, &order, events.OrderEvent{
			Type:     domain.EventReturnRequested,
			Reason:   reason,
			ItemID:   item.ID,
			Metadata: map[string]any{"return_request_id": request.ID},
		}); err != nil {
			return err
		}
		result = request
		return nil
	})
	if err != nil {
		return domain.ReturnRequest{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":          orderID,
		"item_id":           itemID,
		"return_request_id": result.ID,
	}).Info("return requested")
	return result, nil
}

// ReviewReturn одобряет или отклоняет заявку. Одобрение возвращает остаток и
// зачисляет return_refund независимо от способа оплаты; отклонение возвращает позицию в DELIVERED.
func (s *Service) ReviewReturn(ctx context.Context, requestID string, decision ReturnDecision) (result domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "fulfilment.ReviewReturn",
		attribute.String("return_request.id", requestID),
		attribute.String("decision", string(decision)),
	)
	started := time.Now()
	defer func() { s.finish(span, "review_return", started, err) }()

	if strings.TrimSpace(requestID) == "" {
		return domain.Order{}, domain.ErrInvalidInput.Withf("return request id is required")
	}
	if decision != ReturnApprove && decision != ReturnReject {
		return domain.Order{}, domain.ErrInvalidInput.Withf("decision must be approve or reject")
	}

	var refund decimal.Decimal
	err = domain.WithinTxRetry(ctx, s.uow, func(ctx context.Context, repos domain.Repositories) error {
		request, err := repos.Returns.Get(ctx, requestID)
		if err != nil {
			return err
		}
		if request.Status != domain.ReturnStatusPending {
			return domain.ErrReturnAlreadyProcessed
		}

		order, err := repos.Orders.Get(ctx, request.OrderID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.ErrOrderNotFound.Withf("order for return request %s not found", requestID)
		}
		if err != nil {
			return err
		}
		item, err := order.Item(request.ItemID)
		if err != nil {
			return err
		}
		if item.Status != domain.OrderStatusPendingReturn {
			return domain.ErrReturnAlreadyProcessed.Withf("item is %s, not awaiting return", item.Status)
		}

		now := s.now()
		refund = decimal.Zero
		ev := events.OrderEvent{ItemID: item.ID, Reason: request.Reason}
		status := domain.ReturnStatusRejected

		if decision == ReturnApprove {
			status = domain.ReturnStatusApproved
			item.Status = domain.OrderStatusReturned
			if err := restoreStock(ctx, repos, &order, *item); err != nil {
				return err
			}
			refund = order.RefundItem(item)
			if refund.IsPositive() {
				desc := fmt.Sprintf("Return approved refund for order %s", order.Code)
				if _, err := s.wallets.Credit(ctx, repos, order.UserID, refund, domain.ReasonReturnRefund, order.ID, desc); err != nil {
					return err
				}
			}
			s.settle(&order)
			ev.Type = domain.EventReturnApproved
			ev.Amount = refund
		} else {
			item.Status = domain.OrderStatusDelivered
			ev.Type = domain.EventReturnRejected
		}

		if err := repos.Returns.Resolve(ctx, request.ID, status, now); err != nil {
			return err
		}
		order.UpdatedAt = now
		if err := repos.Orders.Save(ctx, &order); err != nil {
			return err
		}
		ev.Metadata = map[string]any{"return_request_id": request.ID}
		if err := s.recorder.RecordOrder(ctx, repos, &order, ev); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.recordRefund(domain.ReasonReturnRefund, refund)
	s.logger.WithFields(log.Fields{
		"return_request_id": requestID,
		"order_id":          result.ID,
		"decision":          decision,
		"refund":            refund.StringFixed(2),
	}).Info("return reviewed")
	return result, nil
}

// ListPendingReturns возвращает заявки, ожидающие решения, старые первыми.
func (s *Service) ListPendingReturns(ctx context.Context, limit int) ([]domain.ReturnRequest, error) {
	if limit < 0 {
		limit = 0
	}
	return s.uow.Repositories().Returns.ListPending(ctx, limit)
}
