// Package events пишет события жизненного цикла заказа в timeline и transactional outbox.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	aggregateOrder  = "order"
	aggregateWallet = "wallet"
)

// OrderEvent описывает событие заказа перед записью.
type OrderEvent struct {
	Type     string
	Reason   string
	ItemID   string
	Amount   decimal.Decimal
	Metadata map[string]any
}

// Recorder пишет события через репозитории текущей транзакции,
// поэтому событие фиксируется вместе с изменением состояния или не фиксируется вовсе.
type Recorder struct {
	metrics *metrics.CheckoutMetrics
	now     func() time.Time
}

// NewRecorder создаёт Recorder; metrics может быть nil.
func NewRecorder(m *metrics.CheckoutMetrics) *Recorder {
	return &Recorder{metrics: m, now: func() time.Time { return time.Now().UTC() }}
}

// RecordOrder добавляет запись в timeline заказа и сообщение в outbox.
func (r *Recorder) RecordOrder(ctx context.Context, repos domain.Repositories, order *domain.Order, ev OrderEvent) error {
	if order == nil {
		return fmt.Errorf("record %s: order is nil", ev.Type)
	}
	occurred := r.now()

	payload := kafka.OrderEvent{
		EventType:     kafka.EventType(ev.Type),
		OrderID:       order.ID,
		OrderCode:     order.Code,
		UserID:        order.UserID,
		ItemID:        ev.ItemID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		Reason:        ev.Reason,
		Timestamp:     occurred,
		Metadata:      ev.Metadata,
	}
	if !ev.Amount.IsZero() {
		payload.Amount = ev.Amount.StringFixed(2)
	}

	if err := r.enqueue(ctx, repos, aggregateOrder, order.ID, ev.Type, payload); err != nil {
		return err
	}

	if repos.Timeline != nil {
		if err := repos.Timeline.Append(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     ev.Type,
			Reason:   ev.Reason,
			Occurred: occurred,
		}); err != nil {
			return fmt.Errorf("append timeline %s: %w", ev.Type, err)
		}
		r.metrics.RecordTimelineEvent()
	}
	return nil
}

// RecordWallet публикует проведённую операцию по кошельку.
func (r *Recorder) RecordWallet(ctx context.Context, repos domain.Repositories, userID string, tx domain.WalletTransaction) error {
	eventType := domain.EventWalletCredited
	if tx.Type == domain.TransactionDebit {
		eventType = domain.EventWalletDebited
	}
	payload := map[string]any{
		"event_type":  eventType,
		"user_id":     userID,
		"type":        string(tx.Type),
		"reason":      string(tx.Reason),
		"amount":      tx.Amount.StringFixed(2),
		"order_id":    tx.OrderID,
		"reference":   tx.Reference,
		"occurred_at": r.now(),
	}
	return r.enqueue(ctx, repos, aggregateWallet, userID, eventType, payload)
}

func (r *Recorder) enqueue(ctx context.Context, repos domain.Repositories, aggregateType, aggregateID, eventType string, payload any) error {
	if repos.Outbox == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	if _, err := repos.Outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	r.metrics.RecordOutboxEvent()
	return nil
}
