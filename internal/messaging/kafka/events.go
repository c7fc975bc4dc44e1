package kafka

import (
	"strings"
	"time"
)

// EventType определяет тип события
type EventType string

const (
	EventTypeOrderPlaced        EventType = "order.placed"
	EventTypeOrderCancelled     EventType = "order.cancelled"
	EventTypeOrderStatusUpdated EventType = "order.status_updated"
	EventTypeItemCancelled      EventType = "order.item_cancelled"

	EventTypePaymentCaptured    EventType = "order.payment_captured"
	EventTypePaymentFailed      EventType = "order.payment_failed"
	EventTypePaymentRetried     EventType = "order.payment_retried"
	EventTypePaymentCompensated EventType = "order.payment_compensated"

	EventTypeReturnRequested EventType = "order.return_requested"
	EventTypeReturnApproved  EventType = "order.return_approved"
	EventTypeReturnRejected  EventType = "order.return_rejected"

	EventTypeWalletCredited EventType = "wallet.credited"
	EventTypeWalletDebited  EventType = "wallet.debited"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicWalletEvents    = "storefront.wallet.events"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// OrderEvent — полезная нагрузка событий заказа в outbox и Kafka.
// Суммы передаются строками с двумя знаками.
type OrderEvent struct {
	EventType     EventType      `json:"event_type"`
	OrderID       string         `json:"order_id"`
	OrderCode     string         `json:"order_code,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	ItemID        string         `json:"item_id,omitempty"`
	Status        string         `json:"status,omitempty"`
	PaymentStatus string         `json:"payment_status,omitempty"`
	PaymentMethod string         `json:"payment_method,omitempty"`
	Amount        string         `json:"amount,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, userID, status string, metadata map[string]any) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		UserID:    userID,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// TopicFor выбирает topic по типу агрегата outbox-сообщения.
func TopicFor(aggregateType string) string {
	switch strings.ToLower(strings.TrimSpace(aggregateType)) {
	case "wallet":
		return TopicWalletEvents
	default:
		return TopicOrderEvents
	}
}
