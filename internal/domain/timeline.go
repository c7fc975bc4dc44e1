package domain

import "time"

// Типы событий жизненного цикла заказа (timeline + outbox).
const (
	EventOrderPlaced        = "order.placed"
	EventPaymentCaptured    = "order.payment_captured"
	EventPaymentFailed      = "order.payment_failed"
	EventPaymentRetried     = "order.payment_retried"
	EventPaymentCompensated = "order.payment_compensated"
	EventOrderCancelled     = "order.cancelled"
	EventItemCancelled      = "order.item_cancelled"
	EventReturnRequested    = "order.return_requested"
	EventReturnApproved     = "order.return_approved"
	EventReturnRejected     = "order.return_rejected"
	EventStatusUpdated      = "order.status_updated"
	EventWalletCredited     = "wallet.credited"
	EventWalletDebited      = "wallet.debited"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
