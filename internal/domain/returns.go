package domain

import "time"

// ReturnStatus — статус заявки на возврат.
type ReturnStatus string

const (
	ReturnStatusPending  ReturnStatus = "PENDING"
	ReturnStatusApproved ReturnStatus = "APPROVED"
	ReturnStatusRejected ReturnStatus = "REJECTED"
)

// ReturnRequest — заявка на возврат позиции. На пару (заказ, позиция) допускается одна PENDING.
type ReturnRequest struct {
	ID          string
	OrderID     string
	ItemID      string
	UserID      string
	Reason      string
	Status      ReturnStatus
	ProcessedAt *time.Time
	CreatedAt   time.Time
}
