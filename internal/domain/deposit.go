package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositStatus — статус пополнения кошелька через шлюз.
type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "PENDING"
	DepositStatusCompleted DepositStatus = "COMPLETED"
)

// Deposit — созданный пользователем заказ шлюза на пополнение.
// Зачислить его можно только владельцу и только один раз.
type Deposit struct {
	GatewayOrderID   string
	UserID           string
	Receipt          string
	Amount           decimal.Decimal
	Status           DepositStatus
	GatewayPaymentID string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// OwnedBy проверяет владельца пополнения.
func (d Deposit) OwnedBy(userID string) bool {
	return d.UserID != "" && d.UserID == userID
}

// Complete фиксирует платёж, которым оплачено пополнение.
func (d *Deposit) Complete(paymentID string, at time.Time) error {
	if d.Status != DepositStatusPending {
		return ErrDepositMismatch.Withf("deposit %s is already completed", d.GatewayOrderID)
	}
	d.Status = DepositStatusCompleted
	d.GatewayPaymentID = paymentID
	d.CompletedAt = &at
	return nil
}
