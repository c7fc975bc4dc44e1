package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType — направление движения по кошельку.
type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

// TransactionReason — тег причины движения.
type TransactionReason string

const (
	ReasonCancelRefund     TransactionReason = "cancel_refund"
	ReasonReturnRefund     TransactionReason = "return_refund"
	ReasonWalletPayment    TransactionReason = "wallet_payment"
	ReasonDeposit          TransactionReason = "deposit"
	ReasonManualAdjustment TransactionReason = "manual_adjustment"
)

// WalletTransaction — неизменяемая запись журнала кошелька.
// Reference (если задан) уникален среди всех кошельков и делает операцию идемпотентной.
type WalletTransaction struct {
	ID          string
	Type        TransactionType
	Amount      decimal.Decimal
	Reason      TransactionReason
	Description string
	OrderID     string
	Reference   string
	CreatedAt   time.Time
}

// Signed возвращает сумму со знаком.
func (t WalletTransaction) Signed() decimal.Decimal {
	if t.Type == TransactionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Wallet — кошелёк пользователя. Balance всегда равен сумме журнала со знаком.
type Wallet struct {
	UserID       string
	Balance      decimal.Decimal
	Transactions []WalletTransaction
	UpdatedAt    time.Time
}

// HasReference проверяет, что операция с таким reference уже проведена.
func (w Wallet) HasReference(ref string) bool {
	if ref == "" {
		return false
	}
	for _, t := range w.Transactions {
		if t.Reference == ref {
			return true
		}
	}
	return false
}

// Apply проводит транзакцию; дебет, уводящий баланс в минус, отклоняется до изменения.
func (w *Wallet) Apply(tx WalletTransaction) error {
	if !tx.Amount.IsPositive() {
		return ErrInvalidInput.Withf("wallet transaction amount must be positive")
	}
	next := w.Balance.Add(tx.Signed())
	if next.IsNegative() {
		return ErrInsufficientBalance
	}
	w.Balance = next
	w.Transactions = append(w.Transactions, tx)
	w.UpdatedAt = tx.CreatedAt
	return nil
}

// Totals возвращает суммы кредитов и дебетов.
func (w Wallet) Totals() (credits, debits decimal.Decimal) {
	credits, debits = decimal.Zero, decimal.Zero
	for _, t := range w.Transactions {
		if t.Type == TransactionDebit {
			debits = debits.Add(t.Amount)
		} else {
			credits = credits.Add(t.Amount)
		}
	}
	return credits, debits
}

// ValidateInvariants сверяет баланс с журналом.
func (w Wallet) ValidateInvariants() []error {
	var errs []error
	sum := decimal.Zero
	for _, t := range w.Transactions {
		sum = sum.Add(t.Signed())
	}
	if !sum.Equal(w.Balance) {
		errs = append(errs, ErrInvalidInput.Withf("wallet balance does not match transactions"))
	}
	if w.Balance.IsNegative() {
		errs = append(errs, ErrInvalidInput.Withf("wallet balance is negative"))
	}
	return errs
}

// Clone возвращает копию с независимым журналом.
func (w Wallet) Clone() Wallet {
	cp := w
	cp.Transactions = append([]WalletTransaction(nil), w.Transactions...)
	return cp
}
