// Package wallet — просмотр кошелька, пополнение через платёжный шлюз и
// проводки возвратов внутри транзакций заказа.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
)

const defaultGatewayTimeout = 10 * time.Second

// View — представление кошелька: баланс, журнал (новые первыми) и обороты.
type View struct {
	UserID       string
	Balance      decimal.Decimal
	Transactions []domain.WalletTransaction
	TotalCredits decimal.Decimal
	TotalDebits  decimal.Decimal
}

// Option настраивает Service.
type Option func(*Service)

// WithGatewayTimeout ограничивает время ожидания шлюза.
func WithGatewayTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.gatewayTimeout = d
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service обслуживает кошельки пользователей.
type Service struct {
	uow            domain.UnitOfWork
	gateway        domain.PaymentGateway
	verifier       domain.SignatureVerifier
	recorder       *events.Recorder
	metrics        *metrics.CheckoutMetrics
	policy         domain.Policy
	keyID          string
	gatewayTimeout time.Duration
	now            func() time.Time
	logger         *log.Entry
}

// NewService создаёт сервис кошелька. keyID: публичный ключ шлюза для клиента.
func NewService(
	uow domain.UnitOfWork,
	gateway domain.PaymentGateway,
	verifier domain.SignatureVerifier,
	recorder *events.Recorder,
	m *metrics.CheckoutMetrics,
	policy domain.Policy,
	keyID string,
	logger *log.Entry,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = log.WithField("component", "wallet")
	}
	if recorder == nil {
		recorder = events.NewRecorder(m)
	}
	s := &Service{
		uow:            uow,
		gateway:        gateway,
		verifier:       verifier,
		recorder:       recorder,
		metrics:        m,
		policy:         policy,
		keyID:          keyID,
		gatewayTimeout: defaultGatewayTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get возвращает кошелёк пользователя; отсутствующий кошелёк пуст.
func (s *Service) Get(ctx context.Context, userID string) (View, error) {
	if strings.TrimSpace(userID) == "" {
		return View{}, domain.ErrInvalidInput.Withf("user id is required")
	}
	w, err := s.uow.Repositories().Wallets.Get(ctx, userID)
	if err != nil {
		return View{}, fmt.Errorf("load wallet: %w", err)
	}
	return NewView(userID, w), nil
}

// NewView строит представление кошелька.
func NewView(userID string, w domain.Wallet) View {
	txs := append([]domain.WalletTransaction(nil), w.Transactions...)
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].CreatedAt.After(txs[j].CreatedAt) })
	credits, debits := w.Totals()
	return View{
		UserID:       userID,
		Balance:      w.Balance,
		Transactions: txs,
		TotalCredits: credits,
		TotalDebits:  debits,
	}
}

// CreateDeposit создаёт заказ шлюза на пополнение кошелька и запоминает его за пользователем.
func (s *Service) CreateDeposit(ctx context.Context, userID string, amount decimal.Decimal) (domain.GatewayCheckout, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.GatewayCheckout{}, domain.ErrInvalidInput.Withf("user id is required")
	}
	amount = domain.Round2(amount)
	if !amount.IsPositive() {
		return domain.GatewayCheckout{}, domain.ErrInvalidInput.Withf("deposit amount must be positive")
	}
	if amount.LessThan(s.policy.GatewayMinAmount) {
		return domain.GatewayCheckout{}, domain.ErrGatewayBelowMinimum
	}

	now := s.now()
	receipt := fmt.Sprintf("wal_%d", now.UnixMilli())
	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	order, err := s.gateway.CreateOrder(gctx, domain.MinorUnits(amount), s.policy.Currency, receipt)
	if err != nil {
		return domain.GatewayCheckout{}, upstream(err)
	}

	deposit := domain.Deposit{
		GatewayOrderID: order.ID,
		UserID:         userID,
		Receipt:        receipt,
		Amount:         domain.FromMinorUnits(order.AmountMinor),
		Status:         domain.DepositStatusPending,
		CreatedAt:      now,
	}
	if err := s.uow.Repositories().Deposits.Create(ctx, deposit); err != nil {
		return domain.GatewayCheckout{}, fmt.Errorf("save deposit: %w", err)
	}

	return domain.GatewayCheckout{
		KeyID:          s.keyID,
		GatewayOrderID: order.ID,
		AmountMinor:    order.AmountMinor,
		Currency:       order.Currency,
		Receipt:        receipt,
	}, nil
}

// VerifyDeposit проверяет подпись и владельца пополнения, сверяет сумму со шлюзом и зачисляет её.
// Повторный callback с тем же платежом ничего не меняет.
func (s *Service) VerifyDeposit(ctx context.Context, userID string, cb domain.PaymentCallback) (View, error) {
	if strings.TrimSpace(userID) == "" {
		return View{}, domain.ErrInvalidInput.Withf("user id is required")
	}
	if err := cb.Validate(); err != nil {
		return View{}, err
	}
	if !s.verifier.Verify(cb.GatewayOrderID, cb.GatewayPaymentID, cb.Signature) {
		s.metrics.RecordPaymentVerification("deposit_signature_mismatch")
		return View{}, domain.ErrVerificationFailed
	}

	deposit, err := s.ownDeposit(ctx, s.uow.Repositories(), userID, cb.GatewayOrderID)
	if err != nil {
		s.metrics.RecordPaymentVerification("deposit_unknown")
		return View{}, err
	}
	if deposit.Status == domain.DepositStatusCompleted {
		return s.completedDeposit(ctx, userID, deposit, cb)
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	gwOrder, err := s.gateway.FetchOrder(gctx, cb.GatewayOrderID)
	if err != nil {
		return View{}, upstream(err)
	}
	amount := domain.FromMinorUnits(gwOrder.AmountMinor)
	if !amount.IsPositive() {
		return View{}, domain.ErrGatewayOrderMismatch.Withf("gateway order %s has no amount", cb.GatewayOrderID)
	}
	if !amount.Equal(deposit.Amount) {
		s.metrics.RecordPaymentVerification("deposit_amount_mismatch")
		return View{}, domain.ErrDepositMismatch.Withf("gateway order amount %s, deposit %s",
			amount.StringFixed(2), deposit.Amount.StringFixed(2))
	}

	var (
		view     View
		replayed bool
	)
	err = s.uow.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		current, err := s.ownDeposit(ctx, repos, userID, cb.GatewayOrderID)
		if err != nil {
			return err
		}
		if current.Status == domain.DepositStatusCompleted {
			deposit, replayed = current, true
			return nil
		}
		if err := repos.Deposits.Complete(ctx, cb.GatewayOrderID, cb.GatewayPaymentID, s.now()); err != nil {
			return err
		}

		tx := s.newTransaction(domain.TransactionCredit, deposit.Amount, domain.ReasonDeposit, "", "Wallet top-up")
		tx.Reference = cb.GatewayPaymentID
		w, err := repos.Wallets.Apply(ctx, userID, tx)
		if err != nil {
			return err
		}
		if err := s.recorder.RecordWallet(ctx, repos, userID, tx); err != nil {
			return err
		}
		view = NewView(userID, w)
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateWalletReference) {
		s.metrics.RecordPaymentVerification("deposit_duplicate_payment")
		return View{}, domain.ErrDepositMismatch.Withf("payment %s is already credited", cb.GatewayPaymentID)
	}
	if err != nil {
		return View{}, err
	}
	if replayed {
		return s.completedDeposit(ctx, userID, deposit, cb)
	}

	s.metrics.RecordPaymentVerification("deposit_verified")
	s.metrics.RecordWalletTransaction(string(domain.TransactionCredit), string(domain.ReasonDeposit))
	s.logger.WithFields(log.Fields{
		"user_id":    userID,
		"amount":     deposit.Amount.StringFixed(2),
		"payment_id": cb.GatewayPaymentID,
	}).Info("wallet deposit credited")
	return view, nil
}

// ownDeposit загружает пополнение; чужое пополнение не отличается от отсутствующего.
func (s *Service) ownDeposit(ctx context.Context, repos domain.Repositories, userID, gatewayOrderID string) (domain.Deposit, error) {
	deposit, err := repos.Deposits.Get(ctx, gatewayOrderID)
	if err != nil {
		return domain.Deposit{}, err
	}
	if !deposit.OwnedBy(userID) {
		return domain.Deposit{}, domain.ErrDepositNotFound
	}
	return deposit, nil
}

// completedDeposit отвечает на повтор: тот же платёж возвращает кошелёк, другой отклоняется.
func (s *Service) completedDeposit(ctx context.Context, userID string, deposit domain.Deposit, cb domain.PaymentCallback) (View, error) {
	if deposit.GatewayPaymentID != cb.GatewayPaymentID {
		return View{}, domain.ErrDepositMismatch.Withf("deposit %s is already completed", deposit.GatewayOrderID)
	}
	return s.Get(ctx, userID)
}

// Credit зачисляет amount внутри транзакции вызывающего; нулевая сумма пропускается.
func (s *Service) Credit(ctx context.Context, repos domain.Repositories, userID string, amount decimal.Decimal, reason domain.TransactionReason, orderID, description string) (domain.WalletTransaction, error) {
	amount = domain.Round2(amount)
	if !amount.IsPositive() {
		return domain.WalletTransaction{}, nil
	}
	tx := s.newTransaction(domain.TransactionCredit, amount, reason, orderID, description)
	if _, err := repos.Wallets.Apply(ctx, userID, tx); err != nil {
		return domain.WalletTransaction{}, fmt.Errorf("credit wallet: %w", err)
	}
	if err := s.recorder.RecordWallet(ctx, repos, userID, tx); err != nil {
		return domain.WalletTransaction{}, err
	}
	return tx, nil
}

// Debit списывает amount внутри транзакции вызывающего.
func (s *Service) Debit(ctx context.Context, repos domain.Repositories, userID string, amount decimal.Decimal, reason domain.TransactionReason, orderID, description string) (domain.WalletTransaction, error) {
	tx := s.newTransaction(domain.TransactionDebit, domain.Round2(amount), reason, orderID, description)
	if _, err := repos.Wallets.Apply(ctx, userID, tx); err != nil {
		return domain.WalletTransaction{}, err
	}
	if err := s.recorder.RecordWallet(ctx, repos, userID, tx); err != nil {
		return domain.WalletTransaction{}, err
	}
	return tx, nil
}

func (s *Service) newTransaction(typ domain.TransactionType, amount decimal.Decimal, reason domain.TransactionReason, orderID, description string) domain.WalletTransaction {
	return domain.WalletTransaction{
		ID:          uuid.NewString(),
		Type:        typ,
		Amount:      amount,
		Reason:      reason,
		Description: description,
		OrderID:     orderID,
		CreatedAt:   s.now(),
	}
}

// upstream приводит ошибки шлюза к ErrGatewayUnavailable, сохраняя бизнес-ошибки.
func upstream(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.ErrGatewayUnavailable.Wrap(err)
}
