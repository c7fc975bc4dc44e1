package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// MockGateway — конфигурируемый шлюз в памяти для локального запуска и тестов.
type MockGateway struct {
	mu     sync.Mutex
	signer *HMACVerifier
	orders map[string]domain.GatewayOrder
	seq    int

	CreateErr error
	FetchErr  error

	CreateCalls int
	FetchCalls  int
}

// NewMockGateway создаёт мок, подписывающий платежи тем же секретом, что и верификатор.
func NewMockGateway(secret string) *MockGateway {
	return &MockGateway{
		signer: NewHMACVerifier(secret),
		orders: make(map[string]domain.GatewayOrder),
	}
}

// CreateOrder регистрирует заказ шлюза.
func (m *MockGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (domain.GatewayOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	if m.CreateErr != nil {
		return domain.GatewayOrder{}, m.CreateErr
	}
	if err := ctx.Err(); err != nil {
		return domain.GatewayOrder{}, err
	}

	m.seq++
	order := domain.GatewayOrder{
		ID:          fmt.Sprintf("order_mock_%d", m.seq),
		AmountMinor: amountMinor,
		Currency:    currency,
		Receipt:     receipt,
		Status:      "created",
	}
	m.orders[order.ID] = order
	return order, nil
}

// FetchOrder возвращает ранее созданный заказ шлюза.
func (m *MockGateway) FetchOrder(ctx context.Context, gatewayOrderID string) (domain.GatewayOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FetchCalls++
	if m.FetchErr != nil {
		return domain.GatewayOrder{}, m.FetchErr
	}
	if err := ctx.Err(); err != nil {
		return domain.GatewayOrder{}, err
	}

	order, ok := m.orders[gatewayOrderID]
	if !ok {
		return domain.GatewayOrder{}, domain.ErrGatewayOrderMismatch.Withf("gateway order %s not found", gatewayOrderID)
	}
	return order, nil
}

// Pay имитирует успешную оплату и возвращает callback с корректной подписью.
func (m *MockGateway) Pay(gatewayOrderID string) domain.PaymentCallback {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	paymentID := fmt.Sprintf("pay_mock_%d", m.seq)
	if order, ok := m.orders[gatewayOrderID]; ok {
		order.Status = "paid"
		m.orders[gatewayOrderID] = order
	}
	return domain.PaymentCallback{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        m.signer.Sign(gatewayOrderID, paymentID),
	}
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
