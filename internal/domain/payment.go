package domain

// PaymentMethod — способ оплаты заказа.
type PaymentMethod string

const (
	// PaymentMethodCOD — оплата при получении.
	PaymentMethodCOD PaymentMethod = "COD"
	// PaymentMethodWallet — списание с внутреннего кошелька.
	PaymentMethodWallet PaymentMethod = "WALLET"
	// PaymentMethodGateway — онлайн-оплата через платёжный шлюз.
	PaymentMethodGateway PaymentMethod = "GATEWAY"
)

// Valid проверяет, что способ оплаты поддерживается.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodWallet, PaymentMethodGateway:
		return true
	default:
		return false
	}
}

// PaymentStatus описывает состояние оплаты заказа: PENDING → PAID → REFUNDED, либо FAILED.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// GatewayOrder — заказ, созданный на стороне платёжного шлюза.
type GatewayOrder struct {
	ID          string
	AmountMinor int64
	Currency    string
	Receipt     string
	Status      string
}

// GatewayCheckout — параметры, которые клиент передаёт в виджет шлюза.
type GatewayCheckout struct {
	KeyID          string
	GatewayOrderID string
	AmountMinor    int64
	Currency       string
	Receipt        string
}

// PaymentCallback — подписанный callback шлюза об успешной оплате.
type PaymentCallback struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Validate проверяет, что все поля callback заполнены.
func (c PaymentCallback) Validate() error {
	if c.GatewayOrderID == "" || c.GatewayPaymentID == "" || c.Signature == "" {
		return ErrInvalidInput.Withf("missing payment verification fields")
	}
	return nil
}
