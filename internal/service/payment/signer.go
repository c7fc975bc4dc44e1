package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// HMACVerifier проверяет подпись callback шлюза:
// hex(HMAC-SHA256(secret, gatewayOrderID + "|" + gatewayPaymentID)).
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier создаёт верификатор с секретом шлюза.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Sign считает подпись; используется мок-шлюзом и тестами.
func (v *HMACVerifier) Sign(gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify сравнивает подписи за постоянное время.
func (v *HMACVerifier) Verify(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if len(v.secret) == 0 || signature == "" {
		return false
	}
	expected := v.Sign(gatewayOrderID, gatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

var _ domain.SignatureVerifier = (*HMACVerifier)(nil)
