package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/wallet"
)

const maxBodyBytes = 64 << 10

type handlers struct {
	checkout *checkout.Service
	wallets  *wallet.Service
	logger   *log.Entry
}

type callbackRequest struct {
	OrderID          string `json:"order_id,omitempty"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

func (c callbackRequest) toDomain() domain.PaymentCallback {
	return domain.PaymentCallback{
		GatewayOrderID:   strings.TrimSpace(c.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(c.GatewayPaymentID),
		Signature:        strings.TrimSpace(c.Signature),
	}
}

type paymentVerifiedResponse struct {
	Success       bool   `json:"success"`
	OrderID       string `json:"order_id"`
	OrderCode     string `json:"order_code"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	GrandTotal    string `json:"grand_total"`
}

type depositVerifiedResponse struct {
	Success bool   `json:"success"`
	Balance string `json:"balance"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// verifyPayment — callback шлюза после оплаты заказа.
func (h *handlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req callbackRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		h.writeError(w, domain.ErrInvalidInput.Withf("order_id is required"))
		return
	}

	order, err := h.checkout.VerifyPayment(r.Context(), userID, strings.TrimSpace(req.OrderID), req.toDomain())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentVerifiedResponse{
		Success:       true,
		OrderID:       order.ID,
		OrderCode:     order.Code,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		GrandTotal:    order.GrandTotal.StringFixed(2),
	})
}

// verifyDeposit — callback шлюза после пополнения кошелька.
func (h *handlers) verifyDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req callbackRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.wallets.VerifyDeposit(r.Context(), userID, req.toDomain())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositVerifiedResponse{Success: true, Balance: view.Balance.StringFixed(2)})
}

func (h *handlers) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(userIDHeader))
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Code: "UNAUTHENTICATED", Message: "user is not authenticated"})
		return "", false
	}
	return userID, true
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, domain.ErrInvalidInput.Withf("invalid json body"))
		return false
	}
	return true
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	body := errorResponse{Code: "INTERNAL", Message: "internal error"}

	var de *domain.Error
	if errors.As(err, &de) {
		body.Code = de.Code
		body.Message = de.Message
	}
	if code >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("status", code).Error("request failed")
	}
	writeJSON(w, code, body)
}

// statusFor маппит класс доменной ошибки на HTTP-статус.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindVerificationFailed:
		return http.StatusUnauthorized
	case domain.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
