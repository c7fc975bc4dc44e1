// Package payment — клиент платёжного шлюза, проверка подписи callback и мок шлюза.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	maxGatewayBodyBytes   = 1 << 20
)

// GatewayConfig — параметры HTTP-клиента шлюза.
type GatewayConfig struct {
	BaseURL      string
	KeyID        string
	KeySecret    string
	Timeout      time.Duration
	MaxFailures  int
	ResetTimeout time.Duration
}

// HTTPGateway — клиент REST API шлюза с ограничением по времени и circuit breaker.
// Сетевая ошибка, таймаут, 5xx, 401/403/408/429 или открытый breaker превращаются в ErrGatewayUnavailable,
// 404 в ErrGatewayOrderMismatch, прочие 4xx в ErrGatewayRejected.
type HTTPGateway struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
	breaker   *CircuitBreaker
	metrics   *metrics.CheckoutMetrics
	logger    *log.Entry
}

// NewHTTPGateway создаёт клиент шлюза.
func NewHTTPGateway(cfg GatewayConfig, m *metrics.CheckoutMetrics, logger *log.Entry) (*HTTPGateway, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("invalid gateway base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGatewayTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "payment-gateway")
	}

	return &HTTPGateway{
		baseURL:   base,
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout, logger),
		metrics: m,
		logger:  logger,
	}, nil
}

type gatewayOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type gatewayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

func (r gatewayOrderResponse) toDomain() domain.GatewayOrder {
	return domain.GatewayOrder{
		ID:          r.ID,
		AmountMinor: r.Amount,
		Currency:    r.Currency,
		Receipt:     r.Receipt,
		Status:      r.Status,
	}
}

// CreateOrder создаёт заказ шлюза.
func (g *HTTPGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (domain.GatewayOrder, error) {
	body, err := json.Marshal(gatewayOrderRequest{Amount: amountMinor, Currency: currency, Receipt: receipt})
	if err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("marshal gateway order: %w", err)
	}

	var resp gatewayOrderResponse
	if err := g.call(ctx, "create_order", http.MethodPost, "/v1/orders", body, &resp); err != nil {
		return domain.GatewayOrder{}, err
	}
	if resp.ID == "" {
		return domain.GatewayOrder{}, domain.ErrGatewayUnavailable.Wrap(errors.New("gateway returned empty order id"))
	}
	return resp.toDomain(), nil
}

// FetchOrder запрашивает заказ шлюза по идентификатору.
func (g *HTTPGateway) FetchOrder(ctx context.Context, gatewayOrderID string) (domain.GatewayOrder, error) {
	if strings.TrimSpace(gatewayOrderID) == "" {
		return domain.GatewayOrder{}, domain.ErrInvalidInput.Withf("gateway order id is required")
	}

	var resp gatewayOrderResponse
	if err := g.call(ctx, "fetch_order", http.MethodGet, "/v1/orders/"+url.PathEscape(gatewayOrderID), nil, &resp); err != nil {
		return domain.GatewayOrder{}, err
	}
	return resp.toDomain(), nil
}

// errGatewayRejected — ответ 4xx; breaker его не учитывает.
type errGatewayRejected struct {
	status int
	body   string
}

func (e *errGatewayRejected) Error() string {
	return fmt.Sprintf("gateway rejected request: status %d: %s", e.status, e.body)
}

// transient — отказы, которые зависят от состояния шлюза или наших ключей, а не от запроса.
func (e *errGatewayRejected) transient() bool {
	switch e.status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func (g *HTTPGateway) call(ctx context.Context, operation, method, path string, body []byte, out any) error {
	started := time.Now()
	var rejected *errGatewayRejected

	err := g.breaker.Execute(operation, func() error {
		err := g.do(ctx, method, path, body, out)
		if errors.As(err, &rejected) {
			return nil
		}
		return err
	})
	if err == nil && rejected != nil {
		err = rejected
	}
	g.metrics.RecordGatewayCall(operation, time.Since(started), err)

	switch {
	case err == nil:
		return nil
	case rejected != nil && rejected.status == http.StatusNotFound:
		return domain.ErrGatewayOrderMismatch.Wrap(err)
	case rejected != nil && !rejected.transient():
		g.logger.WithError(err).WithField("operation", operation).Warn("payment gateway rejected request")
		return domain.ErrGatewayRejected.Wrap(err)
	default:
		g.logger.WithError(err).WithField("operation", operation).Warn("payment gateway call failed")
		return domain.ErrGatewayUnavailable.Wrap(err)
	}
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBodyBytes))
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("gateway error: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return &errGatewayRejected{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

var _ domain.PaymentGateway = (*HTTPGateway)(nil)
