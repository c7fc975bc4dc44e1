package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

func TestHMACVerifier(t *testing.T) {
	v := NewHMACVerifier("secret")
	sig := v.Sign("order_1", "pay_1")

	assert.Len(t, sig, 64)
	assert.True(t, v.Verify("order_1", "pay_1", sig))
	assert.False(t, v.Verify("order_1", "pay_2", sig))
	assert.False(t, v.Verify("order_1", "pay_1", ""))
	assert.False(t, NewHMACVerifier("other").Verify("order_1", "pay_1", sig))
	assert.False(t, NewHMACVerifier("").Verify("order_1", "pay_1", sig))
}

func TestCircuitBreakerLifecycle(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, log.WithField("test", "breaker"))
	now := time.Now()
	cb.now = func() time.Time { return now }
	boom := errors.New("boom")

	assert.ErrorIs(t, cb.Execute("op", func() error { return boom }), boom)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.ErrorIs(t, cb.Execute("op", func() error { return boom }), boom)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute("op", func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute("op", func() error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, "closed", cb.State().String())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Second, nil)
	now := time.Now()
	cb.now = func() time.Time { return now }

	_ = cb.Execute("op", func() error { return errors.New("x") })
	now = now.Add(2 * time.Second)
	_ = cb.Execute("op", func() error { return errors.New("still down") })
	assert.Equal(t, CircuitOpen, cb.State())
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw, err := NewHTTPGateway(GatewayConfig{
		BaseURL:     srv.URL,
		KeyID:       "key",
		KeySecret:   "secret",
		Timeout:     time.Second,
		MaxFailures: 2,
	}, metrics.NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry()), nil)
	require.NoError(t, err)
	return gw
}

func TestHTTPGatewayCreateAndFetch(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/orders":
			var req gatewayOrderRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(gatewayOrderResponse{ID: "order_1", Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt, Status: "created"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/orders/order_1":
			_ = json.NewEncoder(w).Encode(gatewayOrderResponse{ID: "order_1", Amount: 12345, Currency: "INR", Status: "paid"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	order, err := gw.CreateOrder(context.Background(), 12345, "INR", "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "order_1", order.ID)
	assert.Equal(t, int64(12345), order.AmountMinor)
	assert.Equal(t, "ORD-1", order.Receipt)

	fetched, err := gw.FetchOrder(context.Background(), "order_1")
	require.NoError(t, err)
	assert.Equal(t, "paid", fetched.Status)

	_, err = gw.FetchOrder(context.Background(), "order_404")
	assert.True(t, errors.Is(err, domain.ErrGatewayOrderMismatch))
	assert.Equal(t, CircuitClosed, gw.breaker.State(), "4xx must not open the breaker")
}

func TestHTTPGatewayUnavailableOpensBreaker(t *testing.T) {
	var calls atomic.Int32
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 3; i++ {
		_, err := gw.CreateOrder(context.Background(), 100, "INR", "r")
		assert.True(t, errors.Is(err, domain.ErrGatewayUnavailable))
		assert.Equal(t, domain.KindUpstreamUnavailable, domain.KindOf(err))
	}
	assert.Equal(t, int32(2), calls.Load(), "third call is short-circuited")
}

func TestHTTPGatewayClientErrorsAreRejections(t *testing.T) {
	var calls, status atomic.Int32
	status.Store(http.StatusBadRequest)
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":"amount exceeds maximum"}`))
	})

	for i := 0; i < 3; i++ {
		_, err := gw.CreateOrder(context.Background(), 100, "INR", "r")
		assert.True(t, errors.Is(err, domain.ErrGatewayRejected), "err %v", err)
		assert.False(t, errors.Is(err, domain.ErrGatewayUnavailable))
		assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, CircuitClosed, gw.breaker.State())

	status.Store(http.StatusTooManyRequests)
	_, err := gw.CreateOrder(context.Background(), 100, "INR", "r")
	assert.True(t, errors.Is(err, domain.ErrGatewayUnavailable), "err %v", err)
}

func TestHTTPGatewayTimeout(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := gw.CreateOrder(ctx, 100, "INR", "r")
	assert.True(t, errors.Is(err, domain.ErrGatewayUnavailable))
}

func TestNewHTTPGatewayRejectsBadURL(t *testing.T) {
	_, err := NewHTTPGateway(GatewayConfig{BaseURL: "::"}, nil, nil)
	assert.Error(t, err)
}

func TestMockGateway(t *testing.T) {
	gw := NewMockGateway("secret")
	order, err := gw.CreateOrder(context.Background(), 500, "INR", "wal_1")
	require.NoError(t, err)

	fetched, err := gw.FetchOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), fetched.AmountMinor)

	cb := gw.Pay(order.ID)
	assert.True(t, NewHMACVerifier("secret").Verify(cb.GatewayOrderID, cb.GatewayPaymentID, cb.Signature))

	gw.CreateErr = errors.New("down")
	_, err = gw.CreateOrder(context.Background(), 1, "INR", "r")
	assert.Error(t, err)
	assert.Equal(t, 2, gw.CreateCalls)
}
