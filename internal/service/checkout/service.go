// Package checkout оформляет заказы, подтверждает онлайн-оплату и повторяет её.
package checkout

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/wallet"
)

const defaultGatewayTimeout = 10 * time.Second

var tracer = otel.Tracer("github.com/vladislavdragonenkov/storefront/internal/service/checkout")

// Option настраивает Service.
type Option func(*Service)

// WithGatewayTimeout ограничивает ожидание ответа шлюза при создании заказа.
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

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service — оформление заказа и подтверждение оплаты.
type Service struct {
	uow            domain.UnitOfWork
	pricer         *pricing.Pricer
	wallets        *wallet.Service
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

// Dependencies — зависимости сервиса оформления.
type Dependencies struct {
	UnitOfWork domain.UnitOfWork
	Pricer     *pricing.Pricer
	Wallets    *wallet.Service
	Gateway    domain.PaymentGateway
	Verifier   domain.SignatureVerifier
	Recorder   *events.Recorder
	Metrics    *metrics.CheckoutMetrics
	Policy     domain.Policy
	// GatewayKeyID — публичный ключ шлюза, который уходит клиенту вместе с параметрами оплаты.
	GatewayKeyID string
}

// NewService создаёт сервис оформления.
func NewService(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		uow:            deps.UnitOfWork,
		pricer:         deps.Pricer,
		wallets:        deps.Wallets,
		gateway:        deps.Gateway,
		verifier:       deps.Verifier,
		recorder:       deps.Recorder,
		metrics:        deps.Metrics,
		policy:         deps.Policy,
		keyID:          deps.GatewayKeyID,
		gatewayTimeout: defaultGatewayTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         log.WithField("component", "checkout"),
	}
	if s.recorder == nil {
		s.recorder = events.NewRecorder(s.metrics)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newOrderCode — ORD + unix ms + три случайные цифры.
func (s *Service) newOrderCode() string {
	return fmt.Sprintf("ORD%d%03d", s.now().UnixMilli(), rand.IntN(1000))
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// finish закрывает span и пишет метрики операции.
func (s *Service) finish(span trace.Span, operation string, started time.Time, err error) {
	s.metrics.RecordOperationDuration(operation, time.Since(started))
	if err != nil {
		s.metrics.RecordRejected(operation, string(domain.KindOf(err)))
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}

func (s *Service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.gatewayTimeout)
}

// gatewayError приводит ошибки шлюза к ErrGatewayUnavailable, сохраняя бизнес-ошибки.
func gatewayError(err error) error {
	if domain.KindOf(err) != domain.KindInternal {
		return err
	}
	return domain.ErrGatewayUnavailable.Wrap(err)
}

// loadOwnedOrder возвращает заказ пользователя; чужой заказ неотличим от отсутствующего.
func loadOwnedOrder(ctx context.Context, repos domain.Repositories, userID, orderID string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrInvalidInput.Withf("order id is required")
	}
	order, err := repos.Orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if userID != "" && order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}
