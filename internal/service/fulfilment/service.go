// Package fulfilment ведёт заказ после оформления: просмотр, отмена, возвраты
// и продвижение статуса администратором.
package fulfilment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
	"github.com/vladislavdragonenkov/storefront/internal/service/wallet"
)

const defaultCancelReason = "Customer cancelled"

var tracer = otel.Tracer("github.com/vladislavdragonenkov/storefront/internal/service/fulfilment")

// Option настраивает Service.
type Option func(*Service)

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

// Service — отмены, возвраты и статусы заказов.
type Service struct {
	uow      domain.UnitOfWork
	wallets  *wallet.Service
	recorder *events.Recorder
	metrics  *metrics.CheckoutMetrics
	policy   domain.Policy
	now      func() time.Time
	logger   *log.Entry
}

// NewService создаёт сервис; recorder и metrics могут быть nil.
func NewService(uow domain.UnitOfWork, wallets *wallet.Service, recorder *events.Recorder, m *metrics.CheckoutMetrics, policy domain.Policy, opts ...Option) *Service {
	if recorder == nil {
		recorder = events.NewRecorder(m)
	}
	s := &Service{
		uow:      uow,
		wallets:  wallets,
		recorder: recorder,
		metrics:  m,
		policy:   policy,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   log.WithField("component", "fulfilment"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OrderDetail — заказ вместе с суммой возвратов и историей событий.
type OrderDetail struct {
	Order          domain.Order
	RefundedAmount decimal.Decimal
	Timeline       []domain.TimelineEvent
}

// GetOrder возвращает заказ пользователя; чужой заказ выглядит как отсутствующий.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (OrderDetail, error) {
	repos := s.uow.Repositories()
	order, err := loadOrder(ctx, repos, userID, orderID)
	if err != nil {
		return OrderDetail{}, err
	}
	timeline, err := repos.Timeline.List(ctx, order.ID)
	if err != nil {
		return OrderDetail{}, fmt.Errorf("load timeline: %w", err)
	}
	return OrderDetail{
		Order:          order,
		RefundedAmount: order.RefundedAmount(),
		Timeline:       timeline,
	}, nil
}

// ListOrders возвращает заказы пользователя, новые первыми.
func (s *Service) ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidInput.Withf("user id is required")
	}
	if limit < 0 {
		limit = 0
	}
	return s.uow.Repositories().Orders.ListByUser(ctx, userID, limit)
}

func loadOrder(ctx context.Context, repos domain.Repositories, userID, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
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

// restoreStock возвращает остаток, если он был списан при оформлении или оплате.
func restoreStock(ctx context.Context, repos domain.Repositories, order *domain.Order, item domain.OrderItem) error {
	if !order.StockReserved || item.ProductID == "" {
		return nil
	}
	if err := repos.Catalog.AdjustStock(ctx, item.ProductID, item.Quantity); err != nil {
		return fmt.Errorf("restore stock for %s: %w", item.ProductID, err)
	}
	return nil
}

// settle закрывает заказ, когда все позиции отменены или возвращены.
// Оплаченный заказ при этом переходит в REFUNDED.
func (s *Service) settle(order *domain.Order) bool {
	if !order.AllItemsTerminal() {
		return false
	}
	order.Status = domain.OrderStatusCancelled
	if order.PaymentStatus == domain.PaymentStatusPaid {
		order.PaymentStatus = domain.PaymentStatusRefunded
	}
	return true
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s *Service) finish(span trace.Span, operation string, started time.Time, err error) {
	s.metrics.RecordOperationDuration(operation, time.Since(started))
	if err != nil {
		s.metrics.RecordRejected(operation, string(domain.KindOf(err)))
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}

func (s *Service) recordRefund(reason domain.TransactionReason, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	s.metrics.RecordRefund(string(reason), amount.InexactFloat64())
	s.metrics.RecordWalletTransaction(string(domain.TransactionCredit), string(reason))
}
