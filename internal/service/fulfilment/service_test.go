package fulfilment_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfilment"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/wallet"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

var fixedNow = time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store *memory.Store
	repos domain.Repositories
	svc   *fulfilment.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	ctx := context.Background()
	require.NoError(t, repos.Catalog.SaveProduct(ctx, domain.Product{ID: "p1", Name: "Mug", Price: dec("200"), Stock: 5, Active: true}))
	require.NoError(t, repos.Catalog.SaveProduct(ctx, domain.Product{ID: "p2", Name: "Lamp", Price: dec("600"), Stock: 5, Active: true}))

	m := metrics.NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())
	recorder := events.NewRecorder(m)
	wallets := wallet.NewService(store, payment.NewMockGateway("s"), payment.NewHMACVerifier("s"), recorder, m, domain.DefaultPolicy(), "key", nil)
	svc := fulfilment.NewService(store, wallets, recorder, m, domain.DefaultPolicy(),
		fulfilment.WithClock(func() time.Time { return fixedNow }))
	return &fixture{store: store, repos: repos, svc: svc}
}

// seedOrder создаёт заказ из двух позиций: 400 (40% subtotal) и 600, скидка 100.
func (f *fixture) seedOrder(t *testing.T, method domain.PaymentMethod, payment domain.PaymentStatus, status domain.OrderStatus, reserved bool) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:            "o-" + string(method) + "-" + string(status),
		Code:          "ORD1",
		UserID:        "u1",
		Subtotal:      dec("1000"),
		DiscountTotal: dec("100"),
		ShippingFee:   decimal.Zero,
		GrandTotal:    dec("900"),
		PaymentMethod: method,
		PaymentStatus: payment,
		Status:        status,
		StockReserved: reserved,
		Items: []domain.OrderItem{
			{ID: "i1", ProductID: "p1", Name: "Mug", UnitPrice: dec("200"), Quantity: 2, LineTotal: dec("400"), Status: status},
			{ID: "i2", ProductID: "p2", Name: "Lamp", UnitPrice: dec("600"), Quantity: 1, LineTotal: dec("600"), Status: status},
		},
		CreatedAt: fixedNow.Add(-time.Hour),
	}
	require.Empty(t, order.ValidateInvariants())
	require.NoError(t, f.repos.Orders.Create(context.Background(), &order))
	return order
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := f.repos.Catalog.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	w, err := f.repos.Wallets.Get(context.Background(), "u1")
	require.NoError(t, err)
	return w.Balance
}

func TestCancelItemRefundsDiscountedShare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, domain.PaymentMethodWallet, domain.PaymentStatusPaid, domain.OrderStatusConfirmed, true)

	got, err := f.svc.CancelItem(ctx, "u1", order.ID, "i1", "")
	require.NoError(t, err)
	assert.True(t, f.balance(t).Equal(dec("360")), "400 - 100*0.4")
	assert.Equal(t, domain.OrderStatusConfirmed, got.Status)
	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, "Customer cancelled", got.Items[0].CancelReason)
	assert.Equal(t, 7, f.stock(t, "p1"))

	got, err = f.svc.CancelItem(ctx, "u1", order.ID, "i2", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	assert.Equal(t, domain.PaymentStatusRefunded, got.PaymentStatus)
	assert.True(t, f.balance(t).Equal(dec("900")))
	assert.True(t, got.RefundedAmount().Equal(got.GrandTotal))
	assert.Equal(t, 6, f.stock(t, "p2"))

	_, err = f.svc.CancelItem(ctx, "u1", order.ID, "i2", "")
	assert.ErrorIs(t, err, domain.ErrItemNotCancellable)
}

func TestCancelItemRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	delivered := f.seedOrder(t, domain.PaymentMethodCOD, domain.PaymentStatusPending, domain.OrderStatusDelivered, true)

	_, err := f.svc.CancelItem(ctx, "u1", delivered.ID, "i1", "")
	assert.ErrorIs(t, err, domain.ErrItemNotCancellable)

	_, err = f.svc.CancelItem(ctx, "u1", delivered.ID, "missing", "")
	assert.ErrorIs(t, err, domain.ErrOrderItemNotFound)

	_, err = f.svc.CancelItem(ctx, "intruder", delivered.ID, "i1", "")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = f.svc.CancelOrder(ctx, "u1", delivered.ID, "")
	assert.ErrorIs(t, err, domain.ErrOrderNotCancellable)
	assert.Equal(t, 5, f.stock(t, "p1"))
}

func TestCancelOrderCODDoesNotRefund(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, domain.PaymentMethodCOD, domain.PaymentStatusPending, domain.OrderStatusShipped, true)

	got, err := f.svc.CancelOrder(context.Background(), "u1", order.ID, "  too slow ")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	assert.Equal(t, domain.PaymentStatusPending, got.PaymentStatus)
	assert.Equal(t, "too slow", got.CancelReason)
	for _, item := range got.Items {
		assert.Equal(t, domain.OrderStatusCancelled, item.Status)
	}
	assert.True(t, f.balance(t).IsZero())
	assert.Equal(t, 7, f.stock(t, "p1"))
	assert.Equal(t, 6, f.stock(t, "p2"))

	_, err = f.svc.CancelOrder(context.Background(), "u1", order.ID, "")
	assert.ErrorIs(t, err, domain.ErrOrderNotCancellable)
}

func TestCancelOrderPaidRefundsRemainingItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, domain.PaymentMethodGateway, domain.PaymentStatusPaid, domain.OrderStatusPending, true)

	_, err := f.svc.CancelItem(ctx, "u1", order.ID, "i1", "")
	require.NoError(t, err)
	got, err := f.svc.CancelOrder(ctx, "u1", order.ID, "")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusRefunded, got.PaymentStatus)
	assert.True(t, f.balance(t).Equal(dec("900")))
	assert.Equal(t, 7, f.stock(t, "p1"), "already cancelled item is not restocked twice")

	w, err := f.repos.Wallets.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, w.Transactions, 2)
	assert.True(t, w.Transactions[1].Amount.Equal(dec("540")))
	assert.Equal(t, domain.ReasonCancelRefund, w.Transactions[1].Reason)
	assert.Equal(t, order.ID, w.Transactions[1].OrderID)
}

func TestCancelUnpaidGatewayOrderKeepsStock(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, domain.PaymentMethodGateway, domain.PaymentStatusPending, domain.OrderStatusPending, false)

	got, err := f.svc.CancelOrder(context.Background(), "u1", order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, got.PaymentStatus)
	assert.Equal(t, 5, f.stock(t, "p1"))
	assert.True(t, f.balance(t).IsZero())
}

func TestCancelItemsNeverRefundMoreThanPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := domain.Order{
		ID:            "o-thirds",
		Code:          "ORD3",
		UserID:        "u1",
		Subtotal:      dec("3.00"),
		DiscountTotal: dec("1.00"),
		GrandTotal:    dec("2.00"),
		PaymentMethod: domain.PaymentMethodWallet,
		PaymentStatus: domain.PaymentStatusPaid,
		Status:        domain.OrderStatusConfirmed,
		StockReserved: true,
		Items: []domain.OrderItem{
			{ID: "a", ProductID: "p1", Name: "Mug", UnitPrice: dec("1.00"), Quantity: 1, LineTotal: dec("1.00"), Status: domain.OrderStatusConfirmed},
			{ID: "b", ProductID: "p1", Name: "Mug", UnitPrice: dec("1.00"), Quantity: 1, LineTotal: dec("1.00"), Status: domain.OrderStatusConfirmed},
			{ID: "c", ProductID: "p1", Name: "Mug", UnitPrice: dec("1.00"), Quantity: 1, LineTotal: dec("1.00"), Status: domain.OrderStatusConfirmed},
		},
		CreatedAt: fixedNow.Add(-time.Hour),
	}
	require.Empty(t, order.ValidateInvariants())
	require.NoError(t, f.repos.Orders.Create(ctx, &order))

	var got domain.Order
	var err error
	for _, id := range []string{"a", "b", "c"} {
		got, err = f.svc.CancelItem(ctx, "u1", order.ID, id, "")
		require.NoError(t, err)
	}

	assert.True(t, f.balance(t).Equal(dec("2.00")), "balance %s", f.balance(t))
	assert.True(t, got.RefundedAmount().Equal(dec("2.00")))
	assert.Equal(t, domain.PaymentStatusRefunded, got.PaymentStatus)
	assert.True(t, got.Items[2].Refunded.Equal(dec("0.66")))
}

func TestCancelItemRequiresSettledGatewayPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, domain.PaymentMethodGateway, domain.PaymentStatusPending, domain.OrderStatusPending, false)

	_, err := f.svc.CancelItem(ctx, "u1", order.ID, "i1", "")
	assert.ErrorIs(t, err, domain.ErrPaymentPending)

	_, err = f.svc.UpdateStatus(ctx, order.ID, domain.OrderStatusConfirmed)
	assert.ErrorIs(t, err, domain.ErrPaymentPending)

	stored, err := f.repos.Orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Items[0].Status)
	assert.True(t, stored.GrandTotal.Equal(dec("900")))

	got, err := f.svc.CancelOrder(ctx, "u1", order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	assert.True(t, f.balance(t).IsZero())
}

func TestReturnApprovalRefundsCOD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, domain.PaymentMethodCOD, domain.PaymentStatusPending, domain.OrderStatusDelivered, true)

	_, err := f.svc.RequestReturn(ctx, "u1", order.ID, "i1", "bad")
	assert.ErrorIs(t, err, domain.ErrReturnReasonTooShort)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	rr, err := f.svc.RequestReturn(ctx, "u1", order.ID, "i1", "  arrived broken ")
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusPending, rr.Status)
	assert.Equal(t, "arrived broken", rr.Reason)

	_, err = f.svc.RequestReturn(ctx, "u1", order.ID, "i1", "arrived broken")
	assert.ErrorIs(t, err, domain.ErrReturnAlreadyRequested)

	pending, err := f.svc.ListPendingReturns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rr.ID, pending[0].ID)

	got, err := f.svc.ReviewReturn(ctx, rr.ID, fulfilment.ReturnApprove)
	require.NoError(t, err)
	item, err := got.Item("i1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReturned, item.Status)
	assert.Equal(t, domain.OrderStatusDelivered, got.Status)
	assert.True(t, f.balance(t).Equal(dec("360")))
	assert.Equal(t, 7, f.stock(t, "p1"))

	_, err = f.svc.ReviewReturn(ctx, rr.ID, fulfilment.ReturnReject)
	assert.ErrorIs(t, err, domain.ErrReturnAlreadyProcessed)

	pending, err = f.svc.ListPendingReturns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	rr2, err := f.svc.RequestReturn(ctx, "u1", order.ID, "i2", "wrong colour")
	require.NoError(t, err)
	got, err = f.svc.ReviewReturn(ctx, rr2.ID, fulfilment.ReturnApprove)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status, "all items returned closes the order")
	assert.Equal(t, domain.PaymentStatusPending, got.PaymentStatus)
	assert.True(t, f.balance(t).Equal(dec("900")))
}

func TestReturnRejectionRestoresDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, domain.PaymentMethodWallet, domain.PaymentStatusPaid, domain.OrderStatusDelivered, true)

	rr, err := f.svc.RequestReturn(ctx, "u1", order.ID, "i2", "does not fit")
	require.NoError(t, err)
	got, err := f.svc.ReviewReturn(ctx, rr.ID, fulfilment.ReturnReject)
	require.NoError(t, err)

	item, err := got.Item("i2")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, item.Status)
	assert.True(t, f.balance(t).IsZero())
	assert.Equal(t, 5, f.stock(t, "p2"))

	stored, err := f.repos.Returns.Get(ctx, rr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusRejected, stored.Status)
	require.NotNil(t, stored.ProcessedAt)

	// после отклонения можно подать новую заявку
	_, err = f.svc.RequestReturn(ctx, "u1", order.ID, "i2", "does not fit, again")
	require.NoError(t, err)

	_, err = f.svc.ReviewReturn(ctx, "missing", fulfilment.ReturnApprove)
	assert.ErrorIs(t, err, domain.ErrReturnRequestNotFound)
	_, err = f.svc.ReviewReturn(ctx, rr.ID, "maybe")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestRequestReturnRequiresDelivery(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, domain.PaymentMethodCOD, domain.PaymentStatusPending, domain.OrderStatusShipped, true)

	_, err := f.svc.RequestReturn(context.Background(), "u1", order.ID, "i1", "arrived broken")
	assert.ErrorIs(t, err, domain.ErrReturnNotAllowed)
}

func TestUpdateStatusForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, domain.PaymentMethodCOD, domain.PaymentStatusPending, domain.OrderStatusPending, true)

	_, err := f.svc.CancelItem(ctx, "u1", order.ID, "i1", "")
	require.NoError(t, err)

	got, err := f.svc.UpdateStatus(ctx, order.ID, domain.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, got.Status)
	assert.Equal(t, domain.OrderStatusCancelled, got.Items[0].Status)
	assert.Equal(t, domain.OrderStatusShipped, got.Items[1].Status)
	assert.Nil(t, got.DeliveredAt)

	_, err = f.svc.UpdateStatus(ctx, order.ID, domain.OrderStatusConfirmed)
	assert.ErrorIs(t, err, domain.ErrStatusRegression)

	_, err = f.svc.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	_, err = f.svc.UpdateStatus(ctx, order.ID, domain.OrderStatusPending)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	got, err = f.svc.UpdateStatus(ctx, order.ID, domain.OrderStatusDelivered)
	require.NoError(t, err)
	require.NotNil(t, got.DeliveredAt)
	assert.True(t, got.DeliveredAt.Equal(fixedNow))

	_, err = f.svc.UpdateStatus(ctx, "missing", domain.OrderStatusShipped)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestUpdateStatusRejectsClosedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, domain.PaymentMethodCOD, domain.PaymentStatusPending, domain.OrderStatusPending, true)
	_, err := f.svc.CancelOrder(ctx, "u1", order.ID, "")
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, order.ID, domain.OrderStatusConfirmed)
	assert.ErrorIs(t, err, domain.ErrOrderClosed)
}

func TestGetOrderDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, domain.PaymentMethodWallet, domain.PaymentStatusPaid, domain.OrderStatusPending, true)
	_, err := f.svc.CancelItem(ctx, "u1", order.ID, "i2", "")
	require.NoError(t, err)

	detail, err := f.svc.GetOrder(ctx, "u1", order.ID)
	require.NoError(t, err)
	assert.True(t, detail.RefundedAmount.Equal(dec("540")))
	require.Len(t, detail.Timeline, 1)
	assert.Equal(t, domain.EventItemCancelled, detail.Timeline[0].Type)

	_, err = f.svc.GetOrder(ctx, "u2", order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	orders, err := f.svc.ListOrders(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}
