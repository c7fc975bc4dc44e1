package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newOrder(id, userID string, createdAt time.Time) *domain.Order {
	return &domain.Order{
		ID:            id,
		Code:          "ORD-" + id,
		UserID:        userID,
		PaymentMethod: domain.PaymentMethodGateway,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{ID: id + "-i1", ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(10), LineTotal: decimal.NewFromInt(10), Status: domain.OrderStatusPending},
		},
		Subtotal:   decimal.NewFromInt(10),
		GrandTotal: decimal.NewFromInt(10),
		CreatedAt:  createdAt,
	}
}

func TestWithinTxCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.Repositories()
	require.NoError(t, repos.Catalog.SaveProduct(ctx, domain.Product{ID: "p1", Name: "Mug", Stock: 3, Active: true}))

	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if err := tx.Orders.Create(ctx, newOrder("o1", "u1", time.Now())); err != nil {
			return err
		}
		return tx.Catalog.AdjustStock(ctx, "p1", -2)
	})
	require.NoError(t, err)

	p, err := repos.Catalog.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)

	o, err := repos.Orders.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.Version)
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.Repositories()
	require.NoError(t, repos.Catalog.SaveProduct(ctx, domain.Product{ID: "p1", Name: "Mug", Stock: 1, Active: true}))

	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if err := tx.Orders.Create(ctx, newOrder("o1", "u1", time.Now())); err != nil {
			return err
		}
		if _, err := tx.Outbox.Enqueue(ctx, domain.OutboxMessage{EventType: domain.EventOrderPlaced}); err != nil {
			return err
		}
		return tx.Catalog.AdjustStock(ctx, "p1", -2)
	})
	require.True(t, errors.Is(err, domain.ErrInsufficientStock))

	_, err = repos.Orders.Get(ctx, "o1")
	assert.True(t, errors.Is(err, domain.ErrOrderNotFound), "order must be rolled back")

	pending, err := repos.Outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "outbox must be rolled back")

	p, _ := repos.Catalog.GetProduct(ctx, "p1")
	assert.Equal(t, 1, p.Stock)
}

func TestCartSaveOptimisticLocking(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repositories()

	cart := domain.Cart{UserID: "u1", Items: []domain.CartItem{{ProductID: "p1", Quantity: 1}}}
	require.NoError(t, repos.Carts.Save(ctx, &cart))
	assert.Equal(t, int64(1), cart.Version)

	stale, err := repos.Carts.Get(ctx, "u1")
	require.NoError(t, err)

	cart.Items[0].Quantity = 2
	require.NoError(t, repos.Carts.Save(ctx, &cart))

	stale.Items = nil
	err = repos.Carts.Save(ctx, &stale)
	assert.True(t, domain.IsVersionConflict(err))

	got, err := repos.Carts.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Items[0].Quantity)
}

func TestOrderSaveVersionConflict(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repositories()
	order := newOrder("o1", "u1", time.Now())
	require.NoError(t, repos.Orders.Create(ctx, order))

	first, _ := repos.Orders.Get(ctx, "o1")
	second, _ := repos.Orders.Get(ctx, "o1")

	first.PaymentStatus = domain.PaymentStatusPaid
	require.NoError(t, repos.Orders.Save(ctx, &first))

	second.Status = domain.OrderStatusCancelled
	assert.True(t, errors.Is(repos.Orders.Save(ctx, &second), domain.ErrOrderVersionConflict))
	assert.True(t, errors.Is(repos.Orders.Create(ctx, newOrder("o1", "u1", time.Now())), domain.ErrOrderVersionConflict))
}

func TestOrderListing(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repositories()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, repos.Orders.Create(ctx, newOrder("o1", "u1", base)))
	require.NoError(t, repos.Orders.Create(ctx, newOrder("o2", "u1", base.Add(time.Minute))))
	require.NoError(t, repos.Orders.Create(ctx, newOrder("o3", "u2", base.Add(2*time.Minute))))

	paid := newOrder("o4", "u1", base.Add(3*time.Minute))
	paid.PaymentStatus = domain.PaymentStatusPaid
	require.NoError(t, repos.Orders.Create(ctx, paid))

	orders, err := repos.Orders.ListByUser(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o4", orders[0].ID)
	assert.Equal(t, "o2", orders[1].ID)

	stale, err := repos.Orders.ListAwaitingPayment(ctx, base.Add(90*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "o1", stale[0].ID)
	assert.Equal(t, "o2", stale[1].ID)
}

func TestWalletApplyGuardsBalanceAndReference(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repositories()

	w, err := repos.Wallets.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())

	_, err = repos.Wallets.Apply(ctx, "u1", domain.WalletTransaction{Type: domain.TransactionDebit, Amount: decimal.NewFromInt(1)})
	assert.True(t, errors.Is(err, domain.ErrInsufficientBalance))

	w, err = repos.Wallets.Apply(ctx, "u1", domain.WalletTransaction{
		Type: domain.TransactionCredit, Amount: decimal.NewFromInt(100), Reason: domain.ReasonDeposit, Reference: "pay_1",
	})
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(100)))

	_, err = repos.Wallets.Apply(ctx, "u1", domain.WalletTransaction{
		Type: domain.TransactionCredit, Amount: decimal.NewFromInt(100), Reason: domain.ReasonDeposit, Reference: "pay_1",
	})
	assert.True(t, errors.Is(err, domain.ErrDuplicateWalletReference))

	w, _ = repos.Wallets.Get(ctx, "u1")
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(100)))
	assert.Len(t, w.Transactions, 1)
	assert.Empty(t, w.ValidateInvariants())
}

func TestWalletReferenceUniqueAcrossWallets(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repositories()

	_, err := repos.Wallets.Apply(ctx, "u1", domain.WalletTransaction{
		Type: domain.TransactionCredit, Amount: decimal.NewFromInt(50), Reason: domain.ReasonDeposit, Reference: "pay_9",
	})
	require.NoError(t, err)

	_, err = repos.Wallets.Apply(ctx, "u2", domain.WalletTransaction{
		Type: domain.TransactionCredit, Amount: decimal.NewFromInt(50), Reason: domain.ReasonDeposit, Reference: "pay_9",
	})
	assert.True(t, errors.Is(err, domain.ErrDuplicateWalletReference))

	w, err := repos.Wallets.Get(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
}

func TestDepositLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.Repositories()
	now := time.Now().UTC()

	deposit := domain.Deposit{GatewayOrderID: "order_1", UserID: "u1", Amount: decimal.NewFromInt(100), Status: domain.DepositStatusPending, CreatedAt: now}
	require.NoError(t, repos.Deposits.Create(ctx, deposit))
	assert.True(t, errors.Is(repos.Deposits.Create(ctx, deposit), domain.ErrDepositMismatch))

	_, err := repos.Deposits.Get(ctx, "order_2")
	assert.True(t, errors.Is(err, domain.ErrDepositNotFound))

	// откат транзакции не завершает пополнение
	err = store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		require.NoError(t, tx.Deposits.Complete(ctx, "order_1", "pay_1", now))
		return errors.New("boom")
	})
	require.Error(t, err)
	got, err := repos.Deposits.Get(ctx, "order_1")
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusPending, got.Status)

	require.NoError(t, repos.Deposits.Complete(ctx, "order_1", "pay_1", now))
	assert.True(t, errors.Is(repos.Deposits.Complete(ctx, "order_1", "pay_2", now), domain.ErrDepositMismatch))

	got, err = repos.Deposits.Get(ctx, "order_1")
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusCompleted, got.Status)
	assert.Equal(t, "pay_1", got.GatewayPaymentID)
	require.NotNil(t, got.CompletedAt)
}

func TestReturnRequestSinglePendingPerItem(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repositories()
	now := time.Now()

	first := domain.ReturnRequest{ID: "r1", OrderID: "o1", ItemID: "i1", Status: domain.ReturnStatusPending, CreatedAt: now}
	require.NoError(t, repos.Returns.Create(ctx, first))

	dup := first
	dup.ID = "r2"
	assert.True(t, errors.Is(repos.Returns.Create(ctx, dup), domain.ErrReturnAlreadyRequested))

	require.NoError(t, repos.Returns.Resolve(ctx, "r1", domain.ReturnStatusRejected, now))
	assert.True(t, errors.Is(repos.Returns.Resolve(ctx, "r1", domain.ReturnStatusApproved, now), domain.ErrReturnAlreadyProcessed))

	// После решения по первой заявке можно подать новую.
	require.NoError(t, repos.Returns.Create(ctx, dup))
	pending, err := repos.Returns.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r2", pending[0].ID)
}

func TestOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repositories()

	first, err := repos.Outbox.Enqueue(ctx, domain.OutboxMessage{AggregateID: "o1", EventType: domain.EventOrderPlaced})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	second, err := repos.Outbox.Enqueue(ctx, domain.OutboxMessage{AggregateID: "o1", EventType: domain.EventPaymentCaptured})
	require.NoError(t, err)

	pending, err := repos.Outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)

	stats, err := repos.Outbox.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingCount)
	assert.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, repos.Outbox.MarkSent(ctx, first.ID))
	require.NoError(t, repos.Outbox.MarkFailed(ctx, second.ID))
	assert.True(t, errors.Is(repos.Outbox.MarkSent(ctx, "missing"), domain.ErrOutboxMessageNotFound))

	pending, err = repos.Outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTimelineOrdered(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repositories()
	now := time.Now()

	require.NoError(t, repos.Timeline.Append(ctx, domain.TimelineEvent{OrderID: "o1", Type: "b", Occurred: now.Add(time.Second)}))
	require.NoError(t, repos.Timeline.Append(ctx, domain.TimelineEvent{OrderID: "o1", Type: "a", Occurred: now}))

	events, err := repos.Timeline.List(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Type)
}

func TestCouponUsageAndCodeLookup(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repositories()

	require.NoError(t, repos.Coupons.Save(ctx, domain.Coupon{ID: "c1", Code: " save10 ", Active: true}))
	c, err := repos.Coupons.GetByCode(ctx, "Save10")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", c.Code)

	require.NoError(t, repos.Coupons.RecordUsage(ctx, "c1", domain.CouponUsage{UserID: "u1", UsedAt: time.Now()}))
	c, _ = repos.Coupons.Get(ctx, "c1")
	assert.Equal(t, 1, c.UsageCount("u1"))
	assert.Equal(t, 0, c.UsageCount("u2"))

	_, err = repos.Coupons.GetByCode(ctx, "NOPE")
	assert.True(t, errors.Is(err, domain.ErrCouponNotFound))
}
