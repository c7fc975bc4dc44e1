package cart_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/coupon"
	"github.com/vladislavdragonenkov/storefront/internal/service/offer"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newService(t *testing.T) (*cart.Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	ctx := context.Background()

	require.NoError(t, repos.Catalog.SaveProduct(ctx, domain.Product{ID: "p1", Name: "Mug", Price: decimal.NewFromInt(100), Stock: 3, Active: true}))
	require.NoError(t, repos.Catalog.SaveProduct(ctx, domain.Product{ID: "p2", Name: "Lamp", Price: decimal.NewFromInt(50), Stock: 10, Active: true}))
	require.NoError(t, repos.Catalog.SaveProduct(ctx, domain.Product{ID: "empty", Name: "Ghost", Price: decimal.NewFromInt(5), Stock: 0, Active: true}))
	require.NoError(t, repos.Catalog.SaveProduct(ctx, domain.Product{ID: "off", Name: "Old", Price: decimal.NewFromInt(5), Stock: 5, Active: false}))
	require.NoError(t, repos.Coupons.Save(ctx, domain.Coupon{ID: "c1", Code: "SAVE10", Type: domain.CouponTypePercent, Value: decimal.NewFromInt(10), Active: true}))
	require.NoError(t, repos.Coupons.Save(ctx, domain.Coupon{ID: "c2", Code: "BIG", Type: domain.CouponTypeFlat, Value: decimal.NewFromInt(20), MinPurchase: decimal.NewFromInt(1000), Active: true}))
	require.NoError(t, repos.Coupons.Save(ctx, domain.Coupon{ID: "c3", Code: "OLD", Type: domain.CouponTypeFlat, Value: decimal.NewFromInt(20), Active: true, ExpiresAt: time.Now().Add(-time.Hour)}))

	validator := coupon.NewValidator(nil)
	policy := domain.DefaultPolicy()
	pricer := pricing.NewPricer(offer.NewResolver(), validator, policy)
	return cart.NewService(store, pricer, validator, policy, nil), store
}

func TestAddItemMergesAndPrices(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	view, err := svc.AddItem(ctx, "u1", "p1", 1)
	require.NoError(t, err)
	view, err = svc.AddItem(ctx, "u1", "p1", 2)
	require.NoError(t, err)

	require.Len(t, view.Cart.Items, 1)
	assert.Equal(t, 3, view.Cart.Items[0].Quantity)
	assert.True(t, view.Quote.Subtotal.Equal(decimal.NewFromInt(300)))
	assert.True(t, view.Quote.GrandTotal.Equal(decimal.NewFromInt(300)))
}

func TestAddItemRejections(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", "empty", 1)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))

	_, err = svc.AddItem(ctx, "u1", "off", 1)
	assert.True(t, errors.Is(err, domain.ErrProductUnavailable))

	_, err = svc.AddItem(ctx, "u1", "missing", 1)
	assert.True(t, errors.Is(err, domain.ErrProductNotFound))

	_, err = svc.AddItem(ctx, "u1", "p1", 4)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))

	_, err = svc.AddItem(ctx, "u1", "p2", 5)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "u1", "p2", 1)
	assert.True(t, errors.Is(err, domain.ErrQuantityLimit))

	_, err = svc.AddItem(ctx, "", "p2", 1)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestAddItemClampsQuantity(t *testing.T) {
	svc, _ := newService(t)
	view, err := svc.AddItem(context.Background(), "u1", "p2", 99)
	require.NoError(t, err)
	assert.Equal(t, 5, view.Cart.Items[0].Quantity)

	view, err = svc.AddItem(context.Background(), "u2", "p2", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Cart.Items[0].Quantity)
}

func TestIncrementDecrementAndSet(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", "p1", 2)
	require.NoError(t, err)

	view, err := svc.IncrementItem(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, view.Cart.Items[0].Quantity)

	_, err = svc.IncrementItem(ctx, "u1", "p1")
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock), "stock caps increment")

	for i := 0; i < 4; i++ {
		view, err = svc.DecrementItem(ctx, "u1", "p1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, view.Cart.Items[0].Quantity)

	_, err = svc.SetQuantity(ctx, "u1", "p1", 6)
	assert.True(t, errors.Is(err, domain.ErrInvalidQuantity))
	_, err = svc.SetQuantity(ctx, "u1", "p1", 4)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))
	view, err = svc.SetQuantity(ctx, "u1", "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Cart.Items[0].Quantity)

	_, err = svc.IncrementItem(ctx, "u1", "p2")
	assert.True(t, errors.Is(err, domain.ErrCartItemNotFound))

	view, err = svc.RemoveItem(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Empty(t, view.Cart.Items)
	_, err = svc.RemoveItem(ctx, "u1", "p1")
	assert.True(t, errors.Is(err, domain.ErrCartItemNotFound))
}

func TestApplyAndRemoveCoupon(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.ApplyCoupon(ctx, "u1", "save10")
	assert.True(t, errors.Is(err, domain.ErrEmptyCart))

	_, err = svc.AddItem(ctx, "u1", "p1", 2)
	require.NoError(t, err)

	view, err := svc.ApplyCoupon(ctx, "u1", " save10 ")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", view.Cart.CouponCode)
	assert.True(t, view.Quote.DiscountTotal.Equal(decimal.NewFromInt(20)))
	assert.True(t, view.Quote.GrandTotal.Equal(decimal.NewFromInt(180)))

	_, err = svc.ApplyCoupon(ctx, "u1", "BIG")
	assert.True(t, errors.Is(err, domain.ErrCouponMinimum))
	_, err = svc.ApplyCoupon(ctx, "u1", "OLD")
	assert.True(t, errors.Is(err, domain.ErrCouponExpired))
	_, err = svc.ApplyCoupon(ctx, "u1", "NOPE")
	assert.True(t, errors.Is(err, domain.ErrCouponNotFound))

	view, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "c1", view.Cart.CouponID, "failed apply keeps previous coupon")

	view, err = svc.RemoveCoupon(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, view.Cart.CouponID)
	assert.True(t, view.Quote.DiscountTotal.IsZero())
}

func TestGetDropsUnavailableProducts(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", "p1", 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "u1", "p2", 1)
	require.NoError(t, err)

	repos := store.Repositories()
	p, err := repos.Catalog.GetProduct(ctx, "p1")
	require.NoError(t, err)
	p.Deleted = true
	require.NoError(t, repos.Catalog.SaveProduct(ctx, p))

	view, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, view.Cart.Items, 1)
	assert.Equal(t, "p2", view.Cart.Items[0].ProductID)
	assert.True(t, view.Quote.Subtotal.Equal(decimal.NewFromInt(50)))

	stored, err := repos.Carts.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)
}
