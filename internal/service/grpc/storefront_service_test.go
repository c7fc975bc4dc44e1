package grpcsvc_test

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/coupon"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfilment"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/service/offer"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/wallet"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	storefrontv1 "github.com/vladislavdragonenkov/storefront/proto/storefront/v1"
)

const (
	bufSize = 1024 * 1024
	secret  = "grpc-test-secret"
)

type testEnv struct {
	client  storefrontv1.StorefrontClient
	store   *memory.Store
	gateway *payment.MockGateway
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.DebugLevel)
	return logger.WithField("component", "test")
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	repos := store.Repositories()
	require.NoError(t, repos.Catalog.SaveProduct(ctx, domain.Product{ID: "p1", Name: "Mug", Price: decimal.NewFromInt(100), Stock: 10, Active: true}))
	require.NoError(t, repos.Address.Save(ctx, domain.Address{ID: "a1", UserID: "u1", FullName: "Test User", City: "Pune"}))

	gateway := payment.NewMockGateway(secret)
	verifier := payment.NewHMACVerifier(secret)
	m := metrics.NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())
	recorder := events.NewRecorder(m)
	policy := domain.DefaultPolicy()
	validator := coupon.NewValidator(nil)
	pricer := pricing.NewPricer(offer.NewResolver(), validator, policy)
	logger := loggerForTests()

	wallets := wallet.NewService(store, gateway, verifier, recorder, m, policy, "key_test", logger)
	server := grpcsvc.NewServer(grpcsvc.Dependencies{
		Carts: cart.NewService(store, pricer, validator, policy, logger),
		Checkout: checkout.NewService(checkout.Dependencies{
			UnitOfWork:   store,
			Pricer:       pricer,
			Wallets:      wallets,
			Gateway:      gateway,
			Verifier:     verifier,
			Recorder:     recorder,
			Metrics:      m,
			Policy:       policy,
			GatewayKeyID: "key_test",
		}),
		Fulfilment:  fulfilment.NewService(store, wallets, recorder, m, policy),
		Wallets:     wallets,
		Idempotency: memory.NewIdempotencyRepository(),
		Logger:      logger,
	})

	listener := bufconn.Listen(bufSize)
	grpcServer := grpc.NewServer()
	storefrontv1.RegisterStorefrontServer(grpcServer, server)
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			logger.WithError(err).Error("grpc serve failed")
		}
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		grpcServer.Stop()
	})

	return &testEnv{client: storefrontv1.NewStorefrontClient(conn), store: store, gateway: gateway}
}

func idemCtx(key string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "idempotency-key", key)
}

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func (e *testEnv) call(t *testing.T, ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	t.Helper()
	return e.client.Call(ctx, method, request(t, fields))
}

func (e *testEnv) addToCart(t *testing.T, qty int) {
	t.Helper()
	_, err := e.call(t, idemCtx("add-"+t.Name()), storefrontv1.MethodAddCartItem, map[string]any{
		"user_id": "u1", "product_id": "p1", "quantity": qty,
	})
	require.NoError(t, err)
}

func TestCartFlow(t *testing.T) {
	env := newTestEnv(t)
	env.addToCart(t, 2)

	resp, err := env.call(t, context.Background(), storefrontv1.MethodGetCart, map[string]any{"user_id": "u1"})
	require.NoError(t, err)

	fields := resp.AsMap()
	assert.Equal(t, "200.00", fields["grand_total"])
	items := fields["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, float64(2), items[0].(map[string]any)["quantity"])
}

func TestMutationRequiresIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.call(t, context.Background(), storefrontv1.MethodAddCartItem, map[string]any{
		"user_id": "u1", "product_id": "p1",
	})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestPlaceOrderIdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	env.addToCart(t, 1)

	req := map[string]any{"user_id": "u1", "address_id": "a1", "payment_method": "COD"}
	first, err := env.call(t, idemCtx("place-1"), storefrontv1.MethodPlaceOrder, req)
	require.NoError(t, err)

	second, err := env.call(t, idemCtx("place-1"), storefrontv1.MethodPlaceOrder, req)
	require.NoError(t, err)

	firstOrder := first.AsMap()["order"].(map[string]any)
	secondOrder := second.AsMap()["order"].(map[string]any)
	assert.Equal(t, firstOrder["id"], secondOrder["id"])
	assert.Equal(t, "PENDING", firstOrder["status"])

	orders, err := env.store.Repositories().Orders.ListByUser(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Len(t, orders, 1, "replay must not place a second order")

	_, err = env.call(t, idemCtx("place-1"), storefrontv1.MethodPlaceOrder, map[string]any{
		"user_id": "u1", "address_id": "a1", "payment_method": "WALLET",
	})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestFailedMutationReplaysError(t *testing.T) {
	env := newTestEnv(t)

	req := map[string]any{"user_id": "u1", "address_id": "a1", "payment_method": "COD"}
	_, err := env.call(t, idemCtx("empty-cart"), storefrontv1.MethodPlaceOrder, req)
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, "EMPTY_CART", grpcsvc.ReasonOf(err))

	env.addToCart(t, 1)
	_, err = env.call(t, idemCtx("empty-cart"), storefrontv1.MethodPlaceOrder, req)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "cached failure is replayed for the same key")
}

func TestGatewayPaymentFlow(t *testing.T) {
	env := newTestEnv(t)
	env.addToCart(t, 1)

	resp, err := env.call(t, idemCtx("place-gw"), storefrontv1.MethodPlaceOrder, map[string]any{
		"user_id": "u1", "address_id": "a1", "payment_method": "GATEWAY",
	})
	require.NoError(t, err)
	fields := resp.AsMap()
	orderID := fields["order"].(map[string]any)["id"].(string)
	gw := fields["gateway"].(map[string]any)
	assert.Equal(t, float64(10000), gw["amount_minor"])

	cb := env.gateway.Pay(gw["gateway_order_id"].(string))
	_, err = env.call(t, idemCtx("verify-bad"), storefrontv1.MethodVerifyPayment, map[string]any{
		"user_id": "u1", "order_id": orderID,
		"gateway_order_id": cb.GatewayOrderID, "gateway_payment_id": cb.GatewayPaymentID, "signature": "forged",
	})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	resp, err = env.call(t, idemCtx("verify-ok"), storefrontv1.MethodVerifyPayment, map[string]any{
		"user_id": "u1", "order_id": orderID,
		"gateway_order_id": cb.GatewayOrderID, "gateway_payment_id": cb.GatewayPaymentID, "signature": cb.Signature,
	})
	require.NoError(t, err)
	assert.Equal(t, "PAID", resp.AsMap()["order"].(map[string]any)["payment_status"])

	detail, err := env.call(t, context.Background(), storefrontv1.MethodGetOrder, map[string]any{"user_id": "u1", "order_id": orderID})
	require.NoError(t, err)
	assert.NotEmpty(t, detail.AsMap()["timeline"])

	_, err = env.call(t, context.Background(), storefrontv1.MethodGetOrder, map[string]any{"user_id": "u2", "order_id": orderID})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestWalletDeposit(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.call(t, idemCtx("deposit"), storefrontv1.MethodCreateDeposit, map[string]any{"user_id": "u1", "amount": "250.00"})
	require.NoError(t, err)
	gw := resp.AsMap()["gateway"].(map[string]any)

	cb := env.gateway.Pay(gw["gateway_order_id"].(string))
	resp, err = env.call(t, idemCtx("deposit-verify"), storefrontv1.MethodVerifyDeposit, map[string]any{
		"user_id": "u1", "gateway_order_id": cb.GatewayOrderID, "gateway_payment_id": cb.GatewayPaymentID, "signature": cb.Signature,
	})
	require.NoError(t, err)
	assert.Equal(t, "250.00", resp.AsMap()["balance"])

	view, err := env.call(t, context.Background(), storefrontv1.MethodGetWallet, map[string]any{"user_id": "u1"})
	require.NoError(t, err)
	assert.Len(t, view.AsMap()["transactions"], 1)
}

func TestCancelAndAdminFlows(t *testing.T) {
	env := newTestEnv(t)
	env.addToCart(t, 1)

	resp, err := env.call(t, idemCtx("place-cod"), storefrontv1.MethodPlaceOrder, map[string]any{
		"user_id": "u1", "address_id": "a1", "payment_method": "COD",
	})
	require.NoError(t, err)
	orderID := resp.AsMap()["order"].(map[string]any)["id"].(string)

	_, err = env.call(t, idemCtx("status-bad"), storefrontv1.MethodUpdateOrderStatus, map[string]any{"order_id": orderID, "status": "PAID"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	resp, err = env.call(t, idemCtx("status-shipped"), storefrontv1.MethodUpdateOrderStatus, map[string]any{"order_id": orderID, "status": "shipped"})
	require.NoError(t, err)
	assert.Equal(t, "SHIPPED", resp.AsMap()["order"].(map[string]any)["status"])

	resp, err = env.call(t, idemCtx("cancel"), storefrontv1.MethodCancelOrder, map[string]any{"user_id": "u1", "order_id": orderID})
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", resp.AsMap()["order"].(map[string]any)["status"])

	list, err := env.call(t, context.Background(), storefrontv1.MethodListOrders, map[string]any{"user_id": "u1", "limit": 10})
	require.NoError(t, err)
	assert.Len(t, list.AsMap()["orders"], 1)

	pending, err := env.call(t, context.Background(), storefrontv1.MethodListPendingReturns, map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, pending.AsMap()["returns"])
}

func TestQuantityMustBeInteger(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.call(t, idemCtx("bad-qty"), storefrontv1.MethodSetCartItemQuantity, map[string]any{
		"user_id": "u1", "product_id": "p1", "quantity": 1.5,
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
