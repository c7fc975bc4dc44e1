package app

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func testLogger() *log.Entry {
	return log.WithField("test", "app")
}

func postgresTestDSNCandidate() string {
	return strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_TEST_DSN"))
}

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	deps, err := initRuntimeDependencies(context.Background(), DefaultConfig(), testLogger())
	require.NoError(t, err)
	defer deps.close(testLogger())

	assert.NotNil(t, deps.uow)
	assert.NotNil(t, deps.outboxRepo)
	assert.NotNil(t, deps.idempotencyRepo)
	assert.True(t, deps.expiringKeys)
	assert.Nil(t, deps.postgres)
	assert.Nil(t, deps.redis)
}

func TestInitRuntimeDependencies_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.StorageDriver = StorageDriverPostgres },
			wantErr: "postgres_dsn is required",
		},
		{
			name:    "unsupported driver",
			mutate:  func(c *Config) { c.StorageDriver = "invalid-driver" },
			wantErr: "unsupported storage driver",
		},
		{
			name: "unreachable redis",
			mutate: func(c *Config) {
				c.IdempotencyDriver = IdempotencyDriverRedis
				c.RedisAddr = "127.0.0.1:1"
			},
			wantErr: "ping redis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := initRuntimeDependencies(context.Background(), cfg, testLogger())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitRuntimeDependencies_RedisIdempotency(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.IdempotencyDriver = IdempotencyDriverRedis
	cfg.RedisAddr = mr.Addr()

	deps, err := initRuntimeDependencies(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer deps.close(testLogger())

	require.NotNil(t, deps.redis)
	assert.False(t, deps.expiringKeys)

	rec, err := deps.idempotencyRepo.CreateProcessing(context.Background(), "key-1", "hash", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, rec.Status)

	h := health.NewHandler("test")
	deps.registerHealth(h)
	status, checks := h.Run(context.Background())
	assert.Equal(t, health.StatusHealthy, status)
	assert.Contains(t, checks, "redis")

	mr.Close()
	status, checks = h.Run(context.Background())
	assert.Equal(t, health.StatusUnhealthy, status)
	assert.Equal(t, health.StatusUnhealthy, checks["redis"].Status)
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := postgresTestDSNCandidate()
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn

	deps, err := initRuntimeDependencies(context.Background(), cfg, testLogger())
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close(testLogger())

	require.NotNil(t, deps.postgres)
	h := health.NewHandler("test")
	deps.registerHealth(h)
	status, checks := h.Run(context.Background())
	assert.Equal(t, health.StatusHealthy, status)
	assert.Contains(t, checks, "postgres")
}

func TestOutboxBacklogChecker(t *testing.T) {
	store := memory.NewStore()
	repo := store.Repositories().Outbox
	checker := outboxBacklogChecker(repo, 1)

	require.NoError(t, checker.Check(context.Background()))

	for i := 0; i < 2; i++ {
		_, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   "order-1",
			EventType:     "order.placed",
			Payload:       []byte(`{}`),
		})
		require.NoError(t, err)
	}

	err := checker.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox backlog 2 exceeds 1")

	h := health.NewHandler("test")
	h.RegisterOptional("outbox", checker)
	status, _ := h.Run(context.Background())
	assert.Equal(t, health.StatusDegraded, status)
}

func TestNewServices_GatewaySelection(t *testing.T) {
	m := metrics.NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())

	cfg := DefaultConfig()
	services, err := NewServices(cfg, memory.NewStore(), m, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &payment.MockGateway{}, services.Gateway)
	assert.NotNil(t, services.Carts)
	assert.NotNil(t, services.Checkout)
	assert.NotNil(t, services.Fulfilment)
	assert.NotNil(t, services.Wallets)
	assert.Equal(t, "INR", services.Policy.Currency)

	cfg.Gateway.BaseURL = "http://127.0.0.1:1"
	services, err = NewServices(cfg, memory.NewStore(), m, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &payment.HTTPGateway{}, services.Gateway)
}

func TestNewServices_InvalidPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.CODMaxAmount = "lots"

	_, err := NewServices(cfg, memory.NewStore(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid policy.cod_max_amount")
}

func TestStoreLocation(t *testing.T) {
	assert.Equal(t, time.UTC, storeLocation("", testLogger()))
	assert.Equal(t, time.UTC, storeLocation("Mars/Olympus", testLogger()))

	if _, err := time.LoadLocation("Asia/Kolkata"); err != nil {
		t.Skipf("tzdata is not available: %v", err)
	}
	loc := storeLocation("Asia/Kolkata", testLogger())
	assert.Equal(t, "Asia/Kolkata", loc.String())
}
