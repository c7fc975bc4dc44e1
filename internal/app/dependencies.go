package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/coupon"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfilment"
	"github.com/vladislavdragonenkov/storefront/internal/service/offer"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/wallet"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	"github.com/vladislavdragonenkov/storefront/internal/storage/redisstore"
)

// runtimeDependencies — хранилища и внешние клиенты, выбранные по конфигурации.
type runtimeDependencies struct {
	uow             domain.UnitOfWork
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	// expiringKeys — false, когда ключи истекают сами (Redis TTL).
	expiringKeys bool

	postgres *postgres.Store
	redis    *redis.Client
}

// initRuntimeDependencies открывает хранилища согласно cfg.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{expiringKeys: true}

	switch strings.TrimSpace(cfg.StorageDriver) {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		deps.uow = store
		deps.outboxRepo = store.Repositories().Outbox
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres_dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		deps.postgres = store
		deps.uow = store
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		logger.Info("using postgres storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.IdempotencyDriver == IdempotencyDriverRedis {
		client, err := redisstore.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			deps.close(logger)
			return nil, err
		}
		deps.redis = client
		deps.idempotencyRepo = redisstore.NewIdempotencyRepository(client)
		deps.expiringKeys = false
		logger.WithField("addr", cfg.RedisAddr).Info("using redis idempotency store")
	}

	return deps, nil
}

// registerHealth добавляет проверки хранилищ в health handler.
func (d *runtimeDependencies) registerHealth(h *health.Handler) {
	if d.postgres != nil {
		h.Register("postgres", health.CheckerFunc(d.postgres.Ping))
	}
	if d.redis != nil {
		client := d.redis
		h.Register("redis", health.CheckerFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}
	if d.outboxRepo != nil {
		h.RegisterOptional("outbox", outboxBacklogChecker(d.outboxRepo, outboxBacklogLimit))
	}
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.postgres != nil {
		if err := d.postgres.Close(); err != nil {
			logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}

const outboxBacklogLimit = 10000

// outboxBacklogChecker деградирует сервис, когда pending-сообщений больше limit.
func outboxBacklogChecker(repo domain.OutboxRepository, limit int) health.Checker {
	return health.CheckerFunc(func(ctx context.Context) error {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.PendingCount > limit {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, limit)
		}
		return nil
	})
}

// Services — доменные сервисы витрины, собранные поверх runtimeDependencies.
type Services struct {
	Carts      *cart.Service
	Checkout   *checkout.Service
	Fulfilment *fulfilment.Service
	Wallets    *wallet.Service
	Gateway    domain.PaymentGateway
	Metrics    *metrics.CheckoutMetrics
	Policy     domain.Policy
}

// NewServices собирает сервисы. Без gateway.base_url используется мок-шлюз.
func NewServices(cfg Config, uow domain.UnitOfWork, m *metrics.CheckoutMetrics, logger *log.Entry) (*Services, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	policy, err := cfg.CheckoutPolicy()
	if err != nil {
		return nil, err
	}

	var gateway domain.PaymentGateway
	if strings.TrimSpace(cfg.Gateway.BaseURL) == "" {
		logger.Warn("gateway.base_url is empty, using mock payment gateway")
		gateway = payment.NewMockGateway(cfg.Gateway.KeySecret)
	} else {
		gateway, err = payment.NewHTTPGateway(payment.GatewayConfig{
			BaseURL:      cfg.Gateway.BaseURL,
			KeyID:        cfg.Gateway.KeyID,
			KeySecret:    cfg.Gateway.KeySecret,
			Timeout:      cfg.Gateway.Timeout,
			MaxFailures:  cfg.Gateway.MaxFailures,
			ResetTimeout: cfg.Gateway.ResetTimeout,
		}, m, logger.WithField("component", "payment-gateway"))
		if err != nil {
			return nil, err
		}
	}
	verifier := payment.NewHMACVerifier(cfg.Gateway.KeySecret)

	offers := offer.NewResolver(offer.WithLocation(storeLocation(cfg.StoreTimezone, logger)))
	validator := coupon.NewValidator(nil)
	pricer := pricing.NewPricer(offers, validator, policy)
	recorder := events.NewRecorder(m)

	wallets := wallet.NewService(uow, gateway, verifier, recorder, m, policy, cfg.Gateway.KeyID,
		logger.WithField("component", "wallet"),
		wallet.WithGatewayTimeout(cfg.Gateway.Timeout))

	return &Services{
		Carts: cart.NewService(uow, pricer, validator, policy, logger.WithField("component", "cart")),
		Checkout: checkout.NewService(checkout.Dependencies{
			UnitOfWork:   uow,
			Pricer:       pricer,
			Wallets:      wallets,
			Gateway:      gateway,
			Verifier:     verifier,
			Recorder:     recorder,
			Metrics:      m,
			Policy:       policy,
			GatewayKeyID: cfg.Gateway.KeyID,
		},
			checkout.WithGatewayTimeout(cfg.Gateway.Timeout),
			checkout.WithLogger(logger.WithField("component", "checkout")),
		),
		Fulfilment: fulfilment.NewService(uow, wallets, recorder, m, policy,
			fulfilment.WithLogger(logger.WithField("component", "fulfilment"))),
		Wallets: wallets,
		Gateway: gateway,
		Metrics: m,
		Policy:  policy,
	}, nil
}

func storeLocation(name string, logger *log.Entry) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.WithError(err).WithField("timezone", name).Warn("unknown store timezone, falling back to UTC")
		return time.UTC
	}
	return loc
}
