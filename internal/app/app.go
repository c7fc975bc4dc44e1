package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/expiry"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/service/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/telemetry"
	"github.com/vladislavdragonenkov/storefront/internal/version"
	storefrontv1 "github.com/vladislavdragonenkov/storefront/proto/storefront/v1"
)

const (
	shutdownTimeout    = 5 * time.Second
	httpRequestTimeout = 15 * time.Second
)

// Run поднимает gRPC и HTTP серверы, фоновые воркеры и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	shutdownTracing, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version.GetVersion(),
		Endpoint:       cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	checkoutMetrics := metrics.NewCheckoutMetrics()
	services, err := NewServices(cfg, deps.uow, checkoutMetrics, logger)
	if err != nil {
		return err
	}

	// без Kafka сервис продолжает работать, ошибка уже в логе
	kafkaRT, _ := initKafka(cfg.Brokers(), logger)
	defer kafkaRT.close(logger)
	if err := kafkaRT.startAudit(ctx, cfg.Brokers(), cfg.KafkaAuditGroup, logger); err != nil {
		logger.WithError(err).Warn("failed to start kafka audit consumer")
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	deps.registerHealth(healthHandler)

	grpcServer, grpcHealth := newGRPCServer(services, deps, logger)

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Config{
			Checkout:       services.Checkout,
			Wallets:        services.Wallets,
			Health:         healthHandler,
			Metrics:        promhttp.Handler(),
			Logger:         logger.WithField("layer", "http"),
			RequestTimeout: httpRequestTimeout,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = lis.Close()
		return err
	}

	workersCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	startWorkers(workersCtx, &workers, cfg, deps, services, kafkaRT, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Infof("HTTP сервер слушает %s (health, metrics, callbacks)", httpLis.Addr())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := func() {
		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(httpSrv, logger)
		stopWorkers()
		workers.Wait()
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		stop()
		return ctx.Err()
	case err := <-errCh:
		stop()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

func newGRPCServer(services *Services, deps *runtimeDependencies, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	storefrontv1.RegisterStorefrontServer(grpcServer, grpcsvc.NewServer(grpcsvc.Dependencies{
		Carts:       services.Carts,
		Checkout:    services.Checkout,
		Fulfilment:  services.Fulfilment,
		Wallets:     services.Wallets,
		Idempotency: deps.idempotencyRepo,
		Logger:      logger.WithField("layer", "grpc"),
	}))
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(storefrontv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	return grpcServer, healthServer
}

// startWorkers запускает outbox (только с Kafka), очистку ключей идемпотентности и истечение оплат.
func startWorkers(ctx context.Context, wg *sync.WaitGroup, cfg Config, deps *runtimeDependencies, services *Services, kafkaRT *kafkaRuntime, logger *log.Entry) {
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.WithField("worker", name).Info("worker started")
			fn(ctx)
		}()
	}

	if kafkaRT != nil {
		w := outbox.NewWorker(deps.outboxRepo, kafkaRT.publisher,
			outbox.WithLogger(logger.WithField("worker", "outbox")),
			outbox.WithDLQPublisher(kafkaRT.dlq),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		run("outbox", w.Run)
	} else {
		logger.Info("kafka brokers not configured, outbox worker disabled")
	}

	if deps.expiringKeys {
		w := idempotency.NewCleanupWorker(deps.idempotencyRepo,
			idempotency.WithLogger(logger.WithField("worker", "idempotency-cleanup")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		)
		run("idempotency-cleanup", w.Run)
	}

	w := expiry.NewWorker(services.Checkout,
		expiry.WithInterval(cfg.PaymentExpiryInterval),
		expiry.WithMaxAge(cfg.PaymentExpiryMaxAge),
		expiry.WithBatchSize(cfg.PaymentExpiryBatchSize),
		expiry.WithLogger(logger.WithField("worker", "payment-expiry")),
	)
	run("payment-expiry", w.Run)
}

func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
