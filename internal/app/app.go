package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	storefrontv1 "github.com/vladislavdragonenkov/storefront/api/storefront/v1"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const defaultShutdownTimeout = 5 * time.Second

// Run поднимает gRPC и HTTP серверы, фоновые воркеры и блокируется до отмены ctx.
// При штатной остановке возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithFields(version.Fields()).WithField("component", "app")
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	if cfg.SeedDemo {
		if err := seedDemoCatalog(ctx, deps.customers, deps.products, logger); err != nil {
			return err
		}
	}

	serviceOptions := []ordering.Option{
		ordering.WithLogger(logger.WithField("layer", "ordering")),
		ordering.WithMetrics(metrics.NewOrderMetrics()),
	}
	if cfg.PartialOrders {
		serviceOptions = append(serviceOptions, ordering.WithPartialOrders())
		logger.Warn("partial orders enabled: unknown products are dropped from requests")
	}
	orderingService := ordering.NewService(deps.customers, deps.products, deps.uow, serviceOptions...)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)

	// Без Kafka сервис продолжает работу: outbox разбирается в лог.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafkaProducer(kafkaProducer, logger)

	var publisher, dlqPublisher domain.OutboxPublisher
	if kafkaProducer != nil {
		healthHandler.RegisterChecker("kafka", healthcheck.NewOptionalChecker("kafka", kafkaProducer.Ping))
		publisher = kafka.NewOutboxPublisher(kafkaProducer, cfg.KafkaTopic)
		dlqPublisher = kafka.NewOutboxPublisher(kafkaProducer, cfg.KafkaDLQTopic)
	} else {
		publisher = newLogPublisher(logger.WithField("layer", "outbox-log"))
	}

	grpcServer, healthServer := newGRPCServer(orderingService, deps, logger)
	httpServer := &http.Server{
		Handler: httpapi.NewRouter(httpapi.Config{
			Creator:        orderingService,
			Orders:         deps.orders,
			Health:         healthHandler,
			AllowedOrigins: cfg.AllowedOrigins(),
			RequestTimeout: cfg.HTTPRequestTimeout,
			Logger:         logger.WithField("layer", "http"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcListener.Close()
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}

	workersCtx, cancelWorkers := context.WithCancel(ctx)
	workersDone := runWorkers(workersCtx, cfg, deps, publisher, dlqPublisher, logger)

	consumer, err := startOrderEventsConsumer(workersCtx, cfg, kafkaProducer, metrics.NewOrderEventMetrics(prometheus.DefaultRegisterer), logger)
	if err != nil {
		logger.WithError(err).Warn("failed to start order events consumer, continuing without it")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcListener.Addr())
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("HTTP API и метрики доступны по адресу %s", httpListener.Addr())
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownGRPC(grpcServer, shutdownTimeout, logger)
		shutdownHTTP(httpServer, shutdownTimeout, logger)
		stopConsumer(consumer, logger)
		shutdownWorkers(cancelWorkers, workersDone, shutdownTimeout, logger)
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// newGRPCServer регистрирует StorefrontService, health и reflection.
func newGRPCServer(creator grpcsvc.OrderCreator, deps *runtimeDependencies, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	service := grpcsvc.NewStorefrontService(creator, deps.orders, deps.idempotencyRepo, logger.WithField("layer", "grpc"))
	storefrontv1.RegisterStorefrontServiceServer(grpcServer, service)
	grpcMetrics.InitializeMetrics(grpcServer)

	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(storefrontv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return grpcServer, healthServer
}

// runWorkers запускает outbox relay и очистку idempotency-ключей.
// Возвращённый канал закрывается, когда оба воркера завершились.
func runWorkers(
	ctx context.Context,
	cfg Config,
	deps *runtimeDependencies,
	publisher, dlqPublisher domain.OutboxPublisher,
	logger *log.Entry,
) <-chan struct{} {
	outboxWorker := outbox.NewWorker(
		deps.outboxRepo,
		publisher,
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithDLQPublisher(dlqPublisher),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	cleanupWorker := idempotency.NewCleanupWorker(
		deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	var group errgroup.Group
	group.Go(func() error {
		outboxWorker.Run(ctx)
		return nil
	})
	group.Go(func() error {
		cleanupWorker.Run(ctx)
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()
	return done
}

// shutdownWorkers отменяет контекст воркеров и ждёт их завершения не дольше timeout.
func shutdownWorkers(cancel context.CancelFunc, done <-chan struct{}, timeout time.Duration, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("background workers did not stop in time")
	}
}

// shutdownGRPC выполняет GracefulStop, по таймауту — принудительный Stop.
func shutdownGRPC(srv *grpc.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
