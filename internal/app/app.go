package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	flashsalev1 "github.com/vladislavdragonenkov/flashsale/api/flashsale/v1"
	healthcheck "github.com/vladislavdragonenkov/flashsale/internal/health"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
	"github.com/vladislavdragonenkov/flashsale/internal/service/idempotency"
	"github.com/vladislavdragonenkov/flashsale/internal/service/outbox"
	"github.com/vladislavdragonenkov/flashsale/internal/version"
)

// Run собирает сервис по конфигурации и блокируется до отмены ctx или ошибки gRPC-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithFields(version.Current().Fields()).WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage(deps, logger)

	collector := metrics.NewFlashSaleMetrics()
	services := buildServices(cfg, deps, mockCollaborators(cfg), collector, logger)
	if err := seedData(cfg, services.Admission, deps.users, logger); err != nil {
		return err
	}

	// Kafka опциональна: без неё события outbox только логируются.
	producer, err := initKafkaProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
	if err != nil {
		producer = nil
	}
	defer closeKafkaProducer(producer, logger)
	publisher, dlqPublisher := outboxPublishers(producer, cfg.KafkaTopic, logger.WithField("component", "outbox-log"))

	outboxOptions := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-relay")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlqPublisher != nil {
		outboxOptions = append(outboxOptions, outbox.WithDLQPublisher(dlqPublisher))
	}
	outboxRelay := outbox.NewRelay(deps.outboxRepo, publisher, outboxOptions...)

	receiptSweeper := idempotency.NewSweeper(
		deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-sweeper")),
		idempotency.WithEvery(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatch(cfg.IdempotencyCleanupBatchSize),
	)

	grpcServer, healthServer := newGRPCServer(services, logger)

	probes := healthcheck.NewRegistry(version.Current().Version, healthProbeTimeout)
	probes.Register("storage", deps.storageChecker)
	probes.Register("outbox", outboxBacklogChecker{repo: deps.outboxRepo, maxPending: cfg.OutboxMaxPending})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	metricsSrv := startMetricsServer(groupCtx, cfg.MetricsAddr, logger, probes)

	group.Go(func() error {
		outboxRelay.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		receiptSweeper.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func newGRPCServer(services Services, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
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

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	flashsalev1.RegisterFlashSaleServiceServer(grpcServer, services.FlashSaleAPI)
	grpcMetrics.InitializeMetrics(grpcServer)

	// reflection для grpcurl и нагрузочных утилит
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(flashsalev1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return grpcServer, healthServer
}

// stopGRPC ждёт завершения активных RPC не дольше timeout.
func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

func closeStorage(deps runtimeDependencies, logger *log.Entry) {
	if deps.closeFn == nil {
		return
	}
	if err := deps.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
