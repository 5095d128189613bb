package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
	"github.com/vladislavdragonenkov/flashsale/internal/service/admission"
	"github.com/vladislavdragonenkov/flashsale/internal/service/checkout"
	"github.com/vladislavdragonenkov/flashsale/internal/service/fulfillment"
	grpcsvc "github.com/vladislavdragonenkov/flashsale/internal/service/grpc"
	"github.com/vladislavdragonenkov/flashsale/internal/service/identity"
	"github.com/vladislavdragonenkov/flashsale/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/flashsale/internal/service/payment"
	"github.com/vladislavdragonenkov/flashsale/internal/service/verification"
)

// Collaborators: внешние сервисы, с которыми работает ядро.
type Collaborators struct {
	Verification domain.VerificationService
	Payment      domain.PaymentService
	Fulfillment  domain.FulfillmentService
}

// mockCollaborators возвращает встроенные заглушки.
// NOTE: в production их заменяют клиенты реальных провайдеров.
func mockCollaborators(cfg Config) Collaborators {
	return Collaborators{
		Verification: verification.NewMockService(cfg.VerificationLatency),
		Payment:      payment.NewMockService(cfg.PaymentLatency),
		Fulfillment:  fulfillment.NewMockService(cfg.FulfillmentLatency),
	}
}

// Services: собранные компоненты приложения.
type Services struct {
	Machine      *lifecycle.Machine
	Checkout     *checkout.Orchestrator
	Admission    *admission.Controller
	Identity     identity.Resolver
	FlashSaleAPI *grpcsvc.FlashSaleService
}

func buildServices(cfg Config, deps runtimeDependencies, collab Collaborators, collector *metrics.FlashSaleMetrics, logger *log.Entry) Services {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	machine := lifecycle.NewMachine(
		deps.repo, deps.timelineRepo, deps.outboxRepo,
		lifecycle.WithLogger(logger.WithField("component", "lifecycle")),
		lifecycle.WithMetrics(collector),
	)

	breakerLogger := logger.WithField("component", "circuit-breaker")
	orchestrator := checkout.NewOrchestrator(
		machine, collab.Payment, collab.Fulfillment,
		checkout.WithLogger(logger.WithField("component", "checkout")),
		checkout.WithMetrics(collector),
		checkout.WithTimeouts(cfg.PaymentTimeout, cfg.FulfillmentTimeout),
		checkout.WithBreakers(
			checkout.NewCircuitBreaker("payment", cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, breakerLogger),
			checkout.NewCircuitBreaker("fulfillment", cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, breakerLogger),
		),
	)

	controller := admission.NewController(
		deps.ledger, collab.Verification, deps.outboxRepo,
		admission.WithLogger(logger.WithField("component", "admission")),
		admission.WithMetrics(collector),
		admission.WithVerificationTimeout(cfg.VerificationTimeout),
	)

	var tokenResolver identity.Resolver
	if cfg.JWTSecret != "" {
		tokenResolver = identity.NewJWTResolver(cfg.JWTSecret, cfg.JWTIssuer)
	}
	resolver := identity.NewChain(tokenResolver, identity.NewHeaderResolver(deps.users))

	api := grpcsvc.NewFlashSaleService(
		orchestrator, controller, resolver, deps.idempotencyRepo,
		logger.WithField("layer", "grpc"),
		grpcsvc.WithIdempotencyTTL(cfg.IdempotencyTTL),
	)

	return Services{
		Machine:      machine,
		Checkout:     orchestrator,
		Admission:    controller,
		Identity:     resolver,
		FlashSaleAPI: api,
	}
}
