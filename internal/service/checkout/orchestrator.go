package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
	"github.com/vladislavdragonenkov/flashsale/internal/service/lifecycle"
)

const (
	defaultPaymentTimeout     = 3 * time.Second
	defaultFulfillmentTimeout = 3 * time.Second
	defaultBreakerFailures    = 5
	defaultBreakerReset       = 10 * time.Second

	cancelAttempts = 3
)

// Orchestrator связывает жизненный цикл заказа с оплатой и доставкой.
// Внешние вызовы выполняются с таймаутом и без удержания блокировок.
type Orchestrator struct {
	orders      *lifecycle.Machine
	payments    domain.PaymentService
	fulfillment domain.FulfillmentService
	logger      *log.Entry
	metrics     *metrics.FlashSaleMetrics

	paymentTimeout     time.Duration
	fulfillmentTimeout time.Duration
	paymentBreaker     *CircuitBreaker
	fulfillmentBreaker *CircuitBreaker
	compensation       RetryConfig
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics подключает метрики шагов.
func WithMetrics(collector *metrics.FlashSaleMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = collector
	}
}

// WithTimeouts ограничивает вызовы платёжного шлюза и службы доставки.
func WithTimeouts(payment, fulfillment time.Duration) Option {
	return func(o *Orchestrator) {
		if payment > 0 {
			o.paymentTimeout = payment
		}
		if fulfillment > 0 {
			o.fulfillmentTimeout = fulfillment
		}
	}
}

// WithBreakers подменяет circuit breaker'ы внешних служб. nil отключает защиту.
func WithBreakers(payment, fulfillment *CircuitBreaker) Option {
	return func(o *Orchestrator) {
		o.paymentBreaker = payment
		o.fulfillmentBreaker = fulfillment
	}
}

// WithCompensationRetry задаёт повторы для возвратов и отзыва доставки.
func WithCompensationRetry(cfg RetryConfig) Option {
	return func(o *Orchestrator) {
		o.compensation = cfg
	}
}

// NewOrchestrator создаёт оркестратор оформления заказа.
func NewOrchestrator(orders *lifecycle.Machine, payments domain.PaymentService, fulfillment domain.FulfillmentService, options ...Option) *Orchestrator {
	o := &Orchestrator{
		orders:             orders,
		payments:           payments,
		fulfillment:        fulfillment,
		paymentTimeout:     defaultPaymentTimeout,
		fulfillmentTimeout: defaultFulfillmentTimeout,
		paymentBreaker:     NewCircuitBreaker("payment", defaultBreakerFailures, defaultBreakerReset, nil),
		fulfillmentBreaker: NewCircuitBreaker("fulfillment", defaultBreakerFailures, defaultBreakerReset, nil),
		compensation:       DefaultRetryConfig(),
	}
	for _, option := range options {
		option(o)
	}
	if o.logger == nil {
		o.logger = log.WithField("component", "checkout")
	}
	return o
}

// Checkout создаёт заказ в статусе pending.
func (o *Orchestrator) Checkout(ctx context.Context, ownerID string, amountMinor int64) (domain.Order, error) {
	if ownerID == "" {
		return domain.Order{}, domain.ErrUnauthorized
	}
	defer o.observe(domain.CheckoutStepCreate, time.Now())

	order, err := o.orders.Create(ownerID, amountMinor)
	if err != nil {
		return domain.Order{}, err
	}
	o.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"owner_id":     ownerID,
		"amount_minor": amountMinor,
	}).Info("checkout created order")
	return order, nil
}

// ConfirmPayment списывает оплату и переводит заказ pending → paid.
// Заказ не в статусе pending отклоняется до обращения к шлюзу.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, orderID string) (domain.Order, error) {
	defer o.observe(domain.CheckoutStepPay, time.Now())

	order, err := o.orders.Guard(orderID, domain.OrderEventPaymentConfirmed)
	if err != nil {
		return order, err
	}
	logger := o.logger.WithField("order_id", orderID)

	err = o.paymentBreaker.Execute(ctx, func(ctx context.Context) error {
		return o.call(ctx, o.paymentTimeout, func(ctx context.Context) error {
			return o.payments.Authorize(ctx, order.ID, order.AmountMinor)
		})
	})
	if err != nil {
		logger.WithError(err).Warn("payment authorization failed")
		return domain.Order{}, fmt.Errorf("authorize payment: %w", err)
	}

	paid, err := o.orders.MarkPaid(orderID)
	if err != nil {
		if current, getErr := o.orders.Get(orderID); getErr == nil && chargeSettled(current.Status) {
			// списание по orderID одно, и его уже закрепил другой запрос
			logger.WithError(err).WithField("status", current.Status).Info("order already paid by a concurrent request")
			return current, err
		}
		logger.WithError(err).Warn("paid commit failed after authorization, refunding")
		o.refund(ctx, order, "payment commit failed")
		return paid, err
	}
	return paid, nil
}

// chargeSettled: статус, при котором списание принадлежит заказу и возврату не подлежит.
func chargeSettled(status domain.OrderStatus) bool {
	return status == domain.OrderStatusPaid || status == domain.OrderStatusShipped
}

// Fulfill передаёт оплаченный заказ в доставку и переводит его в shipped.
func (o *Orchestrator) Fulfill(ctx context.Context, orderID string) (domain.Order, error) {
	defer o.observe(domain.CheckoutStepFulfill, time.Now())

	order, err := o.orders.Guard(orderID, domain.OrderEventFulfillmentRequested)
	if err != nil {
		return order, err
	}
	logger := o.logger.WithField("order_id", orderID)

	var token string
	err = o.fulfillmentBreaker.Execute(ctx, func(ctx context.Context) error {
		return o.call(ctx, o.fulfillmentTimeout, func(ctx context.Context) error {
			var dispatchErr error
			token, dispatchErr = o.fulfillment.Dispatch(ctx, order.ID)
			return dispatchErr
		})
	})
	if err == nil && token == "" {
		err = errors.New("empty tracking token")
	}
	if err != nil {
		logger.WithError(err).Warn("fulfillment dispatch failed")
		return domain.Order{}, fmt.Errorf("%w: %w", domain.ErrFulfillmentFailed, err)
	}

	shipped, err := o.orders.MarkShipped(orderID, token)
	if err != nil {
		logger.WithError(err).WithField("tracking_token", token).Warn("shipped commit failed, cancelling dispatch")
		o.cancelDispatch(ctx, orderID, token)
		return shipped, err
	}

	logger.WithField("tracking_token", token).Info("order shipped")
	return shipped, nil
}

// Cancel отменяет заказ. Отмена фиксируется только из статуса, прочитанного
// перед решением о возврате; если статус успел измениться, решение принимается заново.
// Возврат выполняется лишь после зафиксированного перехода paid → cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, orderID, reason string) (domain.Order, error) {
	defer o.observe(domain.CheckoutStepCancel, time.Now())
	logger := o.logger.WithField("order_id", orderID)

	var lastErr error
	for attempt := 0; attempt < cancelAttempts; attempt++ {
		order, err := o.orders.Guard(orderID, domain.OrderEventCancellationRequested)
		if err != nil {
			return order, err
		}
		if order.Status == domain.OrderStatusPaid {
			// без шлюза оплаты отменять оплаченный заказ нельзя: возврат не пройдёт
			if err := o.paymentBreaker.Ready(); err != nil {
				logger.WithError(err).Warn("cancel rejected, payment gateway unavailable")
				return domain.Order{}, fmt.Errorf("refund: %w", err)
			}
		}

		cancelled, err := o.orders.CancelFrom(orderID, order.Status, reason)
		if domain.IsVersionConflict(err) {
			lastErr = err
			logger.WithError(err).WithField("attempt", attempt+1).Info("order changed before cancel commit, re-reading")
			continue
		}
		if err != nil {
			logger.WithError(err).Warn("cancel commit failed")
			return cancelled, err
		}

		if order.Status == domain.OrderStatusPaid {
			o.refund(ctx, cancelled, "order cancelled")
		}
		return cancelled, nil
	}
	return domain.Order{}, lastErr
}

// Order возвращает заказ по идентификатору.
func (o *Orchestrator) Order(orderID string) (domain.Order, error) {
	return o.orders.Get(orderID)
}

// Orders возвращает заказы владельца.
func (o *Orchestrator) Orders(ownerID string, opts domain.OrderListOptions) ([]domain.Order, error) {
	if ownerID == "" {
		return nil, domain.ErrUnauthorized
	}
	return o.orders.List(ownerID, opts)
}

// Timeline возвращает аудит переходов заказа.
func (o *Orchestrator) Timeline(orderID string) ([]domain.TimelineEvent, error) {
	return o.orders.Timeline(orderID)
}

// call выполняет внешний вызов с таймаутом; истечение дедлайна считается недоступностью службы.
func (o *Orchestrator) call(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrDependencyUnavailable) {
		return fmt.Errorf("%w: %w", domain.ErrDependencyUnavailable, err)
	}
	return err
}

// refund компенсирует списание. Контекст запроса мог быть отменён, поэтому используется отвязанный.
func (o *Orchestrator) refund(ctx context.Context, order domain.Order, reason string) {
	started := time.Now()
	defer o.observe(domain.CheckoutStepRefund, started)

	compensateCtx := context.WithoutCancel(ctx)
	err := retry(compensateCtx, o.compensation, o.logger, "refund", func(ctx context.Context) error {
		return o.call(ctx, o.paymentTimeout, func(ctx context.Context) error {
			return o.payments.Refund(ctx, order.ID, order.AmountMinor)
		})
	})
	entry := o.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"amount_minor": order.AmountMinor,
		"reason":       reason,
	})
	if err != nil {
		entry.WithError(err).Error("compensating refund failed")
		return
	}
	entry.Info("compensating refund issued")
}

func (o *Orchestrator) cancelDispatch(ctx context.Context, orderID, token string) {
	compensateCtx := context.WithoutCancel(ctx)
	err := retry(compensateCtx, o.compensation, o.logger, "cancel dispatch", func(ctx context.Context) error {
		return o.call(ctx, o.fulfillmentTimeout, func(ctx context.Context) error {
			return o.fulfillment.Cancel(ctx, token)
		})
	})
	entry := o.logger.WithFields(log.Fields{"order_id": orderID, "tracking_token": token})
	if err != nil {
		entry.WithError(err).Error("dispatch compensation failed")
		return
	}
	entry.Info("dispatch cancelled")
}

func (o *Orchestrator) observe(step domain.CheckoutStep, started time.Time) {
	o.metrics.RecordStepDuration(string(step), time.Since(started))
}
