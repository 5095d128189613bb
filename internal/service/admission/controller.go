package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
)

const defaultVerificationTimeout = 2 * time.Second

// Controller выдаёт купоны: предварительная проверка, внешняя верификация, атомарная выдача.
// Во время верификации никакие блокировки реестра не удерживаются.
type Controller struct {
	ledger   domain.CouponLedger
	verifier domain.VerificationService
	outbox   domain.OutboxRepository
	logger   *log.Entry
	metrics  *metrics.FlashSaleMetrics
	now      func() time.Time

	verificationTimeout time.Duration
}

// Option настраивает Controller.
type Option func(*Controller)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics подключает метрики выдачи.
func WithMetrics(collector *metrics.FlashSaleMetrics) Option {
	return func(c *Controller) {
		c.metrics = collector
	}
}

// WithVerificationTimeout ограничивает время внешней проверки.
func WithVerificationTimeout(timeout time.Duration) Option {
	return func(c *Controller) {
		if timeout > 0 {
			c.verificationTimeout = timeout
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController создаёт контроллер выдачи. outbox может быть nil.
func NewController(ledger domain.CouponLedger, verifier domain.VerificationService, outbox domain.OutboxRepository, options ...Option) *Controller {
	c := &Controller{
		ledger:              ledger,
		verifier:            verifier,
		outbox:              outbox,
		now:                 func() time.Time { return time.Now().UTC() },
		verificationTimeout: defaultVerificationTimeout,
	}
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = log.WithField("component", "admission")
	}
	return c
}

// Redeem пытается выдать купон code пользователю userID.
func (c *Controller) Redeem(ctx context.Context, code, userID string) (domain.Redemption, error) {
	if userID == "" {
		return domain.Redemption{}, domain.ErrUnauthorized
	}
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return domain.Redemption{}, domain.ErrCouponCodeRequired
	}

	c.metrics.RedemptionStarted()
	defer c.metrics.RedemptionFinished()

	logger := c.logger.WithFields(log.Fields{"code": code, "user_id": userID})

	redemption, err := c.redeem(ctx, code, userID)
	result := resultFor(err)
	c.metrics.RecordRedemption(result)
	if err != nil {
		entry := logger.WithField("result", result)
		if result == metrics.ResultError {
			entry.WithError(err).Error("redemption failed")
		} else {
			entry.Info("redemption rejected")
		}
		return domain.Redemption{}, err
	}

	logger.WithField("discount", redemption.Discount).Info("coupon granted")
	c.emitGranted(redemption)
	return redemption, nil
}

func (c *Controller) redeem(ctx context.Context, code, userID string) (domain.Redemption, error) {
	if err := c.precheck(code, userID); err != nil {
		return domain.Redemption{}, err
	}

	if err := c.verify(ctx, code, userID); err != nil {
		return domain.Redemption{}, err
	}

	redemption, err := c.ledger.TryGrant(code, userID, c.now())
	if err != nil {
		return domain.Redemption{}, err
	}
	return redemption, nil
}

// precheck отсекает заведомо безнадёжные запросы до дорогой верификации.
// Результат носит рекомендательный характер: окончательное решение принимает TryGrant.
func (c *Controller) precheck(code, userID string) error {
	coupon, err := c.ledger.GetCoupon(code)
	if err != nil {
		return err
	}
	redeemed, err := c.ledger.HasRedemption(code, userID)
	if err != nil {
		return err
	}
	if redeemed {
		return domain.ErrCouponAlreadyRedeemed
	}
	if coupon.Exhausted() {
		return domain.ErrCouponExhausted
	}
	return nil
}

func (c *Controller) verify(ctx context.Context, code, userID string) error {
	if c.verifier == nil {
		return nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, c.verificationTimeout)
	defer cancel()

	started := time.Now()
	err := c.verifier.Verify(verifyCtx, code, userID)
	c.metrics.ObserveVerification(time.Since(started))
	if err == nil {
		return nil
	}
	// вызывающий ушёл раньше ответа: отказа по существу не было, запрос можно повторить
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: verification interrupted: %w", domain.ErrDependencyUnavailable, ctxErr)
	}
	return fmt.Errorf("%w: %w", domain.ErrVerificationFailed, err)
}

// Provision заводит новый купон.
func (c *Controller) Provision(coupon domain.Coupon) (domain.Coupon, error) {
	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	if err := c.ledger.CreateCoupon(coupon); err != nil {
		return domain.Coupon{}, err
	}
	c.logger.WithFields(log.Fields{
		"code":     coupon.Code,
		"discount": coupon.Discount,
		"capacity": coupon.Capacity,
	}).Info("coupon provisioned")
	return c.ledger.GetCoupon(coupon.Code)
}

// Coupon возвращает текущее состояние купона.
func (c *Controller) Coupon(code string) (domain.Coupon, error) {
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return domain.Coupon{}, domain.ErrCouponCodeRequired
	}
	return c.ledger.GetCoupon(code)
}

type grantedPayload struct {
	Code       string `json:"code"`
	UserID     string `json:"user_id"`
	Discount   int64  `json:"discount"`
	RedeemedAt string `json:"ts"`
}

// emitGranted ставит событие выдачи в outbox. Выдача уже зафиксирована, ошибка только логируется.
func (c *Controller) emitGranted(redemption domain.Redemption) {
	if c.outbox == nil {
		return
	}
	data, err := json.Marshal(grantedPayload{
		Code:       redemption.Code,
		UserID:     redemption.UserID,
		Discount:   redemption.Discount,
		RedeemedAt: redemption.RedeemedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		c.logger.WithError(err).Error("marshal grant event failed")
		return
	}
	if _, err := c.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: domain.AggregateCoupon,
		AggregateID:   redemption.Code,
		EventType:     domain.EventCouponGranted,
		Payload:       data,
	}); err != nil {
		c.logger.WithError(err).WithField("code", redemption.Code).Error("enqueue grant event failed")
		return
	}
	c.metrics.RecordOutboxEvent()
}

func resultFor(err error) string {
	switch {
	case err == nil:
		return metrics.ResultApplied
	case errors.Is(err, domain.ErrCouponExhausted):
		return metrics.ResultExhausted
	case errors.Is(err, domain.ErrCouponAlreadyRedeemed):
		return metrics.ResultAlreadyRedeemed
	case errors.Is(err, domain.ErrCouponNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, domain.ErrVerificationFailed):
		return metrics.ResultVerificationFailed
	default:
		return metrics.ResultError
	}
}
