package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// RetryConfig управляет повторами компенсирующих действий.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// delays возвращает паузы между попытками: на одну меньше, чем попыток.
func (c RetryConfig) delays() []time.Duration {
	attempts := max(c.MaxAttempts, 1)
	out := make([]time.Duration, 0, attempts-1)
	delay := c.InitialDelay
	for range attempts - 1 {
		out = append(out, delay)
		delay = time.Duration(float64(delay) * c.BackoffFactor)
		if c.MaxDelay > 0 {
			delay = min(delay, c.MaxDelay)
		}
	}
	return out
}

// retry вызывает fn, пока ошибка временная и попытки не исчерпаны.
func retry(ctx context.Context, cfg RetryConfig, logger *log.Entry, operation string, fn func(context.Context) error) error {
	entry := logger.WithField("operation", operation)
	delays := cfg.delays()

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				entry.WithField("attempt", attempt+1).Info("operation succeeded after retry")
			}
			return nil
		}
		if isBusinessError(err) || attempt >= len(delays) {
			return fmt.Errorf("%s: %w", operation, err)
		}

		wait := delays[attempt]
		entry.WithError(err).WithFields(log.Fields{"attempt": attempt + 1, "delay": wait}).Warn("operation failed, retrying")
		if err := sleepCtx(ctx, wait); err != nil {
			return fmt.Errorf("%s: %w", operation, err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isBusinessError: отказ по существу запроса; повтор его не изменит.
func isBusinessError(err error) bool {
	return errors.Is(err, domain.ErrPaymentDeclined) ||
		errors.Is(err, domain.ErrOrderNotFound) ||
		errors.Is(err, domain.ErrInvalidStateTransition)
}
