// Package outbox доставляет события transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/messaging/kafka"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
	defaultMaxAttempts  = 3
	defaultBaseBackoff  = 50 * time.Millisecond
	maxBackoff          = 5 * time.Second
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsale_outbox_deliveries_total",
		Help: "Outbox messages leaving the relay grouped by outcome.",
	}, []string{"outcome"})
	publishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashsale_outbox_publish_errors_total",
		Help: "Failed broker publish attempts, retries included.",
	})
	backlogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flashsale_outbox_backlog",
		Help: "Pending outbox messages seen by the relay.",
	})
	backlogAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flashsale_outbox_backlog_age_seconds",
		Help: "Age of the oldest pending outbox message.",
	})
	backlogClaimed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flashsale_outbox_claimed",
		Help: "Pending outbox messages currently claimed by a relay.",
	})
)

// outcome итог доставки одного сообщения.
type outcome string

const (
	outcomeSent        outcome = "sent"
	outcomeDeadLetter  outcome = "dead_lettered"
	outcomeParked      outcome = "parked"
	outcomeInterrupted outcome = "interrupted"
)

// DrainReport считает итоги одного прохода по outbox.
type DrainReport struct {
	Pulled       int
	Sent         int
	DeadLettered int
	// Parked: публикация не удалась, DLQ не настроен или тоже упал.
	Parked int
}

// Relay выбирает pending-сообщения, публикует их с повторами и
// отмечает sent либо failed. Исчерпавшие попытки уходят в DLQ.
type Relay struct {
	store       domain.OutboxRepository
	publisher   domain.OutboxPublisher
	deadLetters domain.OutboxPublisher
	logger      *log.Entry
	every       time.Duration
	batch       int
	attempts    int
	baseBackoff time.Duration
	now         func() time.Time
}

// Option настраивает Relay.
type Option func(*Relay)

func WithLogger(logger *log.Entry) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDLQPublisher включает пересылку исчерпавших попытки сообщений в DLQ.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(r *Relay) { r.deadLetters = publisher }
}

func WithPollInterval(every time.Duration) Option {
	return func(r *Relay) {
		if every > 0 {
			r.every = every
		}
	}
}

func WithBatchSize(batch int) Option {
	return func(r *Relay) {
		if batch > 0 {
			r.batch = batch
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации одного сообщения.
func WithMaxAttempts(attempts int) Option {
	return func(r *Relay) {
		if attempts > 0 {
			r.attempts = attempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается.
// Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(r *Relay) {
		if delay >= 0 {
			r.baseBackoff = delay
		}
	}
}

func NewRelay(store domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Relay {
	r := &Relay{
		store:       store,
		publisher:   publisher,
		logger:      log.WithField("component", "outbox-relay"),
		every:       defaultPollInterval,
		batch:       defaultBatchSize,
		attempts:    defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Run вызывает Drain каждые every до отмены ctx.
func (r *Relay) Run(ctx context.Context) {
	if r.store == nil || r.publisher == nil {
		r.logger.Warn("outbox relay disabled: store or publisher missing")
		return
	}

	ticker := time.NewTicker(r.every)
	defer ticker.Stop()
	for {
		report := r.Drain(ctx)
		if report.Parked > 0 || report.DeadLettered > 0 {
			r.logger.WithFields(log.Fields{
				"sent":          report.Sent,
				"dead_lettered": report.DeadLettered,
				"parked":        report.Parked,
			}).Warn("outbox drain finished with undelivered messages")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Drain делает один проход: до batch сообщений, по порядку вставки.
// Если ctx отменён посреди повторов, сообщение остаётся pending и выдаётся снова после истечения claim.
func (r *Relay) Drain(ctx context.Context) DrainReport {
	var report DrainReport
	if ctx.Err() != nil {
		return report
	}
	defer r.observeBacklog()

	pending, err := r.store.PullPending(r.batch)
	if err != nil {
		r.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return report
	}
	report.Pulled = len(pending)

	for _, msg := range pending {
		result := r.deliver(ctx, msg)
		deliveriesTotal.WithLabelValues(string(result)).Inc()
		switch result {
		case outcomeSent:
			report.Sent++
		case outcomeDeadLetter:
			report.DeadLettered++
		case outcomeParked:
			report.Parked++
		case outcomeInterrupted:
			return report
		}
	}
	return report
}

func (r *Relay) deliver(ctx context.Context, msg domain.OutboxMessage) outcome {
	entry := r.logger.WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"event_type": msg.EventType,
		"aggregate":  msg.AggregateType + "/" + msg.AggregateID,
		"claims":     msg.Attempts,
	})

	publishErr := r.publish(ctx, msg)
	if errors.Is(publishErr, context.Canceled) || errors.Is(publishErr, context.DeadlineExceeded) {
		return outcomeInterrupted
	}
	if publishErr == nil {
		if err := r.store.MarkSent(msg.ID); err != nil {
			entry.WithError(err).Warn("published but failed to mark outbox message sent")
		}
		return outcomeSent
	}

	entry.WithError(publishErr).Error("outbox message undeliverable")
	result := outcomeParked
	if r.deadLetters != nil {
		if err := r.forwardToDLQ(msg, publishErr); err != nil {
			entry.WithError(err).Warn("failed to forward outbox message to DLQ")
		} else {
			result = outcomeDeadLetter
		}
	}
	if err := r.store.MarkFailed(msg.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox message failed")
	}
	return result
}

// publish делает до attempts попыток с удваивающейся паузой.
func (r *Relay) publish(ctx context.Context, msg domain.OutboxMessage) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err = r.publisher.Publish(msg); err == nil {
			return nil
		}
		publishErrorsTotal.Inc()
		if attempt == r.attempts {
			break
		}

		pause := r.backoff(attempt)
		if pause == 0 {
			continue
		}
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%d publish attempts failed: %w", r.attempts, err)
}

// backoff возвращает паузу после attempt-й неудачи: base, 2*base, 4*base... не больше maxBackoff.
func (r *Relay) backoff(attempt int) time.Duration {
	if r.baseBackoff <= 0 {
		return 0
	}
	pause := r.baseBackoff
	for i := 1; i < attempt; i++ {
		pause *= 2
		if pause >= maxBackoff {
			return maxBackoff
		}
	}
	return min(pause, maxBackoff)
}

func (r *Relay) forwardToDLQ(msg domain.OutboxMessage, cause error) error {
	letter, err := json.Marshal(kafka.DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishError:  cause.Error(),
		FailedAt:      r.now(),
	})
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	wrapped := msg
	wrapped.Payload = letter
	return r.deadLetters.Publish(wrapped)
}

func (r *Relay) observeBacklog() {
	stats, err := r.store.Stats()
	if err != nil {
		r.logger.WithError(err).Warn("failed to read outbox backlog")
		return
	}

	backlogSize.Set(float64(stats.PendingCount))
	backlogClaimed.Set(float64(stats.ClaimedCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		backlogAge.Set(0)
		return
	}
	backlogAge.Set(max(r.now().Sub(stats.OldestPendingAt).Seconds(), 0))
}
