// Package idempotency чистит просроченные квитанции idempotency-key.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

const (
	defaultSweepEvery = 10 * time.Minute
	defaultSweepBatch = 500
)

var (
	sweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsale_idempotency_sweeps_total",
		Help: "Idempotency receipt sweeps grouped by outcome.",
	}, []string{"outcome"})
	receiptsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashsale_idempotency_receipts_swept_total",
		Help: "Expired idempotency receipts removed by the sweeper.",
	})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flashsale_idempotency_sweep_duration_seconds",
		Help:    "Wall time of a single idempotency receipt sweep.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
)

// Sweeper периодически удаляет квитанции, у которых истёк TTL.
// Живые квитанции не трогает: повтор запроса обязан получить прежний итог.
type Sweeper struct {
	receipts domain.IdempotencyRepository
	logger   *log.Entry
	every    time.Duration
	batch    int
	now      func() time.Time
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*Sweeper)

func WithLogger(logger *log.Entry) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEvery задаёт паузу между проходами.
func WithEvery(every time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if every > 0 {
			s.every = every
		}
	}
}

// WithBatch ограничивает число строк, удаляемых одним запросом.
func WithBatch(batch int) SweeperOption {
	return func(s *Sweeper) {
		if batch > 0 {
			s.batch = batch
		}
	}
}

func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// SweepReport итог одного прохода.
type SweepReport struct {
	Removed int
	Batches int
	Cutoff  time.Time
}

func NewSweeper(receipts domain.IdempotencyRepository, options ...SweeperOption) *Sweeper {
	s := &Sweeper{
		receipts: receipts,
		logger:   log.WithField("component", "idempotency-sweeper"),
		every:    defaultSweepEvery,
		batch:    defaultSweepBatch,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Run делает проход сразу и затем каждые every, пока ctx жив.
func (s *Sweeper) Run(ctx context.Context) {
	if s.receipts == nil {
		s.logger.Warn("idempotency sweeper disabled: no receipt store")
		return
	}

	s.tick(ctx)

	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	started := time.Now()
	report, err := s.Sweep(ctx)
	sweepDuration.Observe(time.Since(started).Seconds())

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		sweepsTotal.WithLabelValues("interrupted").Inc()
	case err != nil:
		sweepsTotal.WithLabelValues("failed").Inc()
		s.logger.WithError(err).WithField("removed", report.Removed).Warn("idempotency sweep failed")
	default:
		sweepsTotal.WithLabelValues("done").Inc()
		if report.Removed > 0 {
			s.logger.WithFields(log.Fields{
				"removed": report.Removed,
				"batches": report.Batches,
			}).Info("expired idempotency receipts removed")
		}
	}
}

// Sweep удаляет все квитанции с expires_at <= now пачками по batch.
// Неполная пачка означает, что просроченных строк больше нет.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Cutoff: s.now()}
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		removed, err := s.receipts.DeleteExpired(report.Cutoff, s.batch)
		if err != nil {
			return report, err
		}
		report.Batches++
		report.Removed += removed
		receiptsSweptTotal.Add(float64(removed))

		if removed < s.batch {
			return report, nil
		}
	}
}
