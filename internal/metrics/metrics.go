package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты выдачи купона для метки result.
const (
	ResultApplied            = "applied"
	ResultExhausted          = "exhausted"
	ResultAlreadyRedeemed    = "already_redeemed"
	ResultNotFound           = "not_found"
	ResultVerificationFailed = "verification_failed"
	ResultError              = "error"
)

// FlashSaleMetrics содержит метрики выдачи купонов и жизненного цикла заказов.
// Все методы безопасны для nil-получателя: nil означает «метрики выключены».
type FlashSaleMetrics struct {
	redemptions          *prometheus.CounterVec
	verificationDuration prometheus.Histogram
	activeRedemptions    prometheus.Gauge
	couponGrants         prometheus.Counter

	transitions          *prometheus.CounterVec
	transitionRejections *prometheus.CounterVec
	stepDuration         *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewFlashSaleMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewFlashSaleMetrics() *FlashSaleMetrics {
	return NewFlashSaleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewFlashSaleMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewFlashSaleMetricsWithRegisterer(registerer prometheus.Registerer) *FlashSaleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &FlashSaleMetrics{
		redemptions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashsale_redemptions_total",
			Help: "Total number of coupon redemption attempts grouped by result",
		}, []string{"result"})),
		verificationDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flashsale_verification_duration_seconds",
			Help:    "Duration of external coupon verification calls in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		})),
		activeRedemptions: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flashsale_active_redemptions",
			Help: "Number of redemption requests currently in flight",
		})),
		couponGrants: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flashsale_coupon_grants_total",
			Help: "Total number of committed coupon grants",
		})),
		transitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashsale_order_transitions_total",
			Help: "Total number of committed order status transitions",
		}, []string{"from", "to"})),
		transitionRejections: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashsale_order_transition_rejections_total",
			Help: "Total number of rejected order transitions grouped by event",
		}, []string{"event"})),
		stepDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flashsale_checkout_step_duration_seconds",
			Help:    "Duration of checkout steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flashsale_timeline_events_total",
			Help: "Total number of timeline events recorded",
		})),
		outboxEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flashsale_outbox_events_total",
			Help: "Total number of events enqueued to the outbox",
		})),
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}

	var alreadyRegistered prometheus.AlreadyRegisteredError
	if errors.As(err, &alreadyRegistered) {
		existing, ok := alreadyRegistered.ExistingCollector.(C)
		if !ok {
			panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
		}
		return existing
	}
	panic(fmt.Sprintf("register collector: %v", err))
}

// RecordRedemption учитывает попытку выдачи купона с итоговым результатом.
func (m *FlashSaleMetrics) RecordRedemption(result string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(result).Inc()
	if result == ResultApplied {
		m.couponGrants.Inc()
	}
}

// ObserveVerification записывает длительность внешней проверки.
func (m *FlashSaleMetrics) ObserveVerification(duration time.Duration) {
	if m == nil {
		return
	}
	m.verificationDuration.Observe(duration.Seconds())
}

// RedemptionStarted увеличивает число запросов выдачи в работе.
func (m *FlashSaleMetrics) RedemptionStarted() {
	if m == nil {
		return
	}
	m.activeRedemptions.Inc()
}

// RedemptionFinished уменьшает число запросов выдачи в работе.
func (m *FlashSaleMetrics) RedemptionFinished() {
	if m == nil {
		return
	}
	m.activeRedemptions.Dec()
}

// RecordTransition учитывает зафиксированный переход статуса заказа.
func (m *FlashSaleMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordTransitionRejected учитывает отклонённое событие жизненного цикла.
func (m *FlashSaleMetrics) RecordTransitionRejected(event string) {
	if m == nil {
		return
	}
	m.transitionRejections.WithLabelValues(event).Inc()
}

// RecordStepDuration записывает время выполнения шага оформления заказа.
func (m *FlashSaleMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *FlashSaleMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *FlashSaleMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
