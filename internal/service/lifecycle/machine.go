package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
)

const (
	defaultConflictRetries = 3
	defaultConflictDelay   = 10 * time.Millisecond
)

// Machine хранит заказы и применяет к ним переходы жизненного цикла.
// Каждый переход выполняется как атомарный read-modify-write с проверкой версии.
type Machine struct {
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	logger   *log.Entry
	metrics  *metrics.FlashSaleMetrics
	now      func() time.Time
	newID    func() string

	conflictRetries int
	conflictDelay   time.Duration
}

// Option настраивает Machine.
type Option func(*Machine)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithMetrics включает метрики переходов.
func WithMetrics(collector *metrics.FlashSaleMetrics) Option {
	return func(m *Machine) {
		m.metrics = collector
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(newID func() string) Option {
	return func(m *Machine) {
		m.newID = newID
	}
}

// WithConflictRetries задаёт число повторов при конфликте версий и базовую задержку.
func WithConflictRetries(retries int, baseDelay time.Duration) Option {
	return func(m *Machine) {
		m.conflictRetries = retries
		m.conflictDelay = baseDelay
	}
}

// NewMachine создаёт машину состояний заказов. timeline и outbox могут быть nil.
func NewMachine(orders domain.OrderRepository, timeline domain.TimelineRepository, outbox domain.OutboxRepository, options ...Option) *Machine {
	m := &Machine{
		orders:          orders,
		timeline:        timeline,
		outbox:          outbox,
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
		conflictRetries: defaultConflictRetries,
		conflictDelay:   defaultConflictDelay,
	}
	for _, option := range options {
		option(m)
	}
	if m.logger == nil {
		m.logger = log.New().WithField("component", "order-lifecycle")
	}
	if m.conflictRetries <= 0 {
		m.conflictRetries = 1
	}
	return m
}

// Create заводит заказ в статусе pending.
func (m *Machine) Create(ownerID string, amountMinor int64) (domain.Order, error) {
	order, err := domain.NewOrder(m.newID(), ownerID, amountMinor, m.now())
	if err != nil {
		return domain.Order{}, err
	}
	if err := m.orders.Create(order); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	m.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"owner_id":     order.OwnerID,
		"amount_minor": order.AmountMinor,
	}).Info("order created")
	m.emit(order, domain.EventOrderCreated, "", "")
	return order, nil
}

// Get возвращает заказ.
func (m *Machine) Get(orderID string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	return m.orders.Get(orderID)
}

// List возвращает заказы владельца.
func (m *Machine) List(ownerID string, opts domain.OrderListOptions) ([]domain.Order, error) {
	if ownerID == "" {
		return nil, domain.ErrOwnerRequired
	}
	return m.orders.ListByOwner(ownerID, opts)
}

// Timeline возвращает историю событий заказа.
func (m *Machine) Timeline(orderID string) ([]domain.TimelineEvent, error) {
	if m.timeline == nil {
		return nil, nil
	}
	return m.timeline.List(orderID)
}

// Guard проверяет, что событие допустимо для текущего статуса, ничего не меняя.
// Используется перед внешними вызовами; окончательную проверку делает Transition.
func (m *Machine) Guard(orderID string, event domain.OrderEvent) (domain.Order, error) {
	order, err := m.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := domain.NextStatus(order.Status, event); err != nil {
		m.metrics.RecordTransitionRejected(string(event))
		return order, err
	}
	return order, nil
}

// MarkPaid переводит pending → paid.
func (m *Machine) MarkPaid(orderID string) (domain.Order, error) {
	return m.Transition(orderID, domain.OrderEventPaymentConfirmed, "", nil)
}

// MarkShipped переводит paid → shipped и сохраняет трек-номер.
func (m *Machine) MarkShipped(orderID, trackingToken string) (domain.Order, error) {
	return m.Transition(orderID, domain.OrderEventFulfillmentRequested, "", func(order *domain.Order) {
		order.TrackingToken = trackingToken
	})
}

// Cancel переводит pending|paid → cancelled.
func (m *Machine) Cancel(orderID, reason string) (domain.Order, error) {
	return m.Transition(orderID, domain.OrderEventCancellationRequested, reason, nil)
}

// CancelFrom отменяет заказ, только если он всё ещё в статусе from.
// Иначе возвращает ErrOrderVersionConflict и заказ не меняет.
func (m *Machine) CancelFrom(orderID string, from domain.OrderStatus, reason string) (domain.Order, error) {
	return m.transition(orderID, domain.OrderEventCancellationRequested, from, reason, nil)
}

// Transition применяет событие к свежей версии заказа.
// При конфликте версий заказ перечитывается и событие проверяется заново,
// поэтому проигравший гонку получает ErrInvalidStateTransition, а не двойной переход.
func (m *Machine) Transition(orderID string, event domain.OrderEvent, reason string, mutate func(*domain.Order)) (domain.Order, error) {
	return m.transition(orderID, event, "", reason, mutate)
}

// transition с непустым expected фиксирует переход только из этого статуса.
func (m *Machine) transition(orderID string, event domain.OrderEvent, expected domain.OrderStatus, reason string, mutate func(*domain.Order)) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	var lastErr error
	for attempt := 0; attempt < m.conflictRetries; attempt++ {
		order, err := m.orders.Get(orderID)
		if err != nil {
			return domain.Order{}, err
		}

		from := order.Status
		if expected != "" && from != expected {
			m.logger.WithFields(log.Fields{
				"order_id": orderID,
				"status":   from,
				"expected": expected,
				"event":    event,
			}).Info("order status moved since it was read")
			return order, fmt.Errorf("%w: order %s is %s, expected %s", domain.ErrOrderVersionConflict, orderID, from, expected)
		}
		if err := order.Apply(event, m.now()); err != nil {
			m.metrics.RecordTransitionRejected(string(event))
			m.logger.WithFields(log.Fields{
				"order_id": orderID,
				"status":   from,
				"event":    event,
			}).Info("order transition rejected")
			return order, err
		}
		if mutate != nil {
			mutate(&order)
		}

		err = m.orders.Save(order)
		if err == nil {
			order.Version++
			m.metrics.RecordTransition(string(from), string(order.Status))
			m.logger.WithFields(log.Fields{
				"order_id": orderID,
				"from":     from,
				"to":       order.Status,
			}).Info("order status changed")
			m.emit(order, eventTypeFor(order.Status), string(from), reason)
			return order, nil
		}
		if !domain.IsVersionConflict(err) {
			m.logger.WithError(err).WithField("order_id", orderID).Error("failed to persist status")
			return domain.Order{}, fmt.Errorf("save order: %w", err)
		}

		lastErr = err
		m.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")
		if attempt < m.conflictRetries-1 && m.conflictDelay > 0 {
			time.Sleep(m.conflictDelay * time.Duration(1<<uint(attempt)))
		}
	}

	return domain.Order{}, lastErr
}

func eventTypeFor(status domain.OrderStatus) string {
	switch status {
	case domain.OrderStatusPaid:
		return domain.EventOrderPaid
	case domain.OrderStatusShipped:
		return domain.EventOrderShipped
	case domain.OrderStatusCancelled:
		return domain.EventOrderCancelled
	default:
		return domain.EventOrderCreated
	}
}

type orderEventPayload struct {
	OrderID       string `json:"order_id"`
	OwnerID       string `json:"owner_id"`
	AmountMinor   int64  `json:"amount_minor"`
	Status        string `json:"status"`
	PreviousState string `json:"previous_status,omitempty"`
	TrackingToken string `json:"tracking_token,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Version       int64  `json:"version"`
	OccurredAt    string `json:"ts"`
}

// emit пишет событие в outbox и timeline. Ошибки только логируются:
// статус уже зафиксирован и откатывать его нельзя.
func (m *Machine) emit(order domain.Order, eventType, from, reason string) {
	fields := log.Fields{"order_id": order.ID, "event": eventType}

	if m.outbox != nil {
		data, err := json.Marshal(orderEventPayload{
			OrderID:       order.ID,
			OwnerID:       order.OwnerID,
			AmountMinor:   order.AmountMinor,
			Status:        string(order.Status),
			PreviousState: from,
			TrackingToken: order.TrackingToken,
			Reason:        reason,
			Version:       order.Version,
			OccurredAt:    order.UpdatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			m.logger.WithError(err).WithFields(fields).Error("marshal event failed")
		} else if _, err := m.outbox.Enqueue(domain.OutboxMessage{
			AggregateType: domain.AggregateOrder,
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       data,
		}); err != nil {
			m.logger.WithError(err).WithFields(fields).Error("enqueue event failed")
		} else {
			m.metrics.RecordOutboxEvent()
		}
	}

	if m.timeline != nil {
		err := m.timeline.Append(domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Reason:   reason,
			Occurred: order.UpdatedAt,
		})
		if err != nil {
			m.logger.WithError(err).WithFields(fields).Warn("append timeline event failed")
		} else {
			m.metrics.RecordTimelineEvent()
		}
	}
}

// IsInvalidState сообщает, что ошибка вызвана недопустимым переходом.
func IsInvalidState(err error) bool {
	return errors.Is(err, domain.ErrInvalidStateTransition)
}
