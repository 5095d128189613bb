package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid: оплата подтверждена платёжным провайдером.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped: заказ передан в доставку, получен трек-номер.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCancelled: заказ отменён до отправки.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusShipped || s == OrderStatusCancelled
}

// OrderEvent: событие, двигающее заказ по жизненному циклу.
type OrderEvent string

const (
	OrderEventPaymentConfirmed      OrderEvent = "payment_confirmed"
	OrderEventFulfillmentRequested  OrderEvent = "fulfillment_requested"
	OrderEventCancellationRequested OrderEvent = "cancellation_requested"
)

// transitions: полная таблица допустимых переходов.
var transitions = map[OrderEvent]map[OrderStatus]OrderStatus{
	OrderEventPaymentConfirmed: {
		OrderStatusPending: OrderStatusPaid,
	},
	OrderEventFulfillmentRequested: {
		OrderStatusPaid: OrderStatusShipped,
	},
	OrderEventCancellationRequested: {
		OrderStatusPending: OrderStatusCancelled,
		OrderStatusPaid:    OrderStatusCancelled,
	},
}

// NextStatus возвращает статус после события или ErrInvalidStateTransition.
func NextStatus(from OrderStatus, event OrderEvent) (OrderStatus, error) {
	to, ok := transitions[event][from]
	if !ok {
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidStateTransition, event, from)
	}
	return to, nil
}

// Order агрегирует состояние заказа.
type Order struct {
	ID          string
	OwnerID     string
	Status      OrderStatus
	AmountMinor int64
	// TrackingToken заполняется только при переходе в shipped.
	TrackingToken string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder собирает новый заказ в статусе pending и проверяет инварианты.
func NewOrder(id, ownerID string, amountMinor int64, now time.Time) (Order, error) {
	order := Order{
		ID:          strings.TrimSpace(id),
		OwnerID:     strings.TrimSpace(ownerID),
		Status:      OrderStatusPending,
		AmountMinor: amountMinor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return Order{}, errs[0]
	}
	return order, nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if o.OwnerID == "" {
		errs = append(errs, ErrOwnerRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusInvalid)
	}

	return errs
}

// Apply переводит заказ по событию. Версию не трогает: её инкрементирует репозиторий.
func (o *Order) Apply(event OrderEvent, now time.Time) error {
	next, err := NextStatus(o.Status, event)
	if err != nil {
		return err
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}
