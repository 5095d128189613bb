package domain

import "time"

// Типы событий таймлайна и outbox.
const (
	EventOrderCreated   = "OrderCreated"
	EventOrderPaid      = "OrderPaid"
	EventOrderShipped   = "OrderShipped"
	EventOrderCancelled = "OrderCancelled"
	EventCouponGranted  = "CouponGranted"
)

// Типы агрегатов для outbox.
const (
	AggregateOrder  = "order"
	AggregateCoupon = "coupon"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
