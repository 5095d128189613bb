package domain

import (
	"strings"
	"time"
)

// OrderSortField: поле сортировки списка заказов из белого списка.
type OrderSortField string

const (
	OrderSortCreatedAt OrderSortField = "created_at"
	OrderSortAmount    OrderSortField = "amount"
	OrderSortStatus    OrderSortField = "status"
)

// ParseOrderSortField принимает только значения из белого списка; пустая строка означает created_at.
func ParseOrderSortField(raw string) (OrderSortField, error) {
	switch field := OrderSortField(strings.ToLower(strings.TrimSpace(raw))); field {
	case "":
		return OrderSortCreatedAt, nil
	case OrderSortCreatedAt, OrderSortAmount, OrderSortStatus:
		return field, nil
	default:
		return "", ErrSortFieldInvalid
	}
}

// OrderListOptions задаёт выборку заказов владельца.
type OrderListOptions struct {
	Limit     int
	SortBy    OrderSortField
	Ascending bool
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderAlreadyExists, если ID занят.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByOwner возвращает заказы владельца с учётом сортировки и лимита.
	ListByOwner(ownerID string, opts OrderListOptions) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// CouponLedger: хранилище купонов и записей о выдаче.
// TryGrant: единственная операция, меняющая счётчик выдач.
type CouponLedger interface {
	// CreateCoupon заводит купон; ErrCouponAlreadyExists при повторе кода.
	CreateCoupon(coupon Coupon) error
	// GetCoupon возвращает купон или ErrCouponNotFound.
	GetCoupon(code string) (Coupon, error)
	// HasRedemption проверяет наличие записи о выдаче (без блокировок).
	HasRedemption(code, userID string) (bool, error)
	// TryGrant атомарно увеличивает счётчик и создаёт запись о выдаче.
	// Ошибки: ErrCouponNotFound, ErrCouponAlreadyRedeemed, ErrCouponExhausted.
	TryGrant(code, userID string, at time.Time) (Redemption, error)
	// ListRedemptions возвращает выдачи купона в порядке времени.
	ListRedemptions(code string) ([]Redemption, error)
}

// UserRepository хранит зарегистрированных пользователей.
type UserRepository interface {
	Create(user User) error
	Get(id string) (User, error)
}
