package domain

import (
	"strings"
	"time"
)

// Coupon описывает ограниченный промо-ресурс.
type Coupon struct {
	Code     string
	Discount int64
	// Capacity: максимальное число выдач, неизменно после создания.
	Capacity int64
	// Granted меняется только атомарной выдачей и никогда не превышает Capacity.
	Granted   int64
	CreatedAt time.Time
}

// Remaining возвращает число оставшихся выдач.
func (c Coupon) Remaining() int64 {
	if c.Granted >= c.Capacity {
		return 0
	}
	return c.Capacity - c.Granted
}

// Exhausted сообщает, что выдавать больше нечего.
func (c Coupon) Exhausted() bool {
	return c.Granted >= c.Capacity
}

// Validate проверяет поля купона перед созданием.
func (c *Coupon) Validate() []error {
	var errs []error

	if c.Code == "" {
		errs = append(errs, ErrCouponCodeRequired)
	}
	if c.Capacity <= 0 {
		errs = append(errs, ErrCouponCapacityInvalid)
	}
	if c.Discount < 0 {
		errs = append(errs, ErrCouponDiscountInvalid)
	}

	return errs
}

// Redemption: запись о выдаче купона пользователю. Одна на пару (код, пользователь).
type Redemption struct {
	Code       string
	UserID     string
	Discount   int64
	RedeemedAt time.Time
}

// NormalizeCouponCode убирает пробелы по краям кода.
func NormalizeCouponCode(code string) string {
	return strings.TrimSpace(code)
}
