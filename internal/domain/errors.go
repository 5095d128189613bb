package domain

import "errors"

var (
	// Ошибка отсутствующего владельца заказа.
	ErrOwnerRequired = errors.New("owner_id is required")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка неизвестного статуса заказа.
	ErrOrderStatusInvalid = errors.New("order status is invalid")
	// Ошибка отсутствующего кода купона.
	ErrCouponCodeRequired = errors.New("coupon code is required")
	// Ошибка некорректной ёмкости купона (<= 0).
	ErrCouponCapacityInvalid = errors.New("coupon capacity must be greater than zero")
	// Ошибка отрицательной скидки купона.
	ErrCouponDiscountInvalid = errors.New("coupon discount must be non-negative")
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserIDRequired = errors.New("user_id is required")
	// Ошибка поля сортировки вне белого списка.
	ErrSortFieldInvalid = errors.New("sort field is not allowed")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists возвращается при повторном создании заказа с тем же ID.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrInvalidStateTransition: переход недопустим из текущего статуса заказа.
	ErrInvalidStateTransition = errors.New("invalid order state transition")

	// ErrCouponNotFound: купон с таким кодом не заведён.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponAlreadyExists: купон с таким кодом уже заведён.
	ErrCouponAlreadyExists = errors.New("coupon already exists")
	// ErrCouponExhausted: лимит выдач купона исчерпан.
	ErrCouponExhausted = errors.New("coupon exhausted")
	// ErrCouponAlreadyRedeemed: пользователь уже получил этот купон.
	ErrCouponAlreadyRedeemed = errors.New("coupon already redeemed by user")
	// ErrVerificationFailed: внешняя проверка купона отклонила запрос или не уложилась в таймаут.
	ErrVerificationFailed = errors.New("coupon verification failed")

	// ErrUnauthorized: запрос без валидной идентичности.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUserNotFound: пользователь не зарегистрирован.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserAlreadyExists: пользователь с таким ID или email уже есть.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrPaymentDeclined: платёж отклонён провайдером.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrDependencyUnavailable: внешний сервис (оплата, доставка) не ответил вовремя.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrFulfillmentFailed: служба доставки отказала в отправке.
	ErrFulfillmentFailed = errors.New("fulfillment dispatch failed")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки хранилища квитанций idempotency-key.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyMethodRequired      = errors.New("idempotency method is required")
	ErrIdempotencyFingerprintRequired = errors.New("idempotency request fingerprint is required")
	ErrIdempotencyReceiptNotFound     = errors.New("idempotency receipt not found")
	ErrIdempotencyKeyTaken            = errors.New("idempotency key is already taken")
	ErrIdempotencyFingerprintMismatch = errors.New("idempotency key reused with different request")
	ErrIdempotencyStateInvalid        = errors.New("idempotency receipt can only be settled as succeeded or rejected")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict сообщает, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyTaken) || errors.Is(err, ErrIdempotencyFingerprintMismatch)
}
