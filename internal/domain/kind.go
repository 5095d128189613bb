package domain

import "errors"

// ErrorKind: стабильный код класса ошибки, который видят клиенты.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindInvalidState       ErrorKind = "INVALID_STATE"
	KindExhausted          ErrorKind = "EXHAUSTED"
	KindAlreadyRedeemed    ErrorKind = "ALREADY_REDEEMED"
	KindVerificationFailed ErrorKind = "VERIFICATION_FAILED"
	KindUnauthorized       ErrorKind = "UNAUTHORIZED"
	KindValidation         ErrorKind = "VALIDATION_ERROR"
	KindAlreadyExists      ErrorKind = "ALREADY_EXISTS"
	KindPaymentDeclined    ErrorKind = "PAYMENT_DECLINED"
	KindUnavailable        ErrorKind = "UNAVAILABLE"
	KindConflict           ErrorKind = "CONFLICT"
	KindInternal           ErrorKind = "INTERNAL"
)

var validationErrors = []error{
	ErrOwnerRequired,
	ErrAmountNegative,
	ErrOrderIDRequired,
	ErrOrderStatusInvalid,
	ErrCouponCodeRequired,
	ErrCouponCapacityInvalid,
	ErrCouponDiscountInvalid,
	ErrUserIDRequired,
	ErrSortFieldInvalid,
	ErrIdempotencyKeyRequired,
	ErrIdempotencyMethodRequired,
	ErrIdempotencyFingerprintRequired,
}

// KindOf сводит произвольную ошибку к стабильному классу.
// Для nil возвращается пустая строка.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrCouponNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidStateTransition):
		return KindInvalidState
	case errors.Is(err, ErrCouponExhausted):
		return KindExhausted
	case errors.Is(err, ErrCouponAlreadyRedeemed):
		return KindAlreadyRedeemed
	case errors.Is(err, ErrVerificationFailed):
		return KindVerificationFailed
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrUserNotFound):
		return KindUnauthorized
	case errors.Is(err, ErrCouponAlreadyExists), errors.Is(err, ErrOrderAlreadyExists),
		errors.Is(err, ErrUserAlreadyExists), errors.Is(err, ErrIdempotencyFingerprintMismatch):
		return KindAlreadyExists
	case errors.Is(err, ErrPaymentDeclined):
		return KindPaymentDeclined
	case errors.Is(err, ErrDependencyUnavailable), errors.Is(err, ErrFulfillmentFailed):
		return KindUnavailable
	case errors.Is(err, ErrOrderVersionConflict), errors.Is(err, ErrIdempotencyKeyTaken):
		return KindConflict
	}

	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return KindValidation
		}
	}
	return KindInternal
}
