package domain

import (
	"strings"
	"time"
)

// ReceiptState описывает стадию запроса, пришедшего с idempotency-key.
type ReceiptState string

const (
	// ReceiptInFlight: запрос принят, ответ ещё не сохранён.
	ReceiptInFlight ReceiptState = "in_flight"
	// ReceiptSucceeded: сохранён успешный ответ, повтор получает его же.
	ReceiptSucceeded ReceiptState = "succeeded"
	// ReceiptRejected: сохранена ошибка, повтор получает ту же ошибку.
	ReceiptRejected ReceiptState = "rejected"
)

func (s ReceiptState) Valid() bool {
	switch s {
	case ReceiptInFlight, ReceiptSucceeded, ReceiptRejected:
		return true
	default:
		return false
	}
}

// Settled сообщает, что итог запроса уже записан.
func (s ReceiptState) Settled() bool {
	return s == ReceiptSucceeded || s == ReceiptRejected
}

// IdempotencyKey адресует ключ в пределах пользователя и метода API:
// одинаковые ключи разных покупателей не пересекаются.
type IdempotencyKey struct {
	UserID string
	Method string
	Key    string
}

// NewIdempotencyKey нормализует части ключа.
func NewIdempotencyKey(userID, method, key string) IdempotencyKey {
	return IdempotencyKey{
		UserID: strings.TrimSpace(userID),
		Method: strings.TrimSpace(method),
		Key:    strings.TrimSpace(key),
	}
}

func (k IdempotencyKey) Validate() error {
	switch {
	case k.Key == "":
		return ErrIdempotencyKeyRequired
	case k.UserID == "":
		return ErrUserIDRequired
	case k.Method == "":
		return ErrIdempotencyMethodRequired
	}
	return nil
}

func (k IdempotencyKey) String() string {
	return k.UserID + "|" + k.Method + "|" + k.Key
}

// IdempotencyReceipt хранит итог запроса для повторной выдачи клиенту.
// Code содержит gRPC-код итога, Reply сериализованный ответ или описание ошибки.
type IdempotencyReceipt struct {
	IdempotencyKey
	Fingerprint string
	State       ReceiptState
	Reply       []byte
	Code        int
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expired: квитанция больше не защищает ключ и может быть перезаписана.
func (r IdempotencyReceipt) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
