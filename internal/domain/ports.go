package domain

import (
	"context"
	"time"
)

// VerificationService: внешняя проверка права на купон (маркетинговая валидация).
type VerificationService interface {
	// Verify возвращает nil, если пользователь может получить купон.
	Verify(ctx context.Context, code, userID string) error
}

// PaymentService описывает взаимодействие с платёжным провайдером.
type PaymentService interface {
	// Authorize списывает сумму заказа; orderID служит ключом идемпотентности у провайдера.
	Authorize(ctx context.Context, orderID string, amountMinor int64) error
	// Refund возвращает средства при отмене оплаченного заказа.
	Refund(ctx context.Context, orderID string, amountMinor int64) error
}

// FulfillmentService описывает службу доставки.
type FulfillmentService interface {
	// Dispatch передаёт заказ в доставку и возвращает трек-номер.
	Dispatch(ctx context.Context, orderID string) (string, error)
	// Cancel отзывает отправку (компенсация, если заказ не удалось перевести в shipped).
	Cancel(ctx context.Context, trackingToken string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxClaimTTL: на это время PullPending скрывает выданные сообщения от других relay.
// Неподтверждённое сообщение после истечения claim выдаётся повторно.
const OutboxClaimTTL = 30 * time.Second

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	// PullPending забирает до limit pending-сообщений без активного claim в порядке
	// постановки, ставит им claim на OutboxClaimTTL и увеличивает Attempts.
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит квитанции запросов с idempotency-key.
type IdempotencyRepository interface {
	// Reserve занимает ключ. Для живой квитанции возвращает её вместе с
	// ErrIdempotencyKeyTaken или ErrIdempotencyFingerprintMismatch.
	// Просроченная квитанция, ещё не удалённая очисткой, перезаписывается.
	Reserve(key IdempotencyKey, fingerprint string, expiresAt time.Time) (IdempotencyReceipt, error)
	Get(key IdempotencyKey) (IdempotencyReceipt, error)
	// Settle записывает итог; state должен быть ReceiptSucceeded или ReceiptRejected.
	Settle(key IdempotencyKey, state ReceiptState, reply []byte, code int) error
	// Release освобождает ключ незавершённого запроса, чтобы клиент мог повторить его.
	Release(key IdempotencyKey) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// CheckoutStep задаёт константы шагов для метрик/логов.
type CheckoutStep string

const (
	CheckoutStepCreate  CheckoutStep = "create"
	CheckoutStepPay     CheckoutStep = "pay"
	CheckoutStepFulfill CheckoutStep = "fulfill"
	CheckoutStepCancel  CheckoutStep = "cancel"
	CheckoutStepRefund  CheckoutStep = "refund"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	// Attempts считает выдачи relay, включая текущую.
	Attempts  int
	CreatedAt time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
// PendingCount включает ClaimedCount.
type OutboxStats struct {
	PendingCount    int
	ClaimedCount    int
	FailedCount     int
	OldestPendingAt time.Time
}
