package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

type idempotencyRepositoryInMemory struct {
	mu       sync.Mutex
	receipts map[domain.IdempotencyKey]domain.IdempotencyReceipt
	now      func() time.Time
}

// NewIdempotencyRepository создаёт in-memory хранилище квитанций idempotency-key.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyRepositoryInMemory{
		receipts: make(map[domain.IdempotencyKey]domain.IdempotencyReceipt),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *idempotencyRepositoryInMemory) Reserve(key domain.IdempotencyKey, fingerprint string, expiresAt time.Time) (domain.IdempotencyReceipt, error) {
	key = domain.NewIdempotencyKey(key.UserID, key.Method, key.Key)
	if err := key.Validate(); err != nil {
		return domain.IdempotencyReceipt{}, err
	}
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return domain.IdempotencyReceipt{}, domain.ErrIdempotencyFingerprintRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.receipts[key]; ok && !existing.Expired(now) {
		if existing.Fingerprint != fingerprint {
			return cloneReceipt(existing), domain.ErrIdempotencyFingerprintMismatch
		}
		return cloneReceipt(existing), domain.ErrIdempotencyKeyTaken
	}

	receipt := domain.IdempotencyReceipt{
		IdempotencyKey: key,
		Fingerprint:    fingerprint,
		State:          domain.ReceiptInFlight,
		ExpiresAt:      expiresAt.UTC(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.receipts[key] = receipt
	return cloneReceipt(receipt), nil
}

func (r *idempotencyRepositoryInMemory) Get(key domain.IdempotencyKey) (domain.IdempotencyReceipt, error) {
	key = domain.NewIdempotencyKey(key.UserID, key.Method, key.Key)
	if err := key.Validate(); err != nil {
		return domain.IdempotencyReceipt{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	receipt, ok := r.receipts[key]
	if !ok {
		return domain.IdempotencyReceipt{}, domain.ErrIdempotencyReceiptNotFound
	}
	return cloneReceipt(receipt), nil
}

func (r *idempotencyRepositoryInMemory) Settle(key domain.IdempotencyKey, state domain.ReceiptState, reply []byte, code int) error {
	key = domain.NewIdempotencyKey(key.UserID, key.Method, key.Key)
	if err := key.Validate(); err != nil {
		return err
	}
	if !state.Settled() {
		return domain.ErrIdempotencyStateInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	receipt, ok := r.receipts[key]
	if !ok {
		return domain.ErrIdempotencyReceiptNotFound
	}
	receipt.State = state
	receipt.Reply = append([]byte(nil), reply...)
	receipt.Code = code
	receipt.UpdatedAt = r.now()
	r.receipts[key] = receipt
	return nil
}

func (r *idempotencyRepositoryInMemory) Release(key domain.IdempotencyKey) error {
	key = domain.NewIdempotencyKey(key.UserID, key.Method, key.Key)
	if err := key.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	receipt, ok := r.receipts[key]
	if !ok {
		return domain.ErrIdempotencyReceiptNotFound
	}
	// итог уже записан, повтор должен получить его
	if receipt.State.Settled() {
		return nil
	}
	delete(r.receipts, key)
	return nil
}

func (r *idempotencyRepositoryInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, receipt := range r.receipts {
		if limit > 0 && removed >= limit {
			break
		}
		if !receipt.Expired(before) {
			continue
		}
		delete(r.receipts, key)
		removed++
	}
	return removed, nil
}

func cloneReceipt(src domain.IdempotencyReceipt) domain.IdempotencyReceipt {
	dst := src
	dst.Reply = append([]byte(nil), src.Reply...)
	return dst
}

var _ domain.IdempotencyRepository = (*idempotencyRepositoryInMemory)(nil)
