package memory

import (
	"bytes"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

type outboxEntry struct {
	msg          domain.OutboxMessage
	claimedUntil time.Time
}

// outboxRepositoryInMemory держит очередь pending-сообщений в порядке постановки.
// Отправленные сообщения удаляются, от неудачных остаётся только счётчик.
type outboxRepositoryInMemory struct {
	mu     sync.Mutex
	queue  []*outboxEntry
	byID   map[string]*outboxEntry
	failed int
	now    func() time.Time
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *outboxRepositoryInMemory {
	return &outboxRepositoryInMemory{
		byID: make(map[string]*outboxEntry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *outboxRepositoryInMemory) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, exists := r.byID[msg.ID]; exists {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: id %s already queued", msg.ID)
	}
	msg.Attempts = 0
	msg.CreatedAt = r.now()
	msg.Payload = bytes.Clone(msg.Payload)

	entry := &outboxEntry{msg: msg}
	r.queue = append(r.queue, entry)
	r.byID[msg.ID] = entry
	return msg, nil
}

func (r *outboxRepositoryInMemory) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	claimed := make([]domain.OutboxMessage, 0, min(limit, len(r.queue)))
	for _, entry := range r.queue {
		if len(claimed) == limit {
			break
		}
		if entry.claimedUntil.After(now) {
			continue
		}
		entry.claimedUntil = now.Add(domain.OutboxClaimTTL)
		entry.msg.Attempts++
		claimed = append(claimed, copyOutboxMessage(entry.msg))
	}
	return claimed, nil
}

func (r *outboxRepositoryInMemory) Stats() (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	stats := domain.OutboxStats{PendingCount: len(r.queue), FailedCount: r.failed}
	for _, entry := range r.queue {
		if entry.claimedUntil.After(now) {
			stats.ClaimedCount++
		}
	}
	if len(r.queue) > 0 {
		stats.OldestPendingAt = r.queue[0].msg.CreatedAt
	}
	return stats, nil
}

func (r *outboxRepositoryInMemory) MarkSent(id string) error {
	return r.settle(id, false)
}

func (r *outboxRepositoryInMemory) MarkFailed(id string) error {
	return r.settle(id, true)
}

// settle убирает сообщение из очереди; повторное подтверждение даёт ErrOutboxPublish.
func (r *outboxRepositoryInMemory) settle(id string, failed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	delete(r.byID, id)
	r.queue = slices.DeleteFunc(r.queue, func(e *outboxEntry) bool { return e == entry })
	if failed {
		r.failed++
	}
	return nil
}

// AllPending возвращает копии всех pending-сообщений, включая выданные relay.
func (r *outboxRepositoryInMemory) AllPending() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.OutboxMessage, 0, len(r.queue))
	for _, entry := range r.queue {
		out = append(out, copyOutboxMessage(entry.msg))
	}
	return out
}

func copyOutboxMessage(msg domain.OutboxMessage) domain.OutboxMessage {
	msg.Payload = bytes.Clone(msg.Payload)
	return msg
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
