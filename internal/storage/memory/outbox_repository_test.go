package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

type manualClock struct{ at time.Time }

func (c *manualClock) now() time.Time          { return c.at }
func (c *manualClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newManualClock() *manualClock {
	return &manualClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func orderCreated(id string) domain.OutboxMessage {
	return domain.OutboxMessage{ID: id, AggregateType: domain.AggregateOrder, AggregateID: "o-" + id, EventType: domain.EventOrderCreated}
}

func TestOutboxRepository_EnqueueAssignsIdentity(t *testing.T) {
	repo := NewOutboxRepository()
	clock := newManualClock()
	repo.now = clock.now

	payload := []byte(`{"status":"pending"}`)
	saved, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderCreated,
		Payload:       payload,
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	require.Equal(t, clock.at, saved.CreatedAt)
	require.Zero(t, saved.Attempts)

	payload[0] = 'X'
	require.JSONEq(t, `{"status":"pending"}`, string(repo.AllPending()[0].Payload))

	_, err = repo.Enqueue(domain.OutboxMessage{ID: saved.ID})
	require.ErrorContains(t, err, "already queued")
}

func TestOutboxRepository_PullClaimsInEnqueueOrder(t *testing.T) {
	repo := NewOutboxRepository()
	clock := newManualClock()
	repo.now = clock.now

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := repo.Enqueue(orderCreated(id))
		require.NoError(t, err)
		clock.advance(time.Millisecond)
	}

	first, err := repo.PullPending(3)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, outboxIDs(first))
	require.Equal(t, 1, first[0].Attempts)

	second, err := repo.PullPending(10)
	require.NoError(t, err)
	require.Equal(t, []string{"d", "e"}, outboxIDs(second))

	none, err := repo.PullPending(10)
	require.NoError(t, err)
	require.Empty(t, none)

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Equal(t, domain.OutboxStats{PendingCount: 5, ClaimedCount: 5, OldestPendingAt: newManualClock().at}, stats)

	clock.advance(domain.OutboxClaimTTL)
	again, err := repo.PullPending(1)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, outboxIDs(again))
	require.Equal(t, 2, again[0].Attempts)
}

func TestOutboxRepository_SettleRemovesFromQueue(t *testing.T) {
	repo := NewOutboxRepository()
	for _, id := range []string{"sent", "failed", "left"} {
		_, err := repo.Enqueue(orderCreated(id))
		require.NoError(t, err)
	}
	_, err := repo.PullPending(0)
	require.NoError(t, err)

	require.NoError(t, repo.MarkSent("sent"))
	require.NoError(t, repo.MarkFailed("failed"))
	require.ErrorIs(t, repo.MarkSent("sent"), domain.ErrOutboxPublish)
	require.ErrorIs(t, repo.MarkFailed("missing"), domain.ErrOutboxPublish)

	require.Equal(t, []string{"left"}, outboxIDs(repo.AllPending()))
	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)
	require.Equal(t, 1, stats.FailedCount)

	require.NoError(t, repo.MarkSent("left"))
	stats, err = repo.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.IsZero())
}

func outboxIDs(msgs []domain.OutboxMessage) []string {
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
	}
	return ids
}
