package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/memory"
)

func couponGranted(id, user string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateCoupon,
		AggregateID:   "FLASH50",
		EventType:     domain.EventCouponGranted,
		Payload:       []byte(`{"user_id":"` + user + `","discount":50}`),
	}
}

func TestRelay_DrainDeliversInInsertOrder(t *testing.T) {
	t.Parallel()

	store := memory.NewOutboxRepository()
	for _, msg := range []domain.OutboxMessage{
		couponGranted("g-1", "U1"),
		{ID: "o-1", AggregateType: domain.AggregateOrder, AggregateID: "order-1", EventType: domain.EventOrderPaid},
		couponGranted("g-2", "U2"),
	} {
		_, err := store.Enqueue(msg)
		require.NoError(t, err)
	}

	broker := &recordingPublisher{}
	report := NewRelay(store, broker, WithRetryBaseDelay(0)).Drain(context.Background())

	require.Equal(t, DrainReport{Pulled: 3, Sent: 3}, report)
	require.Equal(t, []string{"g-1", "o-1", "g-2"}, broker.ids())
	require.Empty(t, store.AllPending())
}

func TestRelay_DrainRespectsBatchSize(t *testing.T) {
	t.Parallel()

	store := memory.NewOutboxRepository()
	for _, id := range []string{"g-1", "g-2", "g-3"} {
		_, err := store.Enqueue(couponGranted(id, "U1"))
		require.NoError(t, err)
	}

	relay := NewRelay(store, &recordingPublisher{}, WithBatchSize(2), WithRetryBaseDelay(0))
	require.Equal(t, 2, relay.Drain(context.Background()).Sent)
	require.Len(t, store.AllPending(), 1)
	require.Equal(t, 1, relay.Drain(context.Background()).Sent)
}

func TestRelay_ExhaustedMessageGoesToDLQ(t *testing.T) {
	t.Parallel()

	store := &fakeOutboxStore{pending: []domain.OutboxMessage{couponGranted("g-9", "U7")}}
	broker := &recordingPublisher{failWith: []error{errors.New("broker down")}, failAlways: true}
	dlq := &recordingPublisher{}
	failedAt := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	relay := NewRelay(store, broker, WithDLQPublisher(dlq), WithMaxAttempts(4), WithRetryBaseDelay(0))
	relay.now = func() time.Time { return failedAt }

	report := relay.Drain(context.Background())
	require.Equal(t, DrainReport{Pulled: 1, DeadLettered: 1}, report)
	require.Equal(t, 4, broker.attempts())
	require.Equal(t, []string{"g-9"}, store.failed)
	require.Empty(t, store.sent)

	var letter kafka.DeadLetter
	require.NoError(t, json.Unmarshal(dlq.last().Payload, &letter))
	require.Equal(t, "g-9", letter.OutboxID)
	require.Equal(t, domain.EventCouponGranted, letter.EventType)
	require.Contains(t, letter.PublishError, "broker down")
	require.True(t, letter.FailedAt.Equal(failedAt))
	require.JSONEq(t, `{"user_id":"U7","discount":50}`, string(letter.Payload))
	require.Equal(t, domain.AggregateCoupon, letter.OutboxMessage().AggregateType)
}

func TestRelay_WithoutDLQMessageIsParked(t *testing.T) {
	t.Parallel()

	store := &fakeOutboxStore{pending: []domain.OutboxMessage{couponGranted("g-1", "U1")}}
	broker := &recordingPublisher{failWith: []error{errors.New("nope")}, failAlways: true}

	report := NewRelay(store, broker, WithMaxAttempts(2), WithRetryBaseDelay(0)).Drain(context.Background())
	require.Equal(t, DrainReport{Pulled: 1, Parked: 1}, report)
	require.Equal(t, []string{"g-1"}, store.failed)
}

func TestRelay_TransientErrorsAreRetried(t *testing.T) {
	t.Parallel()

	store := &fakeOutboxStore{pending: []domain.OutboxMessage{couponGranted("g-3", "U3")}}
	broker := &recordingPublisher{failWith: []error{errors.New("timeout"), errors.New("timeout")}}

	report := NewRelay(store, broker, WithMaxAttempts(3), WithRetryBaseDelay(0)).Drain(context.Background())
	require.Equal(t, 1, report.Sent)
	require.Equal(t, 3, broker.attempts())
	require.Equal(t, []string{"g-3"}, store.sent)
	require.Empty(t, store.failed)
}

func TestRelay_CancelDuringBackoffLeavesMessagePending(t *testing.T) {
	t.Parallel()

	store := &fakeOutboxStore{pending: []domain.OutboxMessage{couponGranted("g-4", "U4"), couponGranted("g-5", "U5")}}
	broker := &recordingPublisher{failWith: []error{errors.New("slow broker")}, failAlways: true}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	report := NewRelay(store, broker, WithMaxAttempts(5), WithRetryBaseDelay(time.Second)).Drain(ctx)
	require.Zero(t, report.Sent+report.Parked+report.DeadLettered)
	require.Empty(t, store.failed)
	require.Empty(t, store.sent)
	require.Equal(t, 1, broker.attempts())
}

func TestRelay_Backoff(t *testing.T) {
	t.Parallel()

	relay := NewRelay(nil, nil, WithRetryBaseDelay(10*time.Millisecond))
	require.Equal(t, 10*time.Millisecond, relay.backoff(1))
	require.Equal(t, 20*time.Millisecond, relay.backoff(2))
	require.Equal(t, 40*time.Millisecond, relay.backoff(3))
	require.Equal(t, maxBackoff, relay.backoff(64))

	require.Zero(t, NewRelay(nil, nil, WithRetryBaseDelay(0)).backoff(3))
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	store := &fakeOutboxStore{}
	relay := NewRelay(store, &recordingPublisher{}, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		relay.Run(ctx)
	}()

	require.Eventually(t, func() bool { return store.pulls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

type fakeOutboxStore struct {
	mu        sync.Mutex
	pending   []domain.OutboxMessage
	sent      []string
	failed    []string
	pullCount int
}

func (s *fakeOutboxStore) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (s *fakeOutboxStore) PullPending(limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pullCount++
	if limit > len(s.pending) {
		limit = len(s.pending)
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *fakeOutboxStore) Stats() (domain.OutboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.OutboxStats{PendingCount: len(s.pending)}, nil
}

func (s *fakeOutboxStore) MarkSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, id)
	return nil
}

func (s *fakeOutboxStore) MarkFailed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, id)
	return nil
}

func (s *fakeOutboxStore) pulls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pullCount
}

// recordingPublisher отдаёт ошибки из failWith по очереди; при failAlways
// последняя ошибка повторяется бесконечно.
type recordingPublisher struct {
	mu         sync.Mutex
	failWith   []error
	failAlways bool
	calls      int
	published  []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	var err error
	switch {
	case len(p.failWith) > 1 || (len(p.failWith) == 1 && !p.failAlways):
		err, p.failWith = p.failWith[0], p.failWith[1:]
	case len(p.failWith) == 1:
		err = p.failWith[0]
	}
	if err == nil {
		p.published = append(p.published, msg)
	}
	return err
}

func (p *recordingPublisher) attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *recordingPublisher) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.published))
	for _, msg := range p.published {
		ids = append(ids, msg.ID)
	}
	return ids
}

func (p *recordingPublisher) last() domain.OutboxMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published[len(p.published)-1]
}

var (
	_ domain.OutboxRepository = (*fakeOutboxStore)(nil)
	_ domain.OutboxPublisher  = (*recordingPublisher)(nil)
)
