package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/memory"
)

const checkoutMethod = "/flashsale.v1.FlashSaleService/Checkout"

func TestSweeper_SweepDrainsInBatches(t *testing.T) {
	t.Parallel()

	store := &scriptedReceipts{removed: []int{3, 3, 1}}
	cutoff := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	sweeper := NewSweeper(store, WithBatch(3), WithClock(func() time.Time { return cutoff }))

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, SweepReport{Removed: 7, Batches: 3, Cutoff: cutoff}, report)
	require.Equal(t, []time.Time{cutoff, cutoff, cutoff}, store.seenCutoffs())
}

func TestSweeper_SweepStopsOnStoreError(t *testing.T) {
	t.Parallel()

	store := &scriptedReceipts{removed: []int{2}, failures: []error{nil, errors.New("disk full")}}
	sweeper := NewSweeper(store, WithBatch(2))

	report, err := sweeper.Sweep(context.Background())
	require.EqualError(t, err, "disk full")
	require.Equal(t, 2, report.Removed)
	require.Equal(t, 1, report.Batches)
}

func TestSweeper_SweepHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	store := &scriptedReceipts{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSweeper(store).Sweep(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, store.seenCutoffs())
}

func TestSweeper_RunUntilCancelled(t *testing.T) {
	t.Parallel()

	store := &scriptedReceipts{}
	sweeper := NewSweeper(store, WithEvery(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(store.seenCutoffs()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestSweeper_KeepsLiveReceipts(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	repo := memory.NewIdempotencyRepository()
	for _, user := range []string{"U1", "U2", "U3"} {
		_, err := repo.Reserve(domain.NewIdempotencyKey(user, checkoutMethod, "cart"), "fp", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	live := domain.NewIdempotencyKey("U4", checkoutMethod, "cart")
	_, err := repo.Reserve(live, "fp", now.Add(time.Hour))
	require.NoError(t, err)

	report, err := NewSweeper(repo, WithBatch(2), WithClock(func() time.Time { return now })).Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Removed)

	_, err = repo.Get(live)
	require.NoError(t, err)
	_, err = repo.Get(domain.NewIdempotencyKey("U1", checkoutMethod, "cart"))
	require.ErrorIs(t, err, domain.ErrIdempotencyReceiptNotFound)
}

// scriptedReceipts отвечает на DeleteExpired заранее заданными значениями.
type scriptedReceipts struct {
	domain.IdempotencyRepository

	mu       sync.Mutex
	removed  []int
	failures []error
	cutoffs  []time.Time
}

func (s *scriptedReceipts) DeleteExpired(before time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := len(s.cutoffs)
	s.cutoffs = append(s.cutoffs, before)
	if call < len(s.failures) && s.failures[call] != nil {
		return 0, s.failures[call]
	}
	if call < len(s.removed) {
		return s.removed[call], nil
	}
	return 0, nil
}

func (s *scriptedReceipts) seenCutoffs() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.cutoffs...)
}
