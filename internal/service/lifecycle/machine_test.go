package lifecycle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/memory"
)

type fixture struct {
	machine  *Machine
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   interface {
		domain.OutboxRepository
		AllPending() []domain.OutboxMessage
	}
}

func newFixture(t *testing.T, options ...Option) fixture {
	t.Helper()
	orders := memory.NewOrderRepository()
	timeline := memory.NewTimelineRepository()
	outbox := memory.NewOutboxRepository()
	options = append([]Option{
		WithMetrics(metrics.NewFlashSaleMetricsWithRegisterer(prometheus.NewRegistry())),
		WithConflictRetries(3, 0),
	}, options...)
	return fixture{
		machine:  NewMachine(orders, timeline, outbox, options...),
		orders:   orders,
		timeline: timeline,
		outbox:   outbox,
	}
}

func TestMachine_HappyPath(t *testing.T) {
	f := newFixture(t)

	order, err := f.machine.Create("U1", 500)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.NotEmpty(t, order.ID)

	paid, err := f.machine.MarkPaid(order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, paid.Status)

	shipped, err := f.machine.MarkShipped(order.ID, "TRACK-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusShipped, shipped.Status)
	require.Equal(t, "TRACK-1", shipped.TrackingToken)

	stored, err := f.orders.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, shipped.Version, stored.Version)
	require.Equal(t, "TRACK-1", stored.TrackingToken)

	events, err := f.machine.Timeline(order.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, domain.EventOrderCreated, events[0].Type)
	require.Equal(t, domain.EventOrderShipped, events[2].Type)

	require.Len(t, f.outbox.AllPending(), 3)
}

func TestMachine_RejectsIllegalTransitions(t *testing.T) {
	f := newFixture(t)

	order, err := f.machine.Create("U1", 500)
	require.NoError(t, err)

	_, err = f.machine.MarkShipped(order.ID, "TRACK-1")
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition, "pending order must not ship")

	_, err = f.machine.MarkPaid(order.ID)
	require.NoError(t, err)
	_, err = f.machine.MarkPaid(order.ID)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition, "second payment confirmation is rejected")

	_, err = f.machine.MarkShipped(order.ID, "TRACK-1")
	require.NoError(t, err)
	_, err = f.machine.MarkShipped(order.ID, "TRACK-2")
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	_, err = f.machine.Cancel(order.ID, "late")
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	stored, err := f.orders.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusShipped, stored.Status)
	require.Equal(t, "TRACK-1", stored.TrackingToken)
}

func TestMachine_CancelFromPendingAndPaid(t *testing.T) {
	f := newFixture(t)

	pending, err := f.machine.Create("U1", 100)
	require.NoError(t, err)
	cancelled, err := f.machine.Cancel(pending.ID, "changed mind")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	_, err = f.machine.MarkPaid(pending.ID)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	paid, err := f.machine.Create("U1", 200)
	require.NoError(t, err)
	_, err = f.machine.MarkPaid(paid.ID)
	require.NoError(t, err)
	_, err = f.machine.Cancel(paid.ID, "")
	require.NoError(t, err)
	_, err = f.machine.MarkShipped(paid.ID, "TRACK-1")
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	events, err := f.machine.Timeline(pending.ID)
	require.NoError(t, err)
	require.Equal(t, "changed mind", events[len(events)-1].Reason)
}

func TestMachine_CreateValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.machine.Create("U1", -5)
	require.ErrorIs(t, err, domain.ErrAmountNegative)
	_, err = f.machine.Create("", 5)
	require.ErrorIs(t, err, domain.ErrOwnerRequired)

	_, err = f.machine.MarkPaid("missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestMachine_ConcurrentTransitionsApplyOnce(t *testing.T) {
	f := newFixture(t)

	order, err := f.machine.Create("U1", 500)
	require.NoError(t, err)
	_, err = f.machine.MarkPaid(order.ID)
	require.NoError(t, err)

	const workers = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		shipped  int
		canceled int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.machine.MarkShipped(order.ID, "TRACK-1")
			} else {
				_, err = f.machine.Cancel(order.ID, "race")
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && i%2 == 0:
				shipped++
			case err == nil:
				canceled++
			case errors.Is(err, domain.ErrInvalidStateTransition):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, shipped+canceled, "exactly one terminal transition must win")
	require.Equal(t, workers-1, rejected)
}

type conflictingRepo struct {
	domain.OrderRepository
	conflicts int
	saves     int
}

func (r *conflictingRepo) Save(order domain.Order) error {
	r.saves++
	if r.conflicts > 0 {
		r.conflicts--
		return domain.ErrOrderVersionConflict
	}
	return r.OrderRepository.Save(order)
}

func TestMachine_RetriesVersionConflicts(t *testing.T) {
	repo := &conflictingRepo{OrderRepository: memory.NewOrderRepository(), conflicts: 2}
	machine := NewMachine(repo, nil, nil, WithConflictRetries(3, time.Millisecond))

	order, err := machine.Create("U1", 500)
	require.NoError(t, err)

	paid, err := machine.MarkPaid(order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, paid.Status)
	require.Equal(t, 3, repo.saves)

	repo.conflicts = 5
	_, err = machine.MarkShipped(order.ID, "TRACK-1")
	require.True(t, domain.IsVersionConflict(err))
}

func TestMachine_Guard(t *testing.T) {
	f := newFixture(t)

	order, err := f.machine.Create("U1", 500)
	require.NoError(t, err)

	_, err = f.machine.Guard(order.ID, domain.OrderEventFulfillmentRequested)
	require.True(t, IsInvalidState(err))

	guarded, err := f.machine.Guard(order.ID, domain.OrderEventPaymentConfirmed)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, guarded.Status)

	_, err = f.machine.Guard("missing", domain.OrderEventPaymentConfirmed)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestMachine_CancelFromRequiresObservedStatus(t *testing.T) {
	f := newFixture(t)

	order, err := f.machine.Create("U1", 500)
	require.NoError(t, err)
	paid, err := f.machine.MarkPaid(order.ID)
	require.NoError(t, err)

	_, err = f.machine.CancelFrom(order.ID, domain.OrderStatusPending, "stale read")
	require.True(t, domain.IsVersionConflict(err))
	require.Equal(t, domain.KindConflict, domain.KindOf(err))

	stored, err := f.machine.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, stored.Status)
	require.Equal(t, paid.Version, stored.Version)
	events, err := f.machine.Timeline(order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)

	cancelled, err := f.machine.CancelFrom(order.ID, domain.OrderStatusPaid, "customer request")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	_, err = f.machine.CancelFrom(order.ID, domain.OrderStatusPaid, "again")
	require.True(t, domain.IsVersionConflict(err))
}
