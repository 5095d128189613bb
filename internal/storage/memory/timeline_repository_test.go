package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

func TestTimelineRepository_OrdersByTimeStable(t *testing.T) {
	repo := NewTimelineRepository()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(domain.TimelineEvent{OrderID: "o-1", Type: domain.EventOrderPaid, Occurred: base.Add(time.Second)}))
	require.NoError(t, repo.Append(domain.TimelineEvent{OrderID: "o-1", Type: domain.EventOrderCreated, Occurred: base}))
	require.NoError(t, repo.Append(domain.TimelineEvent{OrderID: "o-1", Type: domain.EventOrderShipped, Occurred: base.Add(time.Second)}))
	require.NoError(t, repo.Append(domain.TimelineEvent{OrderID: "o-2", Type: domain.EventOrderCreated, Occurred: base}))

	events, err := repo.List("o-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, domain.EventOrderCreated, events[0].Type)
	require.Equal(t, domain.EventOrderPaid, events[1].Type)
	require.Equal(t, domain.EventOrderShipped, events[2].Type)

	require.ErrorIs(t, repo.Append(domain.TimelineEvent{Type: domain.EventOrderCreated}), domain.ErrOrderIDRequired)

	empty, err := repo.List("missing")
	require.NoError(t, err)
	require.Empty(t, empty)
}
