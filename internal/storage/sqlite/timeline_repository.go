package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт SQLite-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	if event.OrderID == "" {
		return domain.ErrOrderIDRequired
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, type, reason, occurred) VALUES (?, ?, ?, ?)
	`, event.OrderID, event.Type, event.Reason, toNanos(event.Occurred)); err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}
	return nil
}

func (r *timelineRepository) List(orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return queryAll(ctx, r.db, "timeline events", func(row rowScanner) (domain.TimelineEvent, error) {
		var (
			event    domain.TimelineEvent
			occurred int64
		)
		if err := row.Scan(&event.OrderID, &event.Type, &event.Reason, &occurred); err != nil {
			return domain.TimelineEvent{}, err
		}
		event.Occurred = fromNanos(occurred)
		return event, nil
	}, `SELECT order_id, type, reason, occurred FROM timeline_events WHERE order_id = ? ORDER BY occurred, id`, orderID)
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
