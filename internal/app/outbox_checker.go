package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/flashsale/internal/health"
)

// outboxBacklogChecker сообщает о деградации, если backlog outbox превысил порог.
type outboxBacklogChecker struct {
	repo       domain.OutboxRepository
	maxPending int
}

func (c outboxBacklogChecker) Check(context.Context) healthcheck.Check {
	start := time.Now()
	stats, err := c.repo.Stats()
	check := healthcheck.Check{Name: "outbox", Status: healthcheck.StatusHealthy}
	switch {
	case err != nil:
		check.Status = healthcheck.StatusUnhealthy
		check.Message = err.Error()
	case c.maxPending > 0 && stats.PendingCount > c.maxPending:
		check.Status = healthcheck.StatusDegraded
		check.Message = fmt.Sprintf("pending=%d exceeds %d", stats.PendingCount, c.maxPending)
	}
	check.DurationMs = time.Since(start).Milliseconds()
	return check
}
