package fulfillment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// TrackingPrefix: префикс трек-номеров службы доставки.
const TrackingPrefix = "TRACK-"

// MockService: имитация службы доставки. Конфигурационные поля задаются до первого вызова.
type MockService struct {
	Latency     time.Duration
	DispatchErr error
	CancelErr   error

	mu            sync.Mutex
	tokens        map[string]string
	cancelled     map[string]struct{}
	dispatchCalls int
	cancelCalls   int
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService(latency time.Duration) *MockService {
	return &MockService{
		Latency:   latency,
		tokens:    make(map[string]string),
		cancelled: make(map[string]struct{}),
	}
}

// Dispatch выдаёт трек-номер. Для одного заказа номер не меняется, пока отправка не отозвана.
func (m *MockService) Dispatch(ctx context.Context, orderID string) (string, error) {
	if err := wait(ctx, m.Latency); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.dispatchCalls++
	if m.DispatchErr != nil {
		return "", m.DispatchErr
	}
	if token, ok := m.tokens[orderID]; ok {
		if _, revoked := m.cancelled[token]; !revoked {
			return token, nil
		}
	}

	token := TrackingPrefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	m.tokens[orderID] = token
	return token, nil
}

// Cancel отзывает отправку по трек-номеру.
func (m *MockService) Cancel(ctx context.Context, trackingToken string) error {
	if err := wait(ctx, m.Latency); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelCalls++
	if m.CancelErr != nil {
		return m.CancelErr
	}
	m.cancelled[trackingToken] = struct{}{}
	return nil
}

// Cancelled сообщает, была ли отправка отозвана.
func (m *MockService) Cancelled(trackingToken string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cancelled[trackingToken]
	return ok
}

// DispatchCalls возвращает число вызовов Dispatch.
func (m *MockService) DispatchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatchCalls
}

// CancelCalls возвращает число вызовов Cancel.
func (m *MockService) CancelCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelCalls
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrDependencyUnavailable, err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", domain.ErrDependencyUnavailable, ctx.Err())
	case <-timer.C:
		return nil
	}
}

var _ domain.FulfillmentService = (*MockService)(nil)
