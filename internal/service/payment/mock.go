package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// MockService: имитация платёжного шлюза. Конфигурационные поля задаются до первого вызова.
type MockService struct {
	// Latency имитирует время ответа шлюза.
	Latency      time.Duration
	AuthorizeErr error
	RefundErr    error

	mu             sync.Mutex
	declined       map[string]struct{}
	charged        map[string]int64
	authorizeCalls int
	refundCalls    int
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService(latency time.Duration) *MockService {
	return &MockService{
		Latency:  latency,
		declined: make(map[string]struct{}),
		charged:  make(map[string]int64),
	}
}

// Decline заставляет шлюз отклонять оплату конкретного заказа.
func (m *MockService) Decline(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.declined[orderID] = struct{}{}
}

// Authorize списывает сумму. Повторное списание по тому же заказу не удваивает сумму.
func (m *MockService) Authorize(ctx context.Context, orderID string, amountMinor int64) error {
	if err := wait(ctx, m.Latency); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.authorizeCalls++
	if m.AuthorizeErr != nil {
		return m.AuthorizeErr
	}
	if _, ok := m.declined[orderID]; ok {
		return fmt.Errorf("%w: order %s", domain.ErrPaymentDeclined, orderID)
	}
	m.charged[orderID] = amountMinor
	return nil
}

// Refund возвращает списанные средства.
func (m *MockService) Refund(ctx context.Context, orderID string, amountMinor int64) error {
	if err := wait(ctx, m.Latency); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.refundCalls++
	if m.RefundErr != nil {
		return m.RefundErr
	}
	delete(m.charged, orderID)
	return nil
}

// Charged возвращает списанную по заказу сумму.
func (m *MockService) Charged(orderID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	amount, ok := m.charged[orderID]
	return amount, ok
}

// AuthorizeCalls возвращает число вызовов Authorize.
func (m *MockService) AuthorizeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authorizeCalls
}

// RefundCalls возвращает число вызовов Refund.
func (m *MockService) RefundCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refundCalls
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

var _ domain.PaymentService = (*MockService)(nil)
