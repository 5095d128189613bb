package verification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// ErrRejected: внешняя проверка отказала пользователю.
var ErrRejected = errors.New("verification rejected")

// Func адаптирует функцию к domain.VerificationService.
type Func func(ctx context.Context, code, userID string) error

func (f Func) Verify(ctx context.Context, code, userID string) error {
	return f(ctx, code, userID)
}

type denyKey struct {
	code   string
	userID string
}

// MockService: имитация маркетинговой проверки купона с настраиваемой задержкой.
type MockService struct {
	// Latency: время ответа проверки; превышение дедлайна ctx даёт ошибку ctx.
	Latency time.Duration
	// Err, если задана, возвращается на каждый вызов.
	Err error

	mu     sync.Mutex
	denied map[denyKey]struct{}
	calls  int
}

// NewMockService создаёт проверку, пропускающую всех.
func NewMockService(latency time.Duration) *MockService {
	return &MockService{
		Latency: latency,
		denied:  make(map[denyKey]struct{}),
	}
}

// Deny отклоняет пару (код, пользователь). Пустой userID отклоняет код для всех.
func (m *MockService) Deny(code, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied[denyKey{code: domain.NormalizeCouponCode(code), userID: userID}] = struct{}{}
}

// Allow снимает отказ для пары (код, пользователь).
func (m *MockService) Allow(code, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.denied, denyKey{code: domain.NormalizeCouponCode(code), userID: userID})
}

func (m *MockService) Verify(ctx context.Context, code, userID string) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Latency > 0 {
		timer := time.NewTimer(m.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if m.Err != nil {
		return m.Err
	}

	code = domain.NormalizeCouponCode(code)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.denied[denyKey{code: code, userID: userID}]; ok {
		return ErrRejected
	}
	if _, ok := m.denied[denyKey{code: code}]; ok {
		return ErrRejected
	}
	return nil
}

// Calls возвращает число вызовов Verify.
func (m *MockService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var (
	_ domain.VerificationService = (*MockService)(nil)
	_ domain.VerificationService = Func(nil)
)
