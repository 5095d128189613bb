package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

// CircuitBreaker размыкается после maxFailures подряд сбоев зависимости и
// через resetTimeout пропускает один пробный вызов. Отказы по существу
// запроса (отклонённая оплата) сбоем не считаются.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	logger       *log.Entry

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker создаёт breaker; maxFailures <= 0 отключает размыкание.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		logger:       logger.WithField("breaker", name),
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute вызывает fn, если breaker пропускает вызов. Nil-breaker пропускает всё.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if cb == nil {
		return fn(ctx)
	}
	probe, err := cb.acquire()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.settle(probe, err != nil && !isBusinessError(err))
	return err
}

// Ready сообщает, пропустит ли breaker вызов сейчас, не занимая пробу.
func (cb *CircuitBreaker) Ready() error {
	if cb == nil {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) <= cb.resetTimeout {
		return cb.rejection()
	}
	return nil
}

func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return false, nil
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) <= cb.resetTimeout {
			return false, cb.rejection()
		}
		cb.state = CircuitHalfOpen
		cb.logger.Info("circuit breaker half-open")
	}
	// в полуоткрытом состоянии одновременно идёт только одна проба
	if cb.probing {
		return false, cb.rejection()
	}
	cb.probing = true
	return true, nil
}

func (cb *CircuitBreaker) settle(probe, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	if !failed {
		if cb.state != CircuitClosed {
			cb.logger.Info("circuit breaker closed")
		}
		cb.state, cb.failures = CircuitClosed, 0
		return
	}

	cb.failures++
	if cb.maxFailures <= 0 {
		return
	}
	if probe || cb.failures >= cb.maxFailures {
		if cb.state != CircuitOpen {
			cb.logger.WithField("failures", cb.failures).Warn("circuit breaker opened")
		}
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

func (cb *CircuitBreaker) rejection() error {
	return fmt.Errorf("%w: %s: %w", domain.ErrDependencyUnavailable, cb.name, ErrCircuitOpen)
}
