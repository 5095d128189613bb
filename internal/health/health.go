// Package health отдаёт состояние зависимостей сервиса по HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Checker проверяет одну зависимость; ctx ограничен per-check таймаутом реестра.
type Checker interface {
	Check(ctx context.Context) Check
}

// CheckFunc превращает ping-функцию в Checker. Истёкший ctx даёт degraded,
// любая другая ошибка unhealthy.
type CheckFunc struct {
	Name string
	Ping func(ctx context.Context) error
}

func (f CheckFunc) Check(ctx context.Context) Check {
	started := time.Now()
	err := f.Ping(ctx)
	check := Check{Name: f.Name, Status: StatusHealthy, DurationMs: time.Since(started).Milliseconds()}
	if err == nil {
		return check
	}
	check.Message = err.Error()
	check.Status = StatusUnhealthy
	if errors.Is(err, context.DeadlineExceeded) {
		check.Status = StatusDegraded
	}
	return check
}

// Report сводка по всем проверкам: худший статус и детали.
type Report struct {
	Status        Status           `json:"status"`
	Version       string           `json:"version,omitempty"`
	CheckedAt     time.Time        `json:"checked_at"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Checks        map[string]Check `json:"checks,omitempty"`
}

// Registry хранит проверки и выполняет их параллельно.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	started  time.Time
	timeout  time.Duration
}

// NewRegistry создаёт реестр; timeout ограничивает каждую проверку.
func NewRegistry(version string, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Registry{
		checkers: make(map[string]Checker),
		version:  version,
		started:  time.Now(),
		timeout:  timeout,
	}
}

// Register добавляет или заменяет проверку под именем name.
func (r *Registry) Register(name string, checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
}

// Names возвращает отсортированные имена зарегистрированных проверок.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Evaluate выполняет все проверки параллельно, каждую со своим таймаутом.
func (r *Registry) Evaluate(ctx context.Context) Report {
	r.mu.RLock()
	checkers := make(map[string]Checker, len(r.checkers))
	for name, checker := range r.checkers {
		checkers[name] = checker
	}
	r.mu.RUnlock()

	var (
		mu     sync.Mutex
		checks = make(map[string]Check, len(checkers))
		group  errgroup.Group
	)
	for name, checker := range checkers {
		group.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			check := checker.Check(checkCtx)
			if check.Name == "" {
				check.Name = name
			}
			mu.Lock()
			checks[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	overall := StatusHealthy
	for _, check := range checks {
		if check.Status.rank() > overall.rank() {
			overall = check.Status
		}
	}
	return Report{
		Status:        overall,
		Version:       r.version,
		CheckedAt:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(r.started).Seconds()),
		Checks:        checks,
	}
}

// ServeHTTP отдаёт Report в JSON; unhealthy отвечает 503.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	report := r.Evaluate(req.Context())

	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// Ready: readiness-проба. Degraded считается готовым, unhealthy нет.
func (r *Registry) Ready(w http.ResponseWriter, req *http.Request) {
	if r.Evaluate(req.Context()).Status == StatusUnhealthy {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ready"))
}

// Live: liveness-проба, зависимости не опрашивает.
func Live(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}
