package checkout

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

func TestRetryConfig_Delays(t *testing.T) {
	require.Equal(t,
		[]time.Duration{100 * time.Millisecond, 200 * time.Millisecond},
		DefaultRetryConfig().delays())

	capped := RetryConfig{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 3 * time.Second, BackoffFactor: 2}
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, capped.delays())

	require.Empty(t, RetryConfig{}.delays())
}

func TestRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
	transient := domain.ErrDependencyUnavailable

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{name: "first try", errs: []error{nil}, wantCalls: 1},
		{name: "after transient errors", errs: []error{transient, transient, nil}, wantCalls: 3},
		{name: "decline is final", errs: []error{domain.ErrPaymentDeclined}, wantCalls: 1, wantErr: domain.ErrPaymentDeclined},
		{name: "attempts exhausted", errs: []error{transient, transient, transient}, wantCalls: 3, wantErr: transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retry(context.Background(), cfg, testLogger(), "refund", func(context.Context) error {
				calls++
				return tt.errs[calls-1]
			})
			require.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			require.ErrorContains(t, err, "refund")
		})
	}
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, BackoffFactor: 2}

	calls := 0
	err := retry(ctx, cfg, testLogger(), "cancel dispatch", func(context.Context) error {
		calls++
		cancel()
		return domain.ErrDependencyUnavailable
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
