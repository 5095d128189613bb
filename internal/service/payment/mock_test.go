package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

func TestMockService(t *testing.T) {
	mock := NewMockService(0)
	ctx := context.Background()

	if err := mock.Authorize(ctx, "o-1", 500); err != nil {
		t.Fatalf("unexpected authorize error: %v", err)
	}
	if err := mock.Authorize(ctx, "o-1", 500); err != nil {
		t.Fatalf("repeated authorize must succeed: %v", err)
	}
	if amount, ok := mock.Charged("o-1"); !ok || amount != 500 {
		t.Fatalf("unexpected charge: %d %v", amount, ok)
	}

	if err := mock.Refund(ctx, "o-1", 500); err != nil {
		t.Fatalf("unexpected refund error: %v", err)
	}
	if _, ok := mock.Charged("o-1"); ok {
		t.Fatal("refund must clear the charge")
	}

	mock.Decline("o-2")
	if err := mock.Authorize(ctx, "o-2", 100); !errors.Is(err, domain.ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}

	mock.RefundErr = errors.New("refund failed")
	if err := mock.Refund(ctx, "o-2", 100); err == nil {
		t.Fatal("expected refund error")
	}

	if mock.AuthorizeCalls() != 3 || mock.RefundCalls() != 2 {
		t.Fatalf("unexpected call counters: authorize=%d refund=%d", mock.AuthorizeCalls(), mock.RefundCalls())
	}
}

func TestMockService_HonoursDeadline(t *testing.T) {
	mock := NewMockService(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := mock.Authorize(ctx, "o-1", 100)
	if !errors.Is(err, domain.ErrDependencyUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected unavailable deadline error, got %v", err)
	}
	if mock.AuthorizeCalls() != 0 {
		t.Fatal("timed out call must not reach the gateway")
	}
}
