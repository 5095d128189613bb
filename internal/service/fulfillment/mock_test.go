package fulfillment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

func TestMockService_Dispatch(t *testing.T) {
	mock := NewMockService(0)
	ctx := context.Background()

	token, err := mock.Dispatch(ctx, "order-1")
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	if !strings.HasPrefix(token, TrackingPrefix) || len(token) != len(TrackingPrefix)+12 {
		t.Fatalf("unexpected token format: %s", token)
	}

	again, err := mock.Dispatch(ctx, "order-1")
	if err != nil || again != token {
		t.Fatalf("dispatch must be stable per order: %s vs %s (%v)", again, token, err)
	}

	if err := mock.Cancel(ctx, token); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	if !mock.Cancelled(token) {
		t.Fatal("token must be cancelled")
	}

	fresh, err := mock.Dispatch(ctx, "order-1")
	if err != nil || fresh == token {
		t.Fatalf("dispatch after cancel must issue new token, got %s (%v)", fresh, err)
	}

	if mock.DispatchCalls() != 3 || mock.CancelCalls() != 1 {
		t.Fatalf("unexpected counters: dispatch=%d cancel=%d", mock.DispatchCalls(), mock.CancelCalls())
	}
}

func TestMockService_DispatchError(t *testing.T) {
	mock := NewMockService(0)
	mock.DispatchErr = domain.ErrFulfillmentFailed

	if _, err := mock.Dispatch(context.Background(), "order-1"); !errors.Is(err, domain.ErrFulfillmentFailed) {
		t.Fatalf("expected ErrFulfillmentFailed, got %v", err)
	}
}
