package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
	"github.com/vladislavdragonenkov/flashsale/internal/service/verification"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/memory"
)

func newController(t *testing.T, verifier domain.VerificationService, options ...Option) (*Controller, domain.CouponLedger) {
	t.Helper()
	ledger := memory.NewCouponLedger()
	options = append([]Option{WithMetrics(metrics.NewFlashSaleMetricsWithRegisterer(prometheus.NewRegistry()))}, options...)
	return NewController(ledger, verifier, nil, options...), ledger
}

func TestController_VerificationIsolation(t *testing.T) {
	verifier := verification.NewMockService(0)
	verifier.Deny("DEMO10", "U1")
	controller, ledger := newController(t, verifier)

	_, err := controller.Provision(domain.Coupon{Code: "DEMO10", Discount: 10, Capacity: 1})
	require.NoError(t, err)

	_, err = controller.Redeem(context.Background(), "DEMO10", "U1")
	require.ErrorIs(t, err, domain.ErrVerificationFailed)
	require.Equal(t, domain.KindVerificationFailed, domain.KindOf(err))

	coupon, err := ledger.GetCoupon("DEMO10")
	require.NoError(t, err)
	require.Zero(t, coupon.Granted, "failed verification must not touch the ledger")

	redemption, err := controller.Redeem(context.Background(), "DEMO10", "U2")
	require.NoError(t, err)
	require.Equal(t, int64(10), redemption.Discount)

	_, err = controller.Redeem(context.Background(), "DEMO10", "U3")
	require.ErrorIs(t, err, domain.ErrCouponExhausted)
}

func TestController_VerificationTimeout(t *testing.T) {
	verifier := verification.NewMockService(200 * time.Millisecond)
	controller, ledger := newController(t, verifier, WithVerificationTimeout(10*time.Millisecond))

	_, err := controller.Provision(domain.Coupon{Code: "SLOW", Discount: 5, Capacity: 3})
	require.NoError(t, err)

	started := time.Now()
	_, err = controller.Redeem(context.Background(), "SLOW", "U1")
	require.ErrorIs(t, err, domain.ErrVerificationFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(started), 150*time.Millisecond)

	coupon, err := ledger.GetCoupon("SLOW")
	require.NoError(t, err)
	require.Zero(t, coupon.Granted)
	redeemed, err := ledger.HasRedemption("SLOW", "U1")
	require.NoError(t, err)
	require.False(t, redeemed)
}

func TestController_CallerCancellationIsRetryable(t *testing.T) {
	verifier := verification.NewMockService(200 * time.Millisecond)
	controller, ledger := newController(t, verifier, WithVerificationTimeout(time.Second))

	_, err := controller.Provision(domain.Coupon{Code: "LEAVE", Discount: 5, Capacity: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(10*time.Millisecond, cancel)
	defer timer.Stop()

	_, err = controller.Redeem(ctx, "LEAVE", "U1")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, domain.ErrDependencyUnavailable)
	require.NotErrorIs(t, err, domain.ErrVerificationFailed)
	require.Equal(t, domain.KindUnavailable, domain.KindOf(err))

	coupon, err := ledger.GetCoupon("LEAVE")
	require.NoError(t, err)
	require.Zero(t, coupon.Granted)

	redemption, err := controller.Redeem(context.Background(), "LEAVE", "U1")
	require.NoError(t, err, "an interrupted attempt must not block the retry")
	require.Equal(t, int64(5), redemption.Discount)
}

func TestController_PrecheckSkipsVerification(t *testing.T) {
	verifier := verification.NewMockService(0)
	controller, _ := newController(t, verifier)

	_, err := controller.Provision(domain.Coupon{Code: "ONE", Discount: 1, Capacity: 1})
	require.NoError(t, err)

	_, err = controller.Redeem(context.Background(), "MISSING", "U1")
	require.ErrorIs(t, err, domain.ErrCouponNotFound)
	require.Zero(t, verifier.Calls())

	_, err = controller.Redeem(context.Background(), "ONE", "U1")
	require.NoError(t, err)
	require.Equal(t, 1, verifier.Calls())

	_, err = controller.Redeem(context.Background(), "ONE", "U1")
	require.ErrorIs(t, err, domain.ErrCouponAlreadyRedeemed)
	_, err = controller.Redeem(context.Background(), "ONE", "U2")
	require.ErrorIs(t, err, domain.ErrCouponExhausted)
	require.Equal(t, 1, verifier.Calls())
}

func TestController_InputValidation(t *testing.T) {
	controller, _ := newController(t, nil)

	_, err := controller.Redeem(context.Background(), "FLASH50", "")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = controller.Redeem(context.Background(), "  ", "U1")
	require.ErrorIs(t, err, domain.ErrCouponCodeRequired)

	_, err = controller.Coupon("")
	require.ErrorIs(t, err, domain.ErrCouponCodeRequired)

	_, err = controller.Provision(domain.Coupon{Code: "BAD", Discount: 5, Capacity: 0})
	require.ErrorIs(t, err, domain.ErrCouponCapacityInvalid)

	_, err = controller.Provision(domain.Coupon{Code: "DUP", Discount: 5, Capacity: 1})
	require.NoError(t, err)
	_, err = controller.Provision(domain.Coupon{Code: "DUP", Discount: 5, Capacity: 1})
	require.ErrorIs(t, err, domain.ErrCouponAlreadyExists)
}

func TestController_CapacityBoundUnderStampede(t *testing.T) {
	verifier := verification.NewMockService(2 * time.Millisecond)
	controller, ledger := newController(t, verifier)

	const capacity, users = 100, 400
	_, err := controller.Provision(domain.Coupon{Code: "FLASH50", Discount: 50, Capacity: capacity})
	require.NoError(t, err)

	var applied, exhausted atomic.Int64
	var g errgroup.Group
	g.SetLimit(64)
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("U%d", i)
		g.Go(func() error {
			_, err := controller.Redeem(context.Background(), "FLASH50", userID)
			switch {
			case err == nil:
				applied.Add(1)
			case errors.Is(err, domain.ErrCouponExhausted):
				exhausted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int64(capacity), applied.Load())
	require.Equal(t, int64(users-capacity), exhausted.Load())

	coupon, err := ledger.GetCoupon("FLASH50")
	require.NoError(t, err)
	require.Equal(t, int64(capacity), coupon.Granted)

	redemptions, err := ledger.ListRedemptions("FLASH50")
	require.NoError(t, err)
	require.Len(t, redemptions, capacity)
}

func TestController_SameUserConcurrentRedeem(t *testing.T) {
	verifier := verification.NewMockService(time.Millisecond)
	controller, ledger := newController(t, verifier)

	_, err := controller.Provision(domain.Coupon{Code: "FLASH50", Discount: 50, Capacity: 10})
	require.NoError(t, err)

	var applied atomic.Int64
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := controller.Redeem(context.Background(), "FLASH50", "U1")
			if err == nil {
				applied.Add(1)
				return nil
			}
			if errors.Is(err, domain.ErrCouponAlreadyRedeemed) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int64(1), applied.Load())
	coupon, err := ledger.GetCoupon("FLASH50")
	require.NoError(t, err)
	require.Equal(t, int64(1), coupon.Granted)
}

func TestController_EmitsGrantEvent(t *testing.T) {
	ledger := memory.NewCouponLedger()
	outbox := memory.NewOutboxRepository()
	controller := NewController(ledger, nil, outbox)

	_, err := controller.Provision(domain.Coupon{Code: "FLASH50", Discount: 50, Capacity: 1})
	require.NoError(t, err)
	_, err = controller.Redeem(context.Background(), "FLASH50", "U1")
	require.NoError(t, err)
	_, err = controller.Redeem(context.Background(), "FLASH50", "U2")
	require.ErrorIs(t, err, domain.ErrCouponExhausted)

	pending := outbox.AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventCouponGranted, pending[0].EventType)
	require.Equal(t, "FLASH50", pending[0].AggregateID)

	var payload grantedPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	require.Equal(t, "U1", payload.UserID)
	require.Equal(t, int64(50), payload.Discount)
}
