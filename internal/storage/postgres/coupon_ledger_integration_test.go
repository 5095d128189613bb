package postgres

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

func TestCouponLedger_PostgresGrantLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ledger := NewCouponLedger(store)

	if err := ledger.CreateCoupon(domain.Coupon{Code: "ONE", Discount: 10, Capacity: 1}); err != nil {
		t.Fatalf("create coupon: %v", err)
	}
	if err := ledger.CreateCoupon(domain.Coupon{Code: "ONE", Discount: 10, Capacity: 1}); !errors.Is(err, domain.ErrCouponAlreadyExists) {
		t.Fatalf("expected ErrCouponAlreadyExists, got %v", err)
	}

	now := time.Now().UTC().Round(time.Microsecond)
	redemption, err := ledger.TryGrant("ONE", "U1", now)
	if err != nil {
		t.Fatalf("grant U1: %v", err)
	}
	if redemption.Discount != 10 || !redemption.RedeemedAt.Equal(now) {
		t.Fatalf("unexpected redemption: %+v", redemption)
	}

	if _, err := ledger.TryGrant("ONE", "U1", now); !errors.Is(err, domain.ErrCouponAlreadyRedeemed) {
		t.Fatalf("expected ErrCouponAlreadyRedeemed, got %v", err)
	}
	if _, err := ledger.TryGrant("ONE", "U2", now); !errors.Is(err, domain.ErrCouponExhausted) {
		t.Fatalf("expected ErrCouponExhausted, got %v", err)
	}
	if _, err := ledger.TryGrant("MISSING", "U2", now); !errors.Is(err, domain.ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound, got %v", err)
	}

	has, err := ledger.HasRedemption("ONE", "U1")
	if err != nil || !has {
		t.Fatalf("expected redemption for U1: has=%v err=%v", has, err)
	}

	coupon, err := ledger.GetCoupon("ONE")
	if err != nil {
		t.Fatalf("get coupon: %v", err)
	}
	if coupon.Granted != 1 || !coupon.Exhausted() {
		t.Fatalf("unexpected coupon state: %+v", coupon)
	}

	redemptions, err := ledger.ListRedemptions("ONE")
	if err != nil {
		t.Fatalf("list redemptions: %v", err)
	}
	if len(redemptions) != 1 || redemptions[0].UserID != "U1" {
		t.Fatalf("unexpected redemptions: %+v", redemptions)
	}
}

func TestCouponLedger_PostgresConcurrentGrantsRespectCapacity(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ledger := NewCouponLedger(store)

	const capacity = 10
	if err := ledger.CreateCoupon(domain.Coupon{Code: "RUSH", Discount: 5, Capacity: capacity}); err != nil {
		t.Fatalf("create coupon: %v", err)
	}

	var (
		wg        sync.WaitGroup
		granted   atomic.Int64
		exhausted atomic.Int64
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := ledger.TryGrant("RUSH", user, time.Now())
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, domain.ErrCouponExhausted):
				exhausted.Add(1)
			default:
				t.Errorf("unexpected grant error for %s: %v", user, err)
			}
		}(fmt.Sprintf("user-%d", i))
	}
	wg.Wait()

	if granted.Load() != capacity || exhausted.Load() != 30 {
		t.Fatalf("unexpected outcome: granted=%d exhausted=%d", granted.Load(), exhausted.Load())
	}

	coupon, err := ledger.GetCoupon("RUSH")
	if err != nil {
		t.Fatalf("get coupon: %v", err)
	}
	if coupon.Granted != capacity {
		t.Fatalf("granted counter drifted: %d", coupon.Granted)
	}
}

func TestUserRepository_PostgresCreateAndGet(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewUserRepository(store)

	if err := repo.Create(domain.User{ID: "U1", Email: "Buyer@Example.com"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := repo.Create(domain.User{ID: "U2", Email: "buyer@example.com"}); !errors.Is(err, domain.ErrUserAlreadyExists) {
		t.Fatalf("expected ErrUserAlreadyExists on duplicate email, got %v", err)
	}
	if err := repo.Create(domain.User{ID: "U3"}); err != nil {
		t.Fatalf("create user without email: %v", err)
	}

	user, err := repo.Get("U1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Email != "buyer@example.com" {
		t.Fatalf("unexpected email: %q", user.Email)
	}
	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
