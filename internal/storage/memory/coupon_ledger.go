package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

type redemptionKey struct {
	code   string
	userID string
}

// couponLedgerInMemory хранит купоны и выдачи под одним мьютексом:
// проверка ёмкости и выдача выполняются в одной критической секции.
type couponLedgerInMemory struct {
	mu          sync.RWMutex
	coupons     map[string]domain.Coupon
	redemptions map[redemptionKey]domain.Redemption
}

// NewCouponLedger создаёт in-memory реализацию CouponLedger.
func NewCouponLedger() domain.CouponLedger {
	return &couponLedgerInMemory{
		coupons:     make(map[string]domain.Coupon),
		redemptions: make(map[redemptionKey]domain.Redemption),
	}
}

func (l *couponLedgerInMemory) CreateCoupon(coupon domain.Coupon) error {
	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	if errs := coupon.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = time.Now().UTC()
	}
	coupon.Granted = 0

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.coupons[coupon.Code]; exists {
		return domain.ErrCouponAlreadyExists
	}
	l.coupons[coupon.Code] = coupon
	return nil
}

func (l *couponLedgerInMemory) GetCoupon(code string) (domain.Coupon, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	coupon, ok := l.coupons[domain.NormalizeCouponCode(code)]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return coupon, nil
}

func (l *couponLedgerInMemory) HasRedemption(code, userID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.redemptions[redemptionKey{code: domain.NormalizeCouponCode(code), userID: userID}]
	return ok, nil
}

// TryGrant проверяет купон, повтор и ёмкость, затем фиксирует выдачу.
func (l *couponLedgerInMemory) TryGrant(code, userID string, at time.Time) (domain.Redemption, error) {
	code = domain.NormalizeCouponCode(code)
	if userID == "" {
		return domain.Redemption{}, domain.ErrUserIDRequired
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	coupon, ok := l.coupons[code]
	if !ok {
		return domain.Redemption{}, domain.ErrCouponNotFound
	}
	key := redemptionKey{code: code, userID: userID}
	if _, redeemed := l.redemptions[key]; redeemed {
		return domain.Redemption{}, domain.ErrCouponAlreadyRedeemed
	}
	if coupon.Exhausted() {
		return domain.Redemption{}, domain.ErrCouponExhausted
	}

	coupon.Granted++
	redemption := domain.Redemption{
		Code:       code,
		UserID:     userID,
		Discount:   coupon.Discount,
		RedeemedAt: at.UTC(),
	}
	l.coupons[code] = coupon
	l.redemptions[key] = redemption

	return redemption, nil
}

func (l *couponLedgerInMemory) ListRedemptions(code string) ([]domain.Redemption, error) {
	code = domain.NormalizeCouponCode(code)

	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.coupons[code]; !ok {
		return nil, domain.ErrCouponNotFound
	}

	result := make([]domain.Redemption, 0)
	for key, redemption := range l.redemptions {
		if key.code == code {
			result = append(result, redemption)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].RedeemedAt.Equal(result[j].RedeemedAt) {
			return result[i].RedeemedAt.Before(result[j].RedeemedAt)
		}
		return result[i].UserID < result[j].UserID
	})
	return result, nil
}

var _ domain.CouponLedger = (*couponLedgerInMemory)(nil)
