package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

type couponLedger struct {
	db *sql.DB
}

// NewCouponLedger создаёт SQLite-реализацию CouponLedger.
func NewCouponLedger(store *Store) domain.CouponLedger {
	return &couponLedger{db: store.DB()}
}

func (l *couponLedger) CreateCoupon(coupon domain.Coupon) error {
	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	if errs := coupon.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := l.db.ExecContext(ctx, `
		INSERT INTO coupons (code, discount, capacity, granted, created_at)
		VALUES (?, ?, ?, 0, ?)
	`, coupon.Code, coupon.Discount, coupon.Capacity, toNanos(coupon.CreatedAt)); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCouponAlreadyExists
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

func (l *couponLedger) GetCoupon(code string) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		coupon    domain.Coupon
		createdAt int64
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT code, discount, capacity, granted, created_at FROM coupons WHERE code = ?
	`, domain.NormalizeCouponCode(code)).Scan(
		&coupon.Code, &coupon.Discount, &coupon.Capacity, &coupon.Granted, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}
	coupon.CreatedAt = fromNanos(createdAt)
	return coupon, nil
}

func (l *couponLedger) HasRedemption(code, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var count int
	if err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM coupon_redemptions WHERE code = ? AND user_id = ?
	`, domain.NormalizeCouponCode(code), userID).Scan(&count); err != nil {
		return false, fmt.Errorf("check redemption: %w", err)
	}
	return count > 0, nil
}

// TryGrant выполняется в immediate-транзакции: классификация и запись видят один и тот же снимок.
func (l *couponLedger) TryGrant(code, userID string, at time.Time) (domain.Redemption, error) {
	code = domain.NormalizeCouponCode(code)
	if userID == "" {
		return domain.Redemption{}, domain.ErrUserIDRequired
	}
	at = at.UTC()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Redemption{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var discount, capacity, granted int64
	err = tx.QueryRowContext(ctx, `SELECT discount, capacity, granted FROM coupons WHERE code = ?`, code).
		Scan(&discount, &capacity, &granted)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Redemption{}, domain.ErrCouponNotFound
	}
	if err != nil {
		return domain.Redemption{}, fmt.Errorf("select coupon: %w", err)
	}

	var redeemed int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM coupon_redemptions WHERE code = ? AND user_id = ?
	`, code, userID).Scan(&redeemed); err != nil {
		return domain.Redemption{}, fmt.Errorf("check redemption: %w", err)
	}
	if redeemed > 0 {
		return domain.Redemption{}, domain.ErrCouponAlreadyRedeemed
	}
	if granted >= capacity {
		return domain.Redemption{}, domain.ErrCouponExhausted
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE coupons SET granted = granted + 1 WHERE code = ? AND granted < capacity
	`, code)
	if err != nil {
		return domain.Redemption{}, fmt.Errorf("increment coupon granted: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return domain.Redemption{}, fmt.Errorf("rows affected: %w", err)
	} else if affected == 0 {
		return domain.Redemption{}, domain.ErrCouponExhausted
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO coupon_redemptions (code, user_id, discount, redeemed_at)
		VALUES (?, ?, ?, ?)
	`, code, userID, discount, toNanos(at)); err != nil {
		if isUniqueViolation(err) {
			return domain.Redemption{}, domain.ErrCouponAlreadyRedeemed
		}
		return domain.Redemption{}, fmt.Errorf("insert redemption: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Redemption{}, fmt.Errorf("commit grant: %w", err)
	}

	return domain.Redemption{Code: code, UserID: userID, Discount: discount, RedeemedAt: at}, nil
}

func (l *couponLedger) ListRedemptions(code string) ([]domain.Redemption, error) {
	code = domain.NormalizeCouponCode(code)
	if _, err := l.GetCoupon(code); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return queryAll(ctx, l.db, "redemptions", scanRedemption, `
		SELECT code, user_id, discount, redeemed_at
		FROM coupon_redemptions
		WHERE code = ?
		ORDER BY redeemed_at, user_id
	`, code)
}

func scanRedemption(row rowScanner) (domain.Redemption, error) {
	var (
		redemption domain.Redemption
		redeemedAt int64
	)
	if err := row.Scan(&redemption.Code, &redemption.UserID, &redemption.Discount, &redeemedAt); err != nil {
		return domain.Redemption{}, err
	}
	redemption.RedeemedAt = fromNanos(redeemedAt)
	return redemption, nil
}

var _ domain.CouponLedger = (*couponLedger)(nil)
