package postgres

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

// NewCouponLedger создаёт PostgreSQL-реализацию CouponLedger.
// Ёмкость охраняется условным UPDATE и CHECK-ограничением, повтор выдачи охраняется первичным ключом (code, user_id).
func NewCouponLedger(store *Store) domain.CouponLedger {
	return &couponLedger{db: store.DB()}
}

func (l *couponLedger) CreateCoupon(coupon domain.Coupon) error {
	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	if errs := coupon.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := l.db.ExecContext(ctx, `
		INSERT INTO coupons (code, discount, capacity, granted, created_at)
		VALUES ($1,$2,$3,0,$4)
	`, coupon.Code, coupon.Discount, coupon.Capacity, coupon.CreatedAt); err != nil {
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

	var coupon domain.Coupon
	err := l.db.QueryRowContext(ctx, `
		SELECT code, discount, capacity, granted, created_at
		FROM coupons
		WHERE code = $1
	`, domain.NormalizeCouponCode(code)).Scan(
		&coupon.Code, &coupon.Discount, &coupon.Capacity, &coupon.Granted, &coupon.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}
	coupon.CreatedAt = coupon.CreatedAt.UTC()

	return coupon, nil
}

func (l *couponLedger) HasRedemption(code, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return redemptionExists(ctx, l.db, domain.NormalizeCouponCode(code), userID)
}

// TryGrant выполняет выдачу одной транзакцией:
// условный инкремент счётчика, затем вставка записи о выдаче.
// Если инкремент не прошёл, причина определяется в порядке NotFound, AlreadyRedeemed, Exhausted.
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

	var discount int64
	err = tx.QueryRowContext(ctx, `
		UPDATE coupons
		SET granted = granted + 1
		WHERE code = $1
		  AND granted < capacity
		RETURNING discount
	`, code).Scan(&discount)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return domain.Redemption{}, l.classifyRejected(ctx, code, userID)
	}
	if err != nil {
		return domain.Redemption{}, fmt.Errorf("increment coupon granted: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO coupon_redemptions (code, user_id, discount, redeemed_at)
		VALUES ($1,$2,$3,$4)
	`, code, userID, discount, at); err != nil {
		if isUniqueViolation(err) {
			return domain.Redemption{}, domain.ErrCouponAlreadyRedeemed
		}
		return domain.Redemption{}, fmt.Errorf("insert redemption: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Redemption{}, fmt.Errorf("commit grant: %w", err)
	}

	return domain.Redemption{
		Code:       code,
		UserID:     userID,
		Discount:   discount,
		RedeemedAt: at,
	}, nil
}

func (l *couponLedger) classifyRejected(ctx context.Context, code, userID string) error {
	var exists bool
	if err := l.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)
	`, code).Scan(&exists); err != nil {
		return fmt.Errorf("check coupon exists: %w", err)
	}
	if !exists {
		return domain.ErrCouponNotFound
	}

	redeemed, err := redemptionExists(ctx, l.db, code, userID)
	if err != nil {
		return err
	}
	if redeemed {
		return domain.ErrCouponAlreadyRedeemed
	}
	return domain.ErrCouponExhausted
}

func (l *couponLedger) ListRedemptions(code string) ([]domain.Redemption, error) {
	code = domain.NormalizeCouponCode(code)
	if _, err := l.GetCoupon(code); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := l.db.QueryContext(ctx, `
		SELECT code, user_id, discount, redeemed_at
		FROM coupon_redemptions
		WHERE code = $1
		ORDER BY redeemed_at ASC, user_id ASC
	`, code)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	return collectRows(rows, "redemption", func(row rowScanner) (domain.Redemption, error) {
		var redemption domain.Redemption
		if err := row.Scan(&redemption.Code, &redemption.UserID, &redemption.Discount, &redemption.RedeemedAt); err != nil {
			return domain.Redemption{}, err
		}
		redemption.RedeemedAt = redemption.RedeemedAt.UTC()
		return redemption, nil
	})
}

func redemptionExists(ctx context.Context, db *sql.DB, code, userID string) (bool, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM coupon_redemptions WHERE code = $1 AND user_id = $2)
	`, code, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check redemption: %w", err)
	}
	return exists, nil
}

var _ domain.CouponLedger = (*couponLedger)(nil)
