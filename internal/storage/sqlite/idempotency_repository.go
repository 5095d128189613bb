package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт SQLite-хранилище квитанций idempotency-key.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

func (r *idempotencyRepository) Reserve(key domain.IdempotencyKey, fingerprint string, expiresAt time.Time) (domain.IdempotencyReceipt, error) {
	key = domain.NewIdempotencyKey(key.UserID, key.Method, key.Key)
	if err := key.Validate(); err != nil {
		return domain.IdempotencyReceipt{}, err
	}
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return domain.IdempotencyReceipt{}, domain.ErrIdempotencyFingerprintRequired
	}

	now := time.Now().UTC()
	expiresAt = expiresAt.UTC()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// просроченная квитанция перезаписывается, живая остаётся как есть
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_receipts (
			user_id, method, idem_key, fingerprint, state, reply, reply_code, expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, NULL, 0, ?, ?, ?)
		ON CONFLICT (user_id, method, idem_key) DO UPDATE
		SET fingerprint = excluded.fingerprint,
		    state = excluded.state,
		    reply = NULL,
		    reply_code = 0,
		    expires_at = excluded.expires_at,
		    created_at = excluded.created_at,
		    updated_at = excluded.updated_at
		WHERE idempotency_receipts.expires_at <= excluded.created_at
	`, key.UserID, key.Method, key.Key, fingerprint, string(domain.ReceiptInFlight),
		toNanos(expiresAt), toNanos(now), toNanos(now))
	if err != nil {
		return domain.IdempotencyReceipt{}, fmt.Errorf("reserve idempotency key: %w", err)
	}

	if err := requireAffected(res, domain.ErrIdempotencyKeyTaken); err != nil {
		if !errors.Is(err, domain.ErrIdempotencyKeyTaken) {
			return domain.IdempotencyReceipt{}, err
		}
		existing, getErr := r.Get(key)
		if getErr != nil {
			return domain.IdempotencyReceipt{}, fmt.Errorf("load taken idempotency receipt: %w", getErr)
		}
		if existing.Fingerprint != fingerprint {
			return existing, domain.ErrIdempotencyFingerprintMismatch
		}
		return existing, domain.ErrIdempotencyKeyTaken
	}

	return domain.IdempotencyReceipt{
		IdempotencyKey: key,
		Fingerprint:    fingerprint,
		State:          domain.ReceiptInFlight,
		ExpiresAt:      fromNanos(toNanos(expiresAt)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (r *idempotencyRepository) Get(key domain.IdempotencyKey) (domain.IdempotencyReceipt, error) {
	key = domain.NewIdempotencyKey(key.UserID, key.Method, key.Key)
	if err := key.Validate(); err != nil {
		return domain.IdempotencyReceipt{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	receipt := domain.IdempotencyReceipt{IdempotencyKey: key}
	var (
		state                           string
		expiresAt, createdAt, updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT fingerprint, state, reply, reply_code, expires_at, created_at, updated_at
		FROM idempotency_receipts
		WHERE user_id = ? AND method = ? AND idem_key = ?
	`, key.UserID, key.Method, key.Key).Scan(
		&receipt.Fingerprint, &state, &receipt.Reply, &receipt.Code,
		&expiresAt, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyReceipt{}, domain.ErrIdempotencyReceiptNotFound
	}
	if err != nil {
		return domain.IdempotencyReceipt{}, fmt.Errorf("get idempotency receipt: %w", err)
	}

	receipt.State = domain.ReceiptState(state)
	if !receipt.State.Valid() {
		return domain.IdempotencyReceipt{}, fmt.Errorf("invalid idempotency receipt state %q for %s", state, key)
	}
	receipt.ExpiresAt = fromNanos(expiresAt)
	receipt.CreatedAt = fromNanos(createdAt)
	receipt.UpdatedAt = fromNanos(updatedAt)
	return receipt, nil
}

func (r *idempotencyRepository) Settle(key domain.IdempotencyKey, state domain.ReceiptState, reply []byte, code int) error {
	key = domain.NewIdempotencyKey(key.UserID, key.Method, key.Key)
	if err := key.Validate(); err != nil {
		return err
	}
	if !state.Settled() {
		return domain.ErrIdempotencyStateInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_receipts
		SET state = ?, reply = ?, reply_code = ?, updated_at = ?
		WHERE user_id = ? AND method = ? AND idem_key = ?
	`, string(state), reply, code, toNanos(time.Now()), key.UserID, key.Method, key.Key)
	if err != nil {
		return fmt.Errorf("settle idempotency receipt: %w", err)
	}
	return requireAffected(res, domain.ErrIdempotencyReceiptNotFound)
}

func (r *idempotencyRepository) Release(key domain.IdempotencyKey) error {
	key = domain.NewIdempotencyKey(key.UserID, key.Method, key.Key)
	if err := key.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_receipts
		WHERE user_id = ? AND method = ? AND idem_key = ? AND state = ?
	`, key.UserID, key.Method, key.Key, string(domain.ReceiptInFlight))
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	if err := requireAffected(res, domain.ErrIdempotencyReceiptNotFound); err == nil {
		return nil
	}
	_, err = r.Get(key)
	return err
}

func (r *idempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `DELETE FROM idempotency_receipts WHERE expires_at <= ?`
	args := []any{toNanos(before)}
	if limit > 0 {
		query = `
			DELETE FROM idempotency_receipts
			WHERE rowid IN (
				SELECT rowid FROM idempotency_receipts WHERE expires_at <= ? ORDER BY expires_at ASC LIMIT ?
			)`
		args = append(args, limit)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency receipts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return int(affected), nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
