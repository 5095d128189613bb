package postgres

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

// NewIdempotencyRepository создаёт PostgreSQL-хранилище квитанций idempotency-key.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

// Reserve вставляет квитанцию одним запросом. Конфликт по ключу перезаписывает
// строку только если она просрочена; иначе RETURNING пуст и возвращается живая квитанция.
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

	var createdAt time.Time
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO idempotency_receipts (
			user_id, method, idem_key, fingerprint, state, reply, reply_code, expires_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,NULL,0,$6,$7,$7)
		ON CONFLICT (user_id, method, idem_key) DO UPDATE
		SET fingerprint = EXCLUDED.fingerprint,
		    state = EXCLUDED.state,
		    reply = NULL,
		    reply_code = 0,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE idempotency_receipts.expires_at <= $7
		RETURNING created_at
	`, key.UserID, key.Method, key.Key, fingerprint, string(domain.ReceiptInFlight), expiresAt, now).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := r.Get(key)
		if getErr != nil {
			return domain.IdempotencyReceipt{}, fmt.Errorf("load taken idempotency receipt: %w", getErr)
		}
		if existing.Fingerprint != fingerprint {
			return existing, domain.ErrIdempotencyFingerprintMismatch
		}
		return existing, domain.ErrIdempotencyKeyTaken
	}
	if err != nil {
		return domain.IdempotencyReceipt{}, fmt.Errorf("reserve idempotency key: %w", err)
	}

	return domain.IdempotencyReceipt{
		IdempotencyKey: key,
		Fingerprint:    fingerprint,
		State:          domain.ReceiptInFlight,
		ExpiresAt:      expiresAt,
		CreatedAt:      createdAt.UTC(),
		UpdatedAt:      createdAt.UTC(),
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
	var state string
	err := r.db.QueryRowContext(ctx, `
		SELECT fingerprint, state, reply, reply_code, expires_at, created_at, updated_at
		FROM idempotency_receipts
		WHERE user_id = $1 AND method = $2 AND idem_key = $3
	`, key.UserID, key.Method, key.Key).Scan(
		&receipt.Fingerprint,
		&state,
		&receipt.Reply,
		&receipt.Code,
		&receipt.ExpiresAt,
		&receipt.CreatedAt,
		&receipt.UpdatedAt,
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
	receipt.ExpiresAt = receipt.ExpiresAt.UTC()
	receipt.CreatedAt = receipt.CreatedAt.UTC()
	receipt.UpdatedAt = receipt.UpdatedAt.UTC()
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
		SET state = $1, reply = $2, reply_code = $3, updated_at = $4
		WHERE user_id = $5 AND method = $6 AND idem_key = $7
	`, string(state), reply, code, time.Now().UTC(), key.UserID, key.Method, key.Key)
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
		WHERE user_id = $1 AND method = $2 AND idem_key = $3 AND state = $4
	`, key.UserID, key.Method, key.Key, string(domain.ReceiptInFlight))
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	} else if affected > 0 {
		return nil
	}

	// строка либо уже с итогом (его сохраняем), либо отсутствует
	_, err = r.Get(key)
	return err
}

func (r *idempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `DELETE FROM idempotency_receipts WHERE expires_at <= $1`
	args := []any{before}
	if limit > 0 {
		query = `
			DELETE FROM idempotency_receipts
			WHERE (user_id, method, idem_key) IN (
				SELECT user_id, method, idem_key
				FROM idempotency_receipts
				WHERE expires_at <= $1
				ORDER BY expires_at ASC
				LIMIT $2
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
