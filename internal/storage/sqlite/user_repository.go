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

type userRepository struct {
	db *sql.DB
}

// NewUserRepository создаёт SQLite-реализацию UserRepository.
func NewUserRepository(store *Store) domain.UserRepository {
	return &userRepository{db: store.DB()}
}

func (r *userRepository) Create(user domain.User) error {
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return domain.ErrUserIDRequired
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	email := sql.NullString{String: strings.ToLower(strings.TrimSpace(user.Email))}
	email.Valid = email.String != ""

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)
	`, user.ID, email, toNanos(user.CreatedAt)); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrUserAlreadyExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepository) Get(id string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		user      domain.User
		email     sql.NullString
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, email, created_at FROM users WHERE id = ?`, strings.TrimSpace(id)).
		Scan(&user.ID, &email, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	user.Email = email.String
	user.CreatedAt = fromNanos(createdAt)
	return user, nil
}

var _ domain.UserRepository = (*userRepository)(nil)
