package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

type userRepositoryInMemory struct {
	mu      sync.RWMutex
	byID    map[string]domain.User
	byEmail map[string]string
}

// NewUserRepository создаёт in-memory реестр пользователей.
func NewUserRepository() domain.UserRepository {
	return &userRepositoryInMemory{
		byID:    make(map[string]domain.User),
		byEmail: make(map[string]string),
	}
}

func (r *userRepositoryInMemory) Create(user domain.User) error {
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return domain.ErrUserIDRequired
	}
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[user.ID]; exists {
		return domain.ErrUserAlreadyExists
	}
	if email != "" {
		if _, exists := r.byEmail[email]; exists {
			return domain.ErrUserAlreadyExists
		}
		r.byEmail[email] = user.ID
	}
	r.byID[user.ID] = user
	return nil
}

func (r *userRepositoryInMemory) Get(id string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

var _ domain.UserRepository = (*userRepositoryInMemory)(nil)
