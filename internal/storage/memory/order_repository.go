package memory

import (
	"cmp"
	"slices"
	"sync"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	// byOwner хранит ID заказов владельца в порядке создания.
	byOwner map[string][]string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
// Save ведёт себя как UPDATE ... WHERE version = $n в SQL-реализациях.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		orders:  make(map[string]domain.Order),
		byOwner: make(map[string][]string),
	}
}

func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.orders[order.ID]; taken {
		return domain.ErrOrderAlreadyExists
	}
	r.orders[order.ID] = order
	r.byOwner[order.OwnerID] = append(r.byOwner[order.OwnerID], order.ID)
	return nil
}

func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if order, ok := r.orders[id]; ok {
		return order, nil
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

// ListByOwner сортирует по opts.SortBy, при равенстве по ID в том же направлении.
func (r *orderRepositoryInMemory) ListByOwner(ownerID string, opts domain.OrderListOptions) ([]domain.Order, error) {
	compare, err := orderComparator(opts.SortBy)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	ids := r.byOwner[ownerID]
	owned := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		owned = append(owned, r.orders[id])
	}
	r.mu.RUnlock()

	slices.SortFunc(owned, func(a, b domain.Order) int {
		c := cmp.Or(compare(a, b), cmp.Compare(a.ID, b.ID))
		if opts.Ascending {
			return c
		}
		return -c
	})
	if opts.Limit > 0 && len(owned) > opts.Limit {
		owned = owned[:opts.Limit]
	}
	return owned, nil
}

func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	switch {
	case !ok:
		return domain.ErrOrderNotFound
	case stored.Version != order.Version:
		return domain.ErrOrderVersionConflict
	}
	// владелец и время создания не меняются после Create
	order.OwnerID = stored.OwnerID
	order.CreatedAt = stored.CreatedAt
	order.Version++
	r.orders[order.ID] = order
	return nil
}

func orderComparator(field domain.OrderSortField) (func(a, b domain.Order) int, error) {
	switch field {
	case "", domain.OrderSortCreatedAt:
		return func(a, b domain.Order) int { return a.CreatedAt.Compare(b.CreatedAt) }, nil
	case domain.OrderSortAmount:
		return func(a, b domain.Order) int { return cmp.Compare(a.AmountMinor, b.AmountMinor) }, nil
	case domain.OrderSortStatus:
		return func(a, b domain.Order) int { return cmp.Compare(a.Status, b.Status) }, nil
	}
	return nil, domain.ErrSortFieldInvalid
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
