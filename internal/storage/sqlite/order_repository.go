package sqlite

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

const orderColumns = `id, owner_id, status, amount_minor, tracking_token, version, created_at, updated_at`

// sqliteNoLimit снимает ограничение LIMIT.
const sqliteNoLimit = -1

var orderSortColumns = map[domain.OrderSortField]string{
	domain.OrderSortCreatedAt: "created_at",
	domain.OrderSortAmount:    "amount_minor",
	domain.OrderSortStatus:    "status",
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт SQLite-реализацию OrderRepository.
// Время хранится в наносекундах UTC.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.OwnerID, string(order.Status), order.AmountMinor,
		order.TrackingToken, order.Version, toNanos(order.CreatedAt), toNanos(order.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return domain.ErrOrderAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}
	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Order{}, domain.ErrOrderNotFound
	case err != nil:
		return domain.Order{}, fmt.Errorf("select order %s: %w", id, err)
	}
	return order, nil
}

func (r *orderRepository) ListByOwner(ownerID string, opts domain.OrderListOptions) ([]domain.Order, error) {
	column, ok := orderSortColumns[cmp.Or(opts.SortBy, domain.OrderSortCreatedAt)]
	if !ok {
		return nil, domain.ErrSortFieldInvalid
	}
	direction := "DESC"
	if opts.Ascending {
		direction = "ASC"
	}
	limit := sqliteNoLimit
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM orders WHERE owner_id = ? ORDER BY %s %s, id %s LIMIT ?`,
		orderColumns, column, direction, direction)
	return queryAll(ctx, r.db, "orders", scanOrder, query, ownerID, limit)
}

// Save увеличивает версию на единицу. Если строка не обновилась, отдельный
// запрос различает отсутствующий заказ и устаревшую версию.
func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var version int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status = ?, amount_minor = ?, tracking_token = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
		RETURNING version
	`,
		string(order.Status), order.AmountMinor, order.TrackingToken, toNanos(order.UpdatedAt),
		order.ID, order.Version,
	).Scan(&version)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = ?)`, order.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check order %s: %w", order.ID, err)
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderVersionConflict
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order              domain.Order
		status             string
		createdAt, updated int64
	)
	if err := row.Scan(
		&order.ID, &order.OwnerID, &status, &order.AmountMinor,
		&order.TrackingToken, &order.Version, &createdAt, &updated,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = fromNanos(createdAt)
	order.UpdatedAt = fromNanos(updated)
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
