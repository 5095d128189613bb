package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

const orderColumns = `id, owner_id, status, amount_minor, tracking_token, version, created_at, updated_at`

// В ORDER BY попадают только значения этой карты.
var orderSortColumns = map[domain.OrderSortField]string{
	domain.OrderSortCreatedAt: "created_at",
	domain.OrderSortAmount:    "amount_minor",
	domain.OrderSortStatus:    "status",
}

// saveOrderQuery обновляет заказ при совпадении версии и одним запросом
// сообщает, существует ли он вообще.
const saveOrderQuery = `
	WITH updated AS (
		UPDATE orders
		SET status = $1, amount_minor = $2, tracking_token = $3,
		    version = version + 1, updated_at = $4
		WHERE id = $5 AND version = $6
		RETURNING 1
	)
	SELECT
		(SELECT COUNT(*) FROM updated),
		EXISTS (SELECT 1 FROM orders WHERE id = $5)`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		order.ID, order.OwnerID, string(order.Status), order.AmountMinor,
		order.TrackingToken, order.Version, order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
	)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return domain.ErrOrderAlreadyExists
	default:
		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order %s: %w", id, err)
	}
	return order, nil
}

// ListByOwner передаёт NULL в LIMIT, когда ограничение не задано.
func (r *orderRepository) ListByOwner(ownerID string, opts domain.OrderListOptions) ([]domain.Order, error) {
	query, err := listByOwnerQuery(opts)
	if err != nil {
		return nil, err
	}
	var limit sql.NullInt64
	if opts.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(opts.Limit), Valid: true}
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders of %s: %w", ownerID, err)
	}
	return collectRows(rows, "order", scanOrder)
}

// Save применяет изменения, только если order.Version совпадает с хранимой.
func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		updated int64
		exists  bool
	)
	err := r.db.QueryRowContext(ctx, saveOrderQuery,
		string(order.Status), order.AmountMinor, order.TrackingToken,
		order.UpdatedAt.UTC(), order.ID, order.Version,
	).Scan(&updated, &exists)
	switch {
	case err != nil:
		return fmt.Errorf("update order %s: %w", order.ID, err)
	case updated > 0:
		return nil
	case !exists:
		return domain.ErrOrderNotFound
	default:
		return domain.ErrOrderVersionConflict
	}
}

func listByOwnerQuery(opts domain.OrderListOptions) (string, error) {
	field := opts.SortBy
	if field == "" {
		field = domain.OrderSortCreatedAt
	}
	column, ok := orderSortColumns[field]
	if !ok {
		return "", domain.ErrSortFieldInvalid
	}
	direction := "DESC"
	if opts.Ascending {
		direction = "ASC"
	}

	return fmt.Sprintf(
		`SELECT %s FROM orders WHERE owner_id = $1 ORDER BY %s %s, id %s LIMIT $2`,
		orderColumns, column, direction, direction,
	), nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	if err := row.Scan(
		&order.ID, &order.OwnerID, &status, &order.AmountMinor,
		&order.TrackingToken, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
