package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ordersys/pipeline/internal/domain"
)

const maxPageSize = 100

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Bootstrap ensures the orders schema exists. Safe to run on every start.
func (s *Store) Bootstrap(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
		  order_id     TEXT PRIMARY KEY,
		  customer_id  TEXT NOT NULL,
		  total_amount NUMERIC(12,2) NOT NULL,
		  items        JSONB NOT NULL,
		  status       TEXT NOT NULL,
		  created_at   TIMESTAMPTZ NOT NULL,
		  updated_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders (created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_orders_customer_id ON orders (customer_id);
	`)
	if err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

// Insert creates the order row if absent. Redelivered messages hit the
// ON CONFLICT no-op path, so duplicates are harmless by construction.
func (s *Store) Insert(ctx context.Context, o *domain.Order) (bool, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return false, fmt.Errorf("marshal items: %w", err)
	}

	updatedAt := o.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = o.CreatedAt
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO orders (order_id, customer_id, total_amount, items, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id) DO NOTHING
	`, o.OrderID, o.CustomerID, o.TotalAmount, string(items), o.Status, o.CreatedAt, updatedAt)
	if err != nil {
		return false, fmt.Errorf("insert order: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT order_id, customer_id, total_amount, items, status, created_at, updated_at
		FROM orders WHERE order_id = $1
	`, orderID)

	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) List(ctx context.Context, page, pageSize int) ([]domain.Order, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT order_id, customer_id, total_amount, items, status, created_at, updated_at
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, pageSize)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	return orders, total, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, orderID, status string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = now() WHERE order_id = $1
	`, orderID, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	st := &domain.Stats{ByStatus: map[string]int{}}

	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE created_at >= now() - interval '24 hours')
		FROM orders
	`).Scan(&st.TotalOrders, &st.OrdersToday)
	if err != nil {
		return nil, fmt.Errorf("count stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("status stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hourRows, err := s.pool.Query(ctx, `
		SELECT date_trunc('hour', created_at) AS bucket, count(*)
		FROM orders
		WHERE created_at >= now() - interval '24 hours'
		GROUP BY bucket
		ORDER BY bucket
	`)
	if err != nil {
		return nil, fmt.Errorf("hourly stats: %w", err)
	}
	defer hourRows.Close()
	for hourRows.Next() {
		var b domain.HourBucket
		if err := hourRows.Scan(&b.Hour, &b.Count); err != nil {
			return nil, err
		}
		st.ByHour = append(st.ByHour, b)
	}
	return st, hourRows.Err()
}

func (s *Store) RecentOrderIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id FROM orders
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var items []byte
	if err := row.Scan(&o.OrderID, &o.CustomerID, &o.TotalAmount, &items, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	return &o, nil
}
