// Package db implements the store contracts on PostgreSQL via pgx.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tandogan/brokerage/internal/models"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// wrapErr maps driver errors onto the core taxonomy: no rows becomes
// ErrNotFound, unique violations (SQLSTATE 23505) become ErrAlreadyExists,
// serialization/deadlock aborts (SQLSTATE 40001, 40P01) become ErrConflict
// so callers can retry cleanly.
func wrapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w: %v", op, models.ErrAlreadyExists, err)
		case "40001", "40P01":
			return fmt.Errorf("%s: %w: %v", op, models.ErrConflict, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CreateCustomer inserts a new customer.
func (db *DB) CreateCustomer(ctx context.Context, username, passwordHash string, role models.Role) (*models.Customer, error) {
	customer := &models.Customer{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO customers (username, password_hash, role) VALUES ($1, $2, $3) RETURNING id, username, password_hash, role, created_at",
		username, passwordHash, role).Scan(&customer.ID, &customer.Username, &customer.PasswordHash, &customer.Role, &customer.CreatedAt)
	if err != nil {
		return nil, wrapErr("create customer", err)
	}
	return customer, nil
}

// CustomerByUsername retrieves a customer by username.
func (db *DB) CustomerByUsername(ctx context.Context, username string) (*models.Customer, error) {
	customer := &models.Customer{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, role, created_at FROM customers WHERE username = $1",
		username).Scan(&customer.ID, &customer.Username, &customer.PasswordHash, &customer.Role, &customer.CreatedAt)
	if err != nil {
		return nil, wrapErr("get customer", err)
	}
	return customer, nil
}

// GetCustomer retrieves a customer by id.
func (db *DB) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	customer := &models.Customer{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, role, created_at FROM customers WHERE id = $1",
		id).Scan(&customer.ID, &customer.Username, &customer.PasswordHash, &customer.Role, &customer.CreatedAt)
	if err != nil {
		return nil, wrapErr("get customer", err)
	}
	return customer, nil
}

const orderColumns = "id, customer_id, asset_name, order_side, size, remaining, price, status, created_at, updated_at"

func scanOrder(row pgx.Row, order *models.Order) error {
	return row.Scan(&order.ID, &order.CustomerID, &order.Asset, &order.Side, &order.Size,
		&order.Remaining, &order.Price, &order.Status, &order.CreatedAt, &order.UpdatedAt)
}

// GetOrder retrieves an order by id.
func (db *DB) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	order := &models.Order{}
	row := db.Pool.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err := scanOrder(row, order); err != nil {
		return nil, wrapErr(fmt.Sprintf("get order %d", id), err)
	}
	return order, nil
}

// OrdersBySideAndStatus enumerates orders on one side in one status,
// oldest first. The matching engine uses it to find counter-order
// candidates.
func (db *DB) OrdersBySideAndStatus(ctx context.Context, side models.Side, status models.OrderStatus) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE order_side = $1 AND status = $2 ORDER BY created_at ASC, id ASC",
		side, status)
	if err != nil {
		return nil, wrapErr("list orders by side and status", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// OrdersByCustomer retrieves all orders for a customer.
func (db *DB) OrdersByCustomer(ctx context.Context, customerID int64) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE customer_id = $1 ORDER BY created_at ASC, id ASC",
		customerID)
	if err != nil {
		return nil, wrapErr("list customer orders", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// SaveOrder inserts the order when it has no id, assigning id and created
// timestamp, and updates the mutable columns otherwise.
func (db *DB) SaveOrder(ctx context.Context, order *models.Order) error {
	if order.ID == 0 {
		row := db.Pool.QueryRow(ctx,
			"INSERT INTO orders (customer_id, asset_name, order_side, size, remaining, price, status) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "+orderColumns,
			order.CustomerID, order.Asset, order.Side, order.Size, order.Remaining, order.Price, order.Status)
		if err := scanOrder(row, order); err != nil {
			return wrapErr("insert order", err)
		}
		return nil
	}

	tag, err := db.Pool.Exec(ctx,
		"UPDATE orders SET remaining = $1, status = $2, updated_at = now() WHERE id = $3",
		order.Remaining, order.Status, order.ID)
	if err != nil {
		return wrapErr(fmt.Sprintf("update order %d", order.ID), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update order %d: %w", order.ID, models.ErrNotFound)
	}
	return nil
}

// GetBalance retrieves one (customer, asset) balance.
func (db *DB) GetBalance(ctx context.Context, customerID int64, asset string) (*models.Balance, error) {
	balance := &models.Balance{}
	err := db.Pool.QueryRow(ctx,
		"SELECT customer_id, asset_name, size, usable_size, updated_at FROM balances WHERE customer_id = $1 AND asset_name = $2",
		customerID, asset).Scan(&balance.CustomerID, &balance.Asset, &balance.Size, &balance.UsableSize, &balance.UpdatedAt)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get balance %d/%s", customerID, asset), err)
	}
	return balance, nil
}

// BalancesByCustomer retrieves all balances held by a customer.
func (db *DB) BalancesByCustomer(ctx context.Context, customerID int64) ([]models.Balance, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT customer_id, asset_name, size, usable_size, updated_at FROM balances WHERE customer_id = $1 ORDER BY asset_name ASC",
		customerID)
	if err != nil {
		return nil, wrapErr("list customer balances", err)
	}
	defer rows.Close()

	var balances []models.Balance
	for rows.Next() {
		var balance models.Balance
		if err := rows.Scan(&balance.CustomerID, &balance.Asset, &balance.Size, &balance.UsableSize, &balance.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, balance)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return balances, nil
}

// SaveBalance upserts one balance record.
func (db *DB) SaveBalance(ctx context.Context, balance *models.Balance) error {
	_, err := db.Pool.Exec(ctx, upsertBalanceSQL,
		balance.CustomerID, balance.Asset, balance.Size, balance.UsableSize)
	if err != nil {
		return wrapErr(fmt.Sprintf("save balance %d/%s", balance.CustomerID, balance.Asset), err)
	}
	return nil
}

// SaveBalances upserts every record inside one transaction; either all
// legs of a settlement land or none do.
func (db *DB) SaveBalances(ctx context.Context, balances []*models.Balance) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return wrapErr("begin balance transaction", err)
	}
	defer tx.Rollback(ctx)

	for _, balance := range balances {
		if _, err := tx.Exec(ctx, upsertBalanceSQL,
			balance.CustomerID, balance.Asset, balance.Size, balance.UsableSize); err != nil {
			return wrapErr(fmt.Sprintf("save balance %d/%s", balance.CustomerID, balance.Asset), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapErr("commit balance transaction", err)
	}
	return nil
}

const upsertBalanceSQL = `
	INSERT INTO balances (customer_id, asset_name, size, usable_size)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (customer_id, asset_name)
	DO UPDATE SET size = EXCLUDED.size, usable_size = EXCLUDED.usable_size, updated_at = now()`
