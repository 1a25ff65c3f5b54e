// Package store defines the persistence contracts the brokerage core
// depends on. The postgres implementation lives in internal/db; Memory in
// this package backs tests and local tooling.
package store

import (
	"context"

	"github.com/tandogan/brokerage/internal/models"
)

// OrderStore persists orders. SaveOrder inserts when the order has no id,
// assigning the id and created timestamp, and updates otherwise. Lookups
// return errors wrapping models.ErrNotFound for absent rows.
type OrderStore interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	OrdersBySideAndStatus(ctx context.Context, side models.Side, status models.OrderStatus) ([]models.Order, error)
	OrdersByCustomer(ctx context.Context, customerID int64) ([]models.Order, error)
	SaveOrder(ctx context.Context, order *models.Order) error
}

// BalanceStore persists per-customer, per-asset balances. SaveBalances
// applies all records as one atomic unit; implementations must guarantee
// that either every record is written or none is.
type BalanceStore interface {
	GetBalance(ctx context.Context, customerID int64, asset string) (*models.Balance, error)
	BalancesByCustomer(ctx context.Context, customerID int64) ([]models.Balance, error)
	SaveBalance(ctx context.Context, balance *models.Balance) error
	SaveBalances(ctx context.Context, balances []*models.Balance) error
}

// CustomerStore persists customer accounts. CreateCustomer fails with an
// error wrapping models.ErrAlreadyExists when the username is taken.
type CustomerStore interface {
	CreateCustomer(ctx context.Context, username, passwordHash string, role models.Role) (*models.Customer, error)
	CustomerByUsername(ctx context.Context, username string) (*models.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
}

// Store is the full persistence surface consumed by the HTTP layer.
type Store interface {
	OrderStore
	BalanceStore
	CustomerStore
}
