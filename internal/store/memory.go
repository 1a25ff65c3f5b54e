package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/tandogan/brokerage/internal/models"
)

// Memory is an in-process Store. Records are kept in B-trees so scans come
// back in a deterministic order. All methods copy on the way in and out, so
// callers never alias stored records; SaveBalances applies every record
// under one lock and is therefore atomic.
type Memory struct {
	mu             sync.Mutex
	orders         *btree.BTreeG[*models.Order]
	balances       *btree.BTreeG[*models.Balance]
	customers      *btree.BTreeG[*models.Customer]
	usernames      map[string]int64
	nextOrderID    int64
	nextCustomerID int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders: btree.NewBTreeG(func(a, b *models.Order) bool {
			return a.ID < b.ID
		}),
		balances: btree.NewBTreeG(func(a, b *models.Balance) bool {
			if a.CustomerID != b.CustomerID {
				return a.CustomerID < b.CustomerID
			}
			return a.Asset < b.Asset
		}),
		customers: btree.NewBTreeG(func(a, b *models.Customer) bool {
			return a.ID < b.ID
		}),
		usernames: make(map[string]int64),
	}
}

func (m *Memory) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders.Get(&models.Order{ID: id})
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	cp := *order
	return &cp, nil
}

func (m *Memory) OrdersBySideAndStatus(ctx context.Context, side models.Side, status models.OrderStatus) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var orders []models.Order
	m.orders.Scan(func(order *models.Order) bool {
		if order.Side == side && order.Status == status {
			orders = append(orders, *order)
		}
		return true
	})
	return orders, nil
}

func (m *Memory) OrdersByCustomer(ctx context.Context, customerID int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var orders []models.Order
	m.orders.Scan(func(order *models.Order) bool {
		if order.CustomerID == customerID {
			orders = append(orders, *order)
		}
		return true
	})
	return orders, nil
}

func (m *Memory) SaveOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if order.ID == 0 {
		m.nextOrderID++
		order.ID = m.nextOrderID
		order.CreatedAt = now
	} else if _, ok := m.orders.Get(order); !ok {
		return fmt.Errorf("order %d: %w", order.ID, models.ErrNotFound)
	}
	order.UpdatedAt = now

	cp := *order
	m.orders.Set(&cp)
	return nil
}

func (m *Memory) GetBalance(ctx context.Context, customerID int64, asset string) (*models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.balances.Get(&models.Balance{CustomerID: customerID, Asset: asset})
	if !ok {
		return nil, fmt.Errorf("balance %d/%s: %w", customerID, asset, models.ErrNotFound)
	}
	cp := *balance
	return &cp, nil
}

func (m *Memory) BalancesByCustomer(ctx context.Context, customerID int64) ([]models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var balances []models.Balance
	m.balances.Scan(func(balance *models.Balance) bool {
		if balance.CustomerID == customerID {
			balances = append(balances, *balance)
		}
		return true
	})
	return balances, nil
}

func (m *Memory) SaveBalance(ctx context.Context, balance *models.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saveBalanceLocked(balance)
	return nil
}

func (m *Memory) SaveBalances(ctx context.Context, balances []*models.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, balance := range balances {
		m.saveBalanceLocked(balance)
	}
	return nil
}

func (m *Memory) saveBalanceLocked(balance *models.Balance) {
	balance.UpdatedAt = time.Now().UTC()
	cp := *balance
	m.balances.Set(&cp)
}

func (m *Memory) CreateCustomer(ctx context.Context, username, passwordHash string, role models.Role) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.usernames[username]; ok {
		return nil, fmt.Errorf("username %q: %w", username, models.ErrAlreadyExists)
	}
	m.nextCustomerID++
	customer := &models.Customer{
		ID:           m.nextCustomerID,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	m.customers.Set(customer)
	m.usernames[username] = customer.ID

	cp := *customer
	return &cp, nil
}

func (m *Memory) CustomerByUsername(ctx context.Context, username string) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.usernames[username]
	if !ok {
		return nil, fmt.Errorf("customer %q: %w", username, models.ErrNotFound)
	}
	customer, _ := m.customers.Get(&models.Customer{ID: id})
	cp := *customer
	return &cp, nil
}

func (m *Memory) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	customer, ok := m.customers.Get(&models.Customer{ID: id})
	if !ok {
		return nil, fmt.Errorf("customer %d: %w", id, models.ErrNotFound)
	}
	cp := *customer
	return &cp, nil
}
