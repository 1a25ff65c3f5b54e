package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QuoteAsset is the currency every order is priced in. BUY orders reserve
// and spend it, SELL orders receive it.
const QuoteAsset = "TRY"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the lifecycle state of an order. CANCELED is terminal and
// only reachable from PENDING; MATCHED means the order is fully filled.
type OrderStatus string

const (
	StatusPending  OrderStatus = "PENDING"
	StatusMatched  OrderStatus = "MATCHED"
	StatusCanceled OrderStatus = "CANCELED"
)

// Core error taxonomy. Services wrap these with context; callers match with
// errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid order state")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConflict            = errors.New("concurrent modification")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrAlreadyExists       = errors.New("already exists")
)

// Role determines what a customer may do. Only admins can trigger matching.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

// Customer represents a registered account holder.
type Customer struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Order represents a limit order to buy or sell an asset.
type Order struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customer_id"`
	Asset      string          `json:"asset_name"`
	Side       Side            `json:"order_side"`
	Size       int64           `json:"size"`      // original size, immutable
	Remaining  int64           `json:"remaining"` // decremented by matching
	Price      decimal.Decimal `json:"price"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"` // assigned at persistence, time priority tie-break
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ReservationAsset is the asset a submission puts a hold on: the quote
// currency for a BUY, the traded asset itself for a SELL.
func (o *Order) ReservationAsset() string {
	if o.Side == SideBuy {
		return QuoteAsset
	}
	return o.Asset
}

// RemainingHold is the quantity still held for the unfilled part of the
// order: price × remaining for a BUY, remaining units for a SELL.
func (o *Order) RemainingHold() decimal.Decimal {
	if o.Side == SideBuy {
		return o.Price.Mul(decimal.NewFromInt(o.Remaining))
	}
	return decimal.NewFromInt(o.Remaining)
}

// Balance is a customer's holding of one asset. UsableSize is the part not
// reserved by open orders; it never exceeds Size and never goes negative.
type Balance struct {
	CustomerID int64           `json:"customer_id"`
	Asset      string          `json:"asset_name"`
	Size       decimal.Decimal `json:"size"`
	UsableSize decimal.Decimal `json:"usable_size"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Reserved is the held portion of the balance.
func (b *Balance) Reserved() decimal.Decimal {
	return b.Size.Sub(b.UsableSize)
}

// Execution records one fill produced by the matching engine.
type Execution struct {
	ID             uuid.UUID       `json:"id"`
	OrderID        int64           `json:"order_id"`
	CounterOrderID int64           `json:"counter_order_id"`
	Size           int64           `json:"size"`
	Price          decimal.Decimal `json:"price"`
	Value          decimal.Decimal `json:"value"`
	ExecutedAt     time.Time       `json:"executed_at"`
}

// OrderLockKey names the exclusive lock for one order. Ids are zero padded
// so lexical key order equals ascending numeric id, which is the global
// acquisition order used to avoid deadlocks.
func OrderLockKey(orderID int64) string {
	return fmt.Sprintf("order/%012d", orderID)
}

// BalanceLockKey names the exclusive lock for one (customer, asset) balance.
func BalanceLockKey(customerID int64, asset string) string {
	return fmt.Sprintf("balance/%012d/%s", customerID, asset)
}
