// Package matching pairs a triggering order with resting counter-orders
// and settles each fill through the ledger. Matching is always externally
// triggered; the engine never retries on its own.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tandogan/brokerage/internal/ledger"
	"github.com/tandogan/brokerage/internal/locks"
	"github.com/tandogan/brokerage/internal/models"
	"github.com/tandogan/brokerage/internal/store"
)

// Engine drives fills for one order at a time. It shares the per-order lock
// table with the lifecycle service and acquires order pairs in ascending id
// order, so concurrent matches and cancels cannot deadlock.
type Engine struct {
	orders store.OrderStore
	ledger *ledger.Ledger
	locks  *locks.Keyed
	log    zerolog.Logger
}

// New creates a matching engine. orderLocks must be the same table handed
// to the lifecycle service.
func New(orders store.OrderStore, ledger *ledger.Ledger, orderLocks *locks.Keyed, logger zerolog.Logger) *Engine {
	return &Engine{
		orders: orders,
		ledger: ledger,
		locks:  orderLocks,
		log:    logger.With().Str("component", "matching").Logger(),
	}
}

// Match loads the order and fills it against eligible counter-orders until
// it is fully matched or no candidate remains. It fails with ErrNotFound
// when the order does not exist and ErrInvalidState when it is not PENDING;
// neither performs any mutation. The returned status is the order's final
// status, with one Execution per settled fill.
func (e *Engine) Match(ctx context.Context, orderID int64) (models.OrderStatus, []models.Execution, error) {
	key := models.OrderLockKey(orderID)

	e.locks.Lock(key)
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		e.locks.Unlock(key)
		return "", nil, err
	}
	if order.Status != models.StatusPending {
		status := order.Status
		e.locks.Unlock(key)
		return status, nil, fmt.Errorf("%w: order %d is %s", models.ErrInvalidState, orderID, status)
	}

	candidates, err := e.orders.OrdersBySideAndStatus(ctx, order.Side.Opposite(), models.StatusPending)
	if err != nil {
		e.locks.Unlock(key)
		return order.Status, nil, err
	}
	eligible := eligibleCounterOrders(order, candidates)
	e.locks.Unlock(key)

	// The trigger lock is dropped between fills so each iteration can take
	// the order pair in ascending id order; both orders are re-read and
	// re-checked once the pair is held.
	var execs []models.Execution
	for _, candidate := range eligible {
		release := e.locks.LockAll(key, models.OrderLockKey(candidate.ID))

		order, err = e.orders.GetOrder(ctx, orderID)
		if err != nil {
			release()
			return "", execs, err
		}
		if order.Status != models.StatusPending || order.Remaining <= 0 {
			release()
			break
		}
		counter, err := e.orders.GetOrder(ctx, candidate.ID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				release()
				continue
			}
			release()
			return order.Status, execs, err
		}
		if !canTrade(order, counter) {
			release()
			continue
		}

		exec, err := e.fill(ctx, order, counter)
		if err != nil {
			release()
			// A shortfall or missing balance is local to this counter-order
			// (it may have been drained by a concurrent settlement); move on
			// to the next candidate. Anything else aborts the match.
			if errors.Is(err, models.ErrInsufficientBalance) || errors.Is(err, models.ErrNotFound) {
				e.log.Warn().Err(err).
					Int64("order_id", orderID).
					Int64("counter_order_id", counter.ID).
					Msg("skipping counter-order")
				continue
			}
			return order.Status, execs, err
		}
		execs = append(execs, *exec)
		release()

		if order.Remaining <= 0 {
			break
		}
	}

	e.log.Info().
		Int64("order_id", orderID).
		Str("status", string(order.Status)).
		Int64("remaining", order.Remaining).
		Int("executions", len(execs)).
		Msg("matching completed")
	return order.Status, execs, nil
}

// fill executes one trade between order and counter: settles through the
// ledger first, then decrements both remainders and persists them. The
// orders are only mutated after settlement succeeds, so a failed transfer
// leaves them untouched. Balances and orders sit behind separate store
// calls; a store failure after settlement leaves the fill reflected in
// balances only and surfaces as an error for reconciliation.
func (e *Engine) fill(ctx context.Context, order, counter *models.Order) (*models.Execution, error) {
	size := order.Remaining
	if counter.Remaining < size {
		size = counter.Remaining
	}
	// The resting order's price is the execution price.
	price := counter.Price
	value := price.Mul(decimal.NewFromInt(size))

	buyerID, sellerID := order.CustomerID, counter.CustomerID
	if order.Side == models.SideSell {
		buyerID, sellerID = counter.CustomerID, order.CustomerID
	}
	if err := e.ledger.Transfer(ctx, buyerID, sellerID, order.Asset, size, value); err != nil {
		return nil, err
	}

	order.Remaining -= size
	counter.Remaining -= size
	if order.Remaining <= 0 {
		order.Status = models.StatusMatched
	}
	if counter.Remaining <= 0 {
		counter.Status = models.StatusMatched
	}
	if err := e.orders.SaveOrder(ctx, counter); err != nil {
		return nil, err
	}
	if err := e.orders.SaveOrder(ctx, order); err != nil {
		return nil, err
	}

	exec := &models.Execution{
		ID:             uuid.New(),
		OrderID:        order.ID,
		CounterOrderID: counter.ID,
		Size:           size,
		Price:          price,
		Value:          value,
		ExecutedAt:     time.Now().UTC(),
	}
	e.log.Info().
		Int64("order_id", order.ID).
		Int64("counter_order_id", counter.ID).
		Int64("size", size).
		Str("price", price.String()).
		Str("value", value.String()).
		Msg("orders matched")
	return exec, nil
}

// eligibleCounterOrders filters candidates down to resting orders the
// trigger can trade with and sorts them by arrival time (price-time
// priority within the single price tier).
func eligibleCounterOrders(order *models.Order, candidates []models.Order) []models.Order {
	var eligible []models.Order
	for _, c := range candidates {
		cp := c
		if canTrade(order, &cp) {
			eligible = append(eligible, c)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible
}

// canTrade reports whether two orders can trade: opposite sides, both
// PENDING with size left, same asset, different customers, and exactly
// equal prices. Cross-spread matching is deliberately unsupported.
func canTrade(order, counter *models.Order) bool {
	return counter.Status == models.StatusPending &&
		counter.Remaining > 0 &&
		counter.Side == order.Side.Opposite() &&
		counter.Asset == order.Asset &&
		counter.CustomerID != order.CustomerID &&
		counter.Price.Equal(order.Price)
}
