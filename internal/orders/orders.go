// Package orders governs the order lifecycle: admission of new orders with
// their balance reservation, and cancellation with release of the hold.
package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tandogan/brokerage/internal/ledger"
	"github.com/tandogan/brokerage/internal/locks"
	"github.com/tandogan/brokerage/internal/models"
	"github.com/tandogan/brokerage/internal/store"
)

// Service validates and admits new orders and enforces legal state
// transitions. It shares the per-order lock table with the matching engine
// so cancellation and matching of the same order never interleave.
type Service struct {
	orders store.OrderStore
	ledger *ledger.Ledger
	locks  *locks.Keyed
	log    zerolog.Logger
}

// NewService creates the lifecycle service. orderLocks must be the same
// table handed to the matching engine.
func NewService(orders store.OrderStore, ledger *ledger.Ledger, orderLocks *locks.Keyed, logger zerolog.Logger) *Service {
	return &Service{
		orders: orders,
		ledger: ledger,
		locks:  orderLocks,
		log:    logger.With().Str("component", "orders").Logger(),
	}
}

// Submit admits a new limit order. BUY orders reserve price × size of the
// quote currency, SELL orders reserve size units of the asset. The hold is
// taken before the order is persisted, so no PENDING order ever exists
// without its reservation; if persisting fails the hold is released again.
func (s *Service) Submit(ctx context.Context, customerID int64, asset string, side models.Side, size int64, price decimal.Decimal) (*models.Order, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("%w: unknown order side %q", models.ErrInvalidArgument, side)
	}
	if asset == "" || asset == models.QuoteAsset {
		return nil, fmt.Errorf("%w: invalid asset %q", models.ErrInvalidArgument, asset)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive", models.ErrInvalidArgument)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", models.ErrInvalidArgument)
	}

	order := &models.Order{
		CustomerID: customerID,
		Asset:      asset,
		Side:       side,
		Size:       size,
		Remaining:  size,
		Price:      price,
		Status:     models.StatusPending,
	}

	hold := order.RemainingHold()
	if err := s.ledger.Reserve(ctx, customerID, order.ReservationAsset(), hold); err != nil {
		return nil, err
	}
	if err := s.orders.SaveOrder(ctx, order); err != nil {
		if relErr := s.ledger.Release(ctx, customerID, order.ReservationAsset(), hold); relErr != nil {
			s.log.Error().Err(relErr).
				Int64("customer_id", customerID).
				Msg("failed to release hold after save failure")
		}
		return nil, err
	}

	s.log.Info().
		Int64("order_id", order.ID).
		Int64("customer_id", customerID).
		Str("asset", asset).
		Str("side", string(side)).
		Int64("size", size).
		Str("price", price.String()).
		Msg("order submitted")
	return order, nil
}

// Cancel flips a PENDING order owned by customerID to CANCELED and restores
// the hold still backing its unfilled remainder. It returns false, without
// error, when the order does not exist, belongs to someone else, or is not
// PENDING; the error slot carries store failures. A true return with a
// non-nil error means the cancellation persisted but the hold could not be
// released and needs reconciliation.
func (s *Service) Cancel(ctx context.Context, orderID, customerID int64) (bool, error) {
	key := models.OrderLockKey(orderID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if order.CustomerID != customerID || order.Status != models.StatusPending {
		return false, nil
	}

	hold := order.RemainingHold()
	order.Status = models.StatusCanceled
	if err := s.orders.SaveOrder(ctx, order); err != nil {
		return false, err
	}
	if hold.IsPositive() {
		if err := s.ledger.Release(ctx, customerID, order.ReservationAsset(), hold); err != nil {
			s.log.Error().Err(err).
				Int64("order_id", orderID).
				Int64("customer_id", customerID).
				Str("hold", hold.String()).
				Msg("order canceled but hold release failed")
			return true, err
		}
	}

	s.log.Info().
		Int64("order_id", orderID).
		Int64("customer_id", customerID).
		Str("released", hold.String()).
		Msg("order canceled")
	return true, nil
}
