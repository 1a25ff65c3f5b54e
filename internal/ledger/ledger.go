// Package ledger is the sole mutator of asset balances. Submission holds
// are taken and released here, and every matched fill settles through
// Transfer, which moves value symmetrically between exactly two customers.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tandogan/brokerage/internal/locks"
	"github.com/tandogan/brokerage/internal/models"
	"github.com/tandogan/brokerage/internal/store"
)

// Ledger guards balance invariants: usable never exceeds total, neither
// goes negative, and the four legs of a settlement are written as one unit.
type Ledger struct {
	balances store.BalanceStore
	locks    *locks.Keyed
	log      zerolog.Logger
}

// New creates a Ledger over the given balance store.
func New(balances store.BalanceStore, logger zerolog.Logger) *Ledger {
	return &Ledger{
		balances: balances,
		locks:    locks.New(),
		log:      logger.With().Str("component", "ledger").Logger(),
	}
}

// Reserve places a hold of qty on the customer's usable balance for asset.
// It fails with ErrInsufficientBalance when no balance record exists or the
// usable size does not cover qty. Total size is untouched.
func (l *Ledger) Reserve(ctx context.Context, customerID int64, asset string, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: reserve quantity must be positive", models.ErrInvalidArgument)
	}

	key := models.BalanceLockKey(customerID, asset)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	balance, err := l.balances.GetBalance(ctx, customerID, asset)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: customer %d holds no %s", models.ErrInsufficientBalance, customerID, asset)
		}
		return err
	}
	if balance.UsableSize.LessThan(qty) {
		return fmt.Errorf("%w: customer %d has %s usable %s, needs %s",
			models.ErrInsufficientBalance, customerID, balance.UsableSize, asset, qty)
	}

	balance.UsableSize = balance.UsableSize.Sub(qty)
	if err := l.balances.SaveBalance(ctx, balance); err != nil {
		return err
	}

	l.log.Debug().
		Int64("customer_id", customerID).
		Str("asset", asset).
		Str("quantity", qty.String()).
		Msg("reserved")
	return nil
}

// Release returns a previously reserved qty to the customer's usable
// balance. The restored usable size is capped at the total size.
func (l *Ledger) Release(ctx context.Context, customerID int64, asset string, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: release quantity must be positive", models.ErrInvalidArgument)
	}

	key := models.BalanceLockKey(customerID, asset)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	balance, err := l.balances.GetBalance(ctx, customerID, asset)
	if err != nil {
		return err
	}

	usable := balance.UsableSize.Add(qty)
	if usable.GreaterThan(balance.Size) {
		usable = balance.Size
	}
	balance.UsableSize = usable
	if err := l.balances.SaveBalance(ctx, balance); err != nil {
		return err
	}

	l.log.Debug().
		Int64("customer_id", customerID).
		Str("asset", asset).
		Str("quantity", qty.String()).
		Msg("released")
	return nil
}

// Transfer settles one fill: quantity units of asset move from seller to
// buyer against totalValue of the quote currency. Both parties must have
// put up their side at submission time, so the buyer's reserved quote
// balance covers totalValue and the seller's reserved asset balance covers
// quantity; either shortfall fails with ErrInsufficientBalance and nothing
// is written. The four legs are persisted through a single SaveBalances
// call and therefore apply atomically:
//
//	seller asset  total -= quantity
//	seller quote  total += totalValue, usable += totalValue
//	buyer  asset  total += quantity,   usable += quantity
//	buyer  quote  total -= totalValue  (usable was taken at reservation)
func (l *Ledger) Transfer(ctx context.Context, buyerID, sellerID int64, asset string, quantity int64, totalValue decimal.Decimal) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: transfer quantity must be positive", models.ErrInvalidArgument)
	}
	if !totalValue.IsPositive() {
		return fmt.Errorf("%w: transfer value must be positive", models.ErrInvalidArgument)
	}
	if buyerID == sellerID {
		return fmt.Errorf("%w: buyer and seller must differ", models.ErrInvalidArgument)
	}
	if asset == models.QuoteAsset {
		return fmt.Errorf("%w: cannot trade the quote asset against itself", models.ErrInvalidArgument)
	}

	release := l.locks.LockAll(
		models.BalanceLockKey(buyerID, models.QuoteAsset),
		models.BalanceLockKey(buyerID, asset),
		models.BalanceLockKey(sellerID, models.QuoteAsset),
		models.BalanceLockKey(sellerID, asset),
	)
	defer release()

	buyerQuote, err := l.balances.GetBalance(ctx, buyerID, models.QuoteAsset)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: buyer %d holds no %s", models.ErrInsufficientBalance, buyerID, models.QuoteAsset)
		}
		return err
	}
	sellerAsset, err := l.balances.GetBalance(ctx, sellerID, asset)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: seller %d holds no %s", models.ErrInsufficientBalance, sellerID, asset)
		}
		return err
	}
	buyerAsset, err := l.balanceOrZero(ctx, buyerID, asset)
	if err != nil {
		return err
	}
	sellerQuote, err := l.balanceOrZero(ctx, sellerID, models.QuoteAsset)
	if err != nil {
		return err
	}

	// The submission hold is what funds each leg; with correct reservation
	// tracking these checks are structural, not races.
	if buyerQuote.Reserved().LessThan(totalValue) {
		return fmt.Errorf("%w: buyer %d reserved %s %s, settlement needs %s",
			models.ErrInsufficientBalance, buyerID, buyerQuote.Reserved(), models.QuoteAsset, totalValue)
	}
	qty := decimal.NewFromInt(quantity)
	if sellerAsset.Reserved().LessThan(qty) {
		return fmt.Errorf("%w: seller %d reserved %s %s, settlement needs %s",
			models.ErrInsufficientBalance, sellerID, sellerAsset.Reserved(), asset, qty)
	}

	sellerAsset.Size = sellerAsset.Size.Sub(qty)
	sellerQuote.Size = sellerQuote.Size.Add(totalValue)
	sellerQuote.UsableSize = sellerQuote.UsableSize.Add(totalValue)
	buyerAsset.Size = buyerAsset.Size.Add(qty)
	buyerAsset.UsableSize = buyerAsset.UsableSize.Add(qty)
	buyerQuote.Size = buyerQuote.Size.Sub(totalValue)

	if err := l.balances.SaveBalances(ctx, []*models.Balance{sellerAsset, sellerQuote, buyerAsset, buyerQuote}); err != nil {
		return err
	}

	l.log.Info().
		Int64("buyer_id", buyerID).
		Int64("seller_id", sellerID).
		Str("asset", asset).
		Int64("quantity", quantity).
		Str("value", totalValue.String()).
		Msg("settled")
	return nil
}

// balanceOrZero loads a balance, defaulting a missing record to zero so the
// receiving side of a transfer is created lazily.
func (l *Ledger) balanceOrZero(ctx context.Context, customerID int64, asset string) (*models.Balance, error) {
	balance, err := l.balances.GetBalance(ctx, customerID, asset)
	if err == nil {
		return balance, nil
	}
	if errors.Is(err, models.ErrNotFound) {
		return &models.Balance{
			CustomerID: customerID,
			Asset:      asset,
			Size:       decimal.Zero,
			UsableSize: decimal.Zero,
		}, nil
	}
	return nil, err
}
