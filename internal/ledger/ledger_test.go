package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tandogan/brokerage/internal/models"
	"github.com/tandogan/brokerage/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return New(mem, zerolog.Nop()), mem
}

func setBalance(t *testing.T, mem *store.Memory, customerID int64, asset string, size, usable int64) {
	t.Helper()
	err := mem.SaveBalance(context.Background(), &models.Balance{
		CustomerID: customerID,
		Asset:      asset,
		Size:       decimal.NewFromInt(size),
		UsableSize: decimal.NewFromInt(usable),
	})
	if err != nil {
		t.Fatalf("failed to seed balance: %v", err)
	}
}

func getBalance(t *testing.T, mem *store.Memory, customerID int64, asset string) *models.Balance {
	t.Helper()
	balance, err := mem.GetBalance(context.Background(), customerID, asset)
	if err != nil {
		t.Fatalf("failed to get balance %d/%s: %v", customerID, asset, err)
	}
	return balance
}

func TestLedger_Reserve(t *testing.T) {
	tests := []struct {
		name         string
		usable       int64
		qty          int64
		expectErr    error
		expectUsable int64
	}{
		{
			name:         "Success",
			usable:       1000,
			qty:          400,
			expectUsable: 600,
		},
		{
			name:         "ExactBalance",
			usable:       400,
			qty:          400,
			expectUsable: 0,
		},
		{
			name:      "Insufficient",
			usable:    100,
			qty:       400,
			expectErr: models.ErrInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, mem := newTestLedger(t)
			setBalance(t, mem, 1, models.QuoteAsset, 1000, tt.usable)

			err := ledger.Reserve(context.Background(), 1, models.QuoteAsset, decimal.NewFromInt(tt.qty))
			if tt.expectErr != nil {
				if !errors.Is(err, tt.expectErr) {
					t.Fatalf("expected %v, got %v", tt.expectErr, err)
				}
				// A failed reservation must not touch the balance.
				balance := getBalance(t, mem, 1, models.QuoteAsset)
				if !balance.UsableSize.Equal(decimal.NewFromInt(tt.usable)) {
					t.Errorf("usable changed on failed reserve: %s", balance.UsableSize)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			balance := getBalance(t, mem, 1, models.QuoteAsset)
			if !balance.UsableSize.Equal(decimal.NewFromInt(tt.expectUsable)) {
				t.Errorf("expected usable %d, got %s", tt.expectUsable, balance.UsableSize)
			}
			if !balance.Size.Equal(decimal.NewFromInt(1000)) {
				t.Errorf("reserve must not touch total size, got %s", balance.Size)
			}
		})
	}
}

func TestLedger_Reserve_NoBalanceRecord(t *testing.T) {
	ledger, _ := newTestLedger(t)

	err := ledger.Reserve(context.Background(), 1, "THYAO", decimal.NewFromInt(10))
	if !errors.Is(err, models.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance for missing record, got %v", err)
	}
}

func TestLedger_Release(t *testing.T) {
	ledger, mem := newTestLedger(t)
	setBalance(t, mem, 1, models.QuoteAsset, 1000, 600)

	if err := ledger.Release(context.Background(), 1, models.QuoteAsset, decimal.NewFromInt(400)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	balance := getBalance(t, mem, 1, models.QuoteAsset)
	if !balance.UsableSize.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected usable 1000, got %s", balance.UsableSize)
	}
}

func TestLedger_Release_CappedAtTotal(t *testing.T) {
	ledger, mem := newTestLedger(t)
	setBalance(t, mem, 1, models.QuoteAsset, 1000, 900)

	if err := ledger.Release(context.Background(), 1, models.QuoteAsset, decimal.NewFromInt(500)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	balance := getBalance(t, mem, 1, models.QuoteAsset)
	if !balance.UsableSize.Equal(balance.Size) {
		t.Errorf("usable must not exceed total, got %s of %s", balance.UsableSize, balance.Size)
	}
}

func TestLedger_Transfer(t *testing.T) {
	ledger, mem := newTestLedger(t)

	// Buyer reserved 400 TRY (usable already decremented), seller reserved
	// 4 THYAO.
	setBalance(t, mem, 1, models.QuoteAsset, 1000, 600)
	setBalance(t, mem, 2, "THYAO", 10, 6)

	err := ledger.Transfer(context.Background(), 1, 2, "THYAO", 4, decimal.NewFromInt(400))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	buyerQuote := getBalance(t, mem, 1, models.QuoteAsset)
	buyerAsset := getBalance(t, mem, 1, "THYAO")
	sellerQuote := getBalance(t, mem, 2, models.QuoteAsset)
	sellerAsset := getBalance(t, mem, 2, "THYAO")

	if !buyerQuote.Size.Equal(decimal.NewFromInt(600)) || !buyerQuote.UsableSize.Equal(decimal.NewFromInt(600)) {
		t.Errorf("buyer quote: got total %s usable %s, want 600/600", buyerQuote.Size, buyerQuote.UsableSize)
	}
	if !buyerAsset.Size.Equal(decimal.NewFromInt(4)) || !buyerAsset.UsableSize.Equal(decimal.NewFromInt(4)) {
		t.Errorf("buyer asset: got total %s usable %s, want 4/4", buyerAsset.Size, buyerAsset.UsableSize)
	}
	if !sellerQuote.Size.Equal(decimal.NewFromInt(400)) || !sellerQuote.UsableSize.Equal(decimal.NewFromInt(400)) {
		t.Errorf("seller quote: got total %s usable %s, want 400/400", sellerQuote.Size, sellerQuote.UsableSize)
	}
	if !sellerAsset.Size.Equal(decimal.NewFromInt(6)) || !sellerAsset.UsableSize.Equal(decimal.NewFromInt(6)) {
		t.Errorf("seller asset: got total %s usable %s, want 6/6", sellerAsset.Size, sellerAsset.UsableSize)
	}
}

func TestLedger_Transfer_ConservesValue(t *testing.T) {
	ledger, mem := newTestLedger(t)
	setBalance(t, mem, 1, models.QuoteAsset, 5000, 3000)
	setBalance(t, mem, 2, "THYAO", 20, 10)
	setBalance(t, mem, 2, models.QuoteAsset, 100, 100)
	setBalance(t, mem, 1, "THYAO", 3, 3)

	totalQuote := decimal.NewFromInt(5100)
	totalAsset := decimal.NewFromInt(23)

	if err := ledger.Transfer(context.Background(), 1, 2, "THYAO", 7, decimal.NewFromInt(1400)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gotQuote := getBalance(t, mem, 1, models.QuoteAsset).Size.Add(getBalance(t, mem, 2, models.QuoteAsset).Size)
	gotAsset := getBalance(t, mem, 1, "THYAO").Size.Add(getBalance(t, mem, 2, "THYAO").Size)
	if !gotQuote.Equal(totalQuote) {
		t.Errorf("quote total not conserved: %s != %s", gotQuote, totalQuote)
	}
	if !gotAsset.Equal(totalAsset) {
		t.Errorf("asset total not conserved: %s != %s", gotAsset, totalAsset)
	}
}

func TestLedger_Transfer_LazilyCreatesReceivingSide(t *testing.T) {
	ledger, mem := newTestLedger(t)

	// Neither the buyer's asset record nor the seller's quote record exists.
	setBalance(t, mem, 1, models.QuoteAsset, 1000, 0)
	setBalance(t, mem, 2, "THYAO", 10, 0)

	if err := ledger.Transfer(context.Background(), 1, 2, "THYAO", 10, decimal.NewFromInt(1000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	buyerAsset := getBalance(t, mem, 1, "THYAO")
	if !buyerAsset.Size.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected buyer asset 10, got %s", buyerAsset.Size)
	}
	sellerQuote := getBalance(t, mem, 2, models.QuoteAsset)
	if !sellerQuote.Size.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected seller quote 1000, got %s", sellerQuote.Size)
	}
}

func TestLedger_Transfer_Failures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, mem *store.Memory)
		quantity  int64
		value     int64
		expectErr error
	}{
		{
			name: "BuyerReservationTooSmall",
			setup: func(t *testing.T, mem *store.Memory) {
				// Reserved portion is only 100, settlement needs 400.
				setBalance(t, mem, 1, models.QuoteAsset, 1000, 900)
				setBalance(t, mem, 2, "THYAO", 10, 6)
			},
			quantity:  4,
			value:     400,
			expectErr: models.ErrInsufficientBalance,
		},
		{
			name: "SellerReservationTooSmall",
			setup: func(t *testing.T, mem *store.Memory) {
				setBalance(t, mem, 1, models.QuoteAsset, 1000, 600)
				setBalance(t, mem, 2, "THYAO", 10, 9)
			},
			quantity:  4,
			value:     400,
			expectErr: models.ErrInsufficientBalance,
		},
		{
			name: "BuyerHoldsNoQuote",
			setup: func(t *testing.T, mem *store.Memory) {
				setBalance(t, mem, 2, "THYAO", 10, 6)
			},
			quantity:  4,
			value:     400,
			expectErr: models.ErrInsufficientBalance,
		},
		{
			name: "NonPositiveQuantity",
			setup: func(t *testing.T, mem *store.Memory) {
				setBalance(t, mem, 1, models.QuoteAsset, 1000, 600)
				setBalance(t, mem, 2, "THYAO", 10, 6)
			},
			quantity:  0,
			value:     400,
			expectErr: models.ErrInvalidArgument,
		},
		{
			name: "NonPositiveValue",
			setup: func(t *testing.T, mem *store.Memory) {
				setBalance(t, mem, 1, models.QuoteAsset, 1000, 600)
				setBalance(t, mem, 2, "THYAO", 10, 6)
			},
			quantity:  4,
			value:     0,
			expectErr: models.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, mem := newTestLedger(t)
			tt.setup(t, mem)

			before, _ := mem.BalancesByCustomer(context.Background(), 1)

			err := ledger.Transfer(context.Background(), 1, 2, "THYAO", tt.quantity, decimal.NewFromInt(tt.value))
			if !errors.Is(err, tt.expectErr) {
				t.Fatalf("expected %v, got %v", tt.expectErr, err)
			}

			// No partial application: the buyer's records are untouched.
			after, _ := mem.BalancesByCustomer(context.Background(), 1)
			if len(before) != len(after) {
				t.Fatalf("failed transfer created balance records")
			}
			for i := range before {
				if !before[i].Size.Equal(after[i].Size) || !before[i].UsableSize.Equal(after[i].UsableSize) {
					t.Errorf("balance %s mutated by failed transfer", before[i].Asset)
				}
			}
		})
	}
}

func TestLedger_Transfer_SelfTradeRejected(t *testing.T) {
	ledger, mem := newTestLedger(t)
	setBalance(t, mem, 1, models.QuoteAsset, 1000, 600)
	setBalance(t, mem, 1, "THYAO", 10, 6)

	err := ledger.Transfer(context.Background(), 1, 1, "THYAO", 4, decimal.NewFromInt(400))
	if !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
