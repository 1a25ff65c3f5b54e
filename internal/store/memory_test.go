package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tandogan/brokerage/internal/models"
)

func TestMemory_SaveOrder_AssignsIDAndTimestamps(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	first := &models.Order{
		CustomerID: 1,
		Asset:      "THYAO",
		Side:       models.SideBuy,
		Size:       10,
		Remaining:  10,
		Price:      decimal.NewFromInt(100),
		Status:     models.StatusPending,
	}
	if err := mem.SaveOrder(ctx, first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID == 0 {
		t.Error("expected assigned id")
	}
	if first.CreatedAt.IsZero() || first.UpdatedAt.IsZero() {
		t.Error("expected assigned timestamps")
	}

	second := &models.Order{
		CustomerID: 2,
		Asset:      "THYAO",
		Side:       models.SideSell,
		Size:       5,
		Remaining:  5,
		Price:      decimal.NewFromInt(100),
		Status:     models.StatusPending,
	}
	if err := mem.SaveOrder(ctx, second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID <= first.ID {
		t.Errorf("ids must be ascending: %d then %d", first.ID, second.ID)
	}
}

func TestMemory_SaveOrder_UpdateUnknownID(t *testing.T) {
	mem := NewMemory()

	err := mem.SaveOrder(context.Background(), &models.Order{ID: 42, Status: models.StatusPending})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_GetOrder_CopiesRecords(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	order := &models.Order{
		CustomerID: 1,
		Asset:      "THYAO",
		Side:       models.SideBuy,
		Size:       10,
		Remaining:  10,
		Price:      decimal.NewFromInt(100),
		Status:     models.StatusPending,
	}
	if err := mem.SaveOrder(ctx, order); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := mem.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded.Remaining = 1

	again, err := mem.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Remaining != 10 {
		t.Errorf("mutation of a loaded copy leaked into the store: remaining %d", again.Remaining)
	}
}

func TestMemory_OrdersBySideAndStatus(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	seed := []struct {
		side   models.Side
		status models.OrderStatus
	}{
		{models.SideBuy, models.StatusPending},
		{models.SideSell, models.StatusPending},
		{models.SideSell, models.StatusMatched},
		{models.SideSell, models.StatusPending},
	}
	for _, s := range seed {
		err := mem.SaveOrder(ctx, &models.Order{
			CustomerID: 1,
			Asset:      "THYAO",
			Side:       s.side,
			Size:       1,
			Remaining:  1,
			Price:      decimal.NewFromInt(100),
			Status:     s.status,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	pendingSells, err := mem.OrdersBySideAndStatus(ctx, models.SideSell, models.StatusPending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pendingSells) != 2 {
		t.Fatalf("expected 2 pending sells, got %d", len(pendingSells))
	}
	if pendingSells[0].ID > pendingSells[1].ID {
		t.Error("expected scan in ascending id order")
	}
}

func TestMemory_Balances(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	if _, err := mem.GetBalance(ctx, 1, "THYAO"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	err := mem.SaveBalances(ctx, []*models.Balance{
		{CustomerID: 1, Asset: "THYAO", Size: decimal.NewFromInt(10), UsableSize: decimal.NewFromInt(10)},
		{CustomerID: 1, Asset: models.QuoteAsset, Size: decimal.NewFromInt(500), UsableSize: decimal.NewFromInt(200)},
		{CustomerID: 2, Asset: "THYAO", Size: decimal.NewFromInt(3), UsableSize: decimal.NewFromInt(3)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	balance, err := mem.GetBalance(ctx, 1, models.QuoteAsset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !balance.UsableSize.Equal(decimal.NewFromInt(200)) {
		t.Errorf("expected usable 200, got %s", balance.UsableSize)
	}

	mine, err := mem.BalancesByCustomer(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("expected 2 balances for customer 1, got %d", len(mine))
	}
}

func TestMemory_Customers(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	created, err := mem.CreateCustomer(ctx, "alice", "hash", models.RoleCustomer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID == 0 {
		t.Error("expected assigned id")
	}
	if created.Role != models.RoleCustomer {
		t.Errorf("expected CUSTOMER role, got %s", created.Role)
	}

	if _, err := mem.CreateCustomer(ctx, "alice", "other", models.RoleCustomer); !errors.Is(err, models.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for duplicate username, got %v", err)
	}

	byName, err := mem.CustomerByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if byName.ID != created.ID {
		t.Errorf("expected id %d, got %d", created.ID, byName.ID)
	}

	if _, err := mem.GetCustomer(ctx, 999); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
