package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newOrder(userID string) domain.Order {
	return domain.Order{
		UserID: userID,
		Status: domain.OrderStatusPaid,
		Items: []domain.OrderItem{
			{ProductID: "product-1", ProductName: "Laptop", Quantity: 5, UnitPrice: decimal.NewFromInt(100)},
		},
		TotalPaid:       decimal.NewFromInt(500),
		ShippingAddress: "Main st. 1",
	}
}

func TestOrderRepository_SaveAssignsID(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	saved, err := repo.Save(ctx, newOrder("user-1"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected generated id")
	}
	if saved.Version != 1 {
		t.Fatalf("expected version 1, got %d", saved.Version)
	}

	stored, err := repo.Get(ctx, saved.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != saved.ID {
		t.Fatalf("expected id %s, got %s", saved.ID, stored.ID)
	}
}

func TestOrderRepository_ListByUser(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	first := newOrder("user-1")
	first.CreatedAt = time.Now().Add(-time.Hour)
	older, err := repo.Save(ctx, first)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	newer, err := repo.Save(ctx, newOrder("user-1"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := repo.Save(ctx, newOrder("user-2")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	orders, err := repo.ListByUser(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != newer.ID || orders[1].ID != older.ID {
		t.Fatal("expected newest first")
	}

	all, err := repo.ListAll(ctx, 0)
	if err != nil {
		t.Fatalf("list all failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(all))
	}

	limited, _ := repo.ListAll(ctx, 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestOrderRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	stored, err := repo.Save(ctx, newOrder("user-1"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	stored.Status = domain.OrderStatusShipped
	updated, err := repo.Save(ctx, stored)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", updated.Status)
	}
	if updated.Version != stored.Version+1 {
		t.Fatalf("expected version increment, got %d", updated.Version)
	}
	if updated.UpdatedAt.Before(stored.UpdatedAt) {
		t.Fatal("expected updated_at to move forward")
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	stored, err := repo.Save(ctx, newOrder("user-1"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	stored.Version = 42
	if _, err := repo.Save(ctx, stored); !domain.IsVersionConflict(err) {
		t.Fatalf("expected version conflict error, got %v", err)
	}
}

func TestOrderRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	stored, err := repo.Save(ctx, newOrder("user-1"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := repo.Delete(ctx, stored.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.Get(ctx, stored.ID); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.Delete(ctx, stored.ID); !domain.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestOrderRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	stored, err := repo.Save(ctx, newOrder("user-1"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	stored.Items[0].ProductName = "mutated"

	reloaded, _ := repo.Get(ctx, stored.ID)
	if reloaded.Items[0].ProductName != "Laptop" {
		t.Fatal("repository must not share item slices with callers")
	}
}

func TestOrderRepository_CreateIsIdempotentOnID(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	order := newOrder("user-1")
	order.ID = "order-1"
	order.PaymentRef = "TRX-1"

	first, err := repo.Create(ctx, order)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if first.ID != "order-1" || first.Version != 1 {
		t.Fatalf("unexpected order %s v%d", first.ID, first.Version)
	}

	order.ShippingAddress = "Other st. 2"
	again, err := repo.Create(ctx, order)
	if err != nil {
		t.Fatalf("repeated create failed: %v", err)
	}
	if again.ShippingAddress != "Main st. 1" {
		t.Fatalf("repeated create must return stored order, got %q", again.ShippingAddress)
	}

	all, err := repo.ListAll(ctx, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 order, got %d", len(all))
	}
}
