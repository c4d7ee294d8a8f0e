package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"thunes/internal/backend"
	"thunes/internal/core"
	"thunes/internal/storage"
)

func newService(t *testing.T) *LedgerService {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "thunes.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	service := NewLedgerService(repo, nil)
	t.Cleanup(func() { service.Close() })
	return service
}

func TestAddTransactionPersistsWithoutBroker(t *testing.T) {
	service := newService(t)
	ctx := context.Background()

	account, err := service.AddAccount(ctx, core.Account{Name: "checking", Currency: "EUR"})
	if err != nil {
		t.Fatal(err)
	}

	tags, err := service.AddTags(ctx, []string{"needs"})
	if err != nil {
		t.Fatal(err)
	}

	tx, err := service.AddTransaction(ctx, core.Transaction{
		AccountID:   account.ID,
		Amount:      decimal.RequireFromString("-45.99"),
		Description: "groceries",
		Date:        time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		Tags:        tags,
	})
	if err != nil {
		t.Fatal(err)
	}
	if tx.ID == "" {
		t.Fatal("expected transaction id to be assigned")
	}

	listed, err := service.GetTransactions(ctx, account.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(listed))
	}
	if len(listed[0].Tags) != 1 || listed[0].Tags[0].Label != "needs" {
		t.Fatalf("tags = %+v", listed[0].Tags)
	}

	balance, err := service.GetBalance(ctx, account.ID, backend.BalanceOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !balance.Equal(decimal.RequireFromString("-45.99")) {
		t.Fatalf("balance = %s", balance)
	}
}

func TestUpdateTransactionDelegates(t *testing.T) {
	service := newService(t)
	ctx := context.Background()

	account, err := service.AddAccount(ctx, core.Account{Name: "checking", Currency: "EUR"})
	if err != nil {
		t.Fatal(err)
	}

	tx, err := service.AddTransaction(ctx, core.Transaction{
		AccountID:   account.ID,
		Amount:      decimal.RequireFromString("-10"),
		Description: "coffee",
		Date:        time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	tx.Description = "espresso"
	updated, err := service.UpdateTransaction(ctx, tx)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Description != "espresso" {
		t.Fatalf("description = %q", updated.Description)
	}
}
