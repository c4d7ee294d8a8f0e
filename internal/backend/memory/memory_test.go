package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"thunes/internal/backend"
	"thunes/internal/core"
)

func seedAccount(t *testing.T, s *Store) core.Account {
	t.Helper()
	account, err := s.AddAccount(context.Background(), core.Account{Name: "checking", Currency: "EUR"})
	if err != nil {
		t.Fatalf("add account: %v", err)
	}
	return account
}

func TestAddTransactionAssignsIDAndKeepsSign(t *testing.T) {
	s := New()
	account := seedAccount(t, s)

	draft, err := core.NewTransaction(account.ID, core.Draft{
		Operation:   core.Expense,
		Amount:      decimal.RequireFromString("45.99"),
		Description: "groceries",
		Date:        time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}

	created, err := s.AddTransaction(context.Background(), draft)
	if err != nil {
		t.Fatalf("add transaction: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected an assigned id")
	}
	if got := created.Amount.String(); got != "-45.99" {
		t.Fatalf("amount = %s, want -45.99", got)
	}

	listed, err := s.GetTransactions(context.Background(), account.ID)
	if err != nil || len(listed) != 1 {
		t.Fatalf("unexpected list: n=%d err=%v", len(listed), err)
	}
}

func TestAddTransactionUnknownAccountFails(t *testing.T) {
	s := New()
	_, err := s.AddTransaction(context.Background(), core.Transaction{
		AccountID:   "missing",
		Amount:      decimal.RequireFromString("-1"),
		Description: "orphan",
	})
	if err == nil {
		t.Fatal("expected error for unknown account")
	}
}

func TestBalanceFiltersPeriodExclusiveAndTag(t *testing.T) {
	s := New()
	account := seedAccount(t, s)
	tags, err := s.AddTags(context.Background(), []string{"needs"})
	if err != nil {
		t.Fatalf("add tags: %v", err)
	}

	add := func(amount string, day int, withTag bool) {
		t.Helper()
		tx := core.Transaction{
			AccountID:   account.ID,
			Amount:      decimal.RequireFromString(amount),
			Description: "entry",
			Date:        time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC),
		}
		if withTag {
			tx.Tags = tags
		}
		if _, err := s.AddTransaction(context.Background(), tx); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	add("-10", 1, true)
	add("-20", 15, true)
	add("300", 15, false)
	add("-40", 31, true)

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	// Both bounds are exclusive: the day-1 and day-31 entries fall outside.
	balance, err := s.GetBalance(context.Background(), account.ID, backend.BalanceOptions{
		PeriodStart: &start,
		PeriodEnd:   &end,
	})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got := balance.String(); got != "280" {
		t.Fatalf("period balance = %s, want 280", got)
	}

	tagged, err := s.GetBalance(context.Background(), account.ID, backend.BalanceOptions{Tag: "needs"})
	if err != nil {
		t.Fatalf("tag balance: %v", err)
	}
	if got := tagged.String(); got != "-70" {
		t.Fatalf("tag balance = %s, want -70", got)
	}
}

func TestAddTagsIsIdempotent(t *testing.T) {
	s := New()
	first, err := s.AddTags(context.Background(), []string{"needs", "wants"})
	if err != nil || len(first) != 2 {
		t.Fatalf("unexpected first: n=%d err=%v", len(first), err)
	}
	second, err := s.AddTags(context.Background(), []string{"needs"})
	if err != nil || len(second) != 1 {
		t.Fatalf("unexpected second: n=%d err=%v", len(second), err)
	}
	if second[0].ID != first[0].ID {
		t.Fatalf("id changed on re-create: %s vs %s", second[0].ID, first[0].ID)
	}
}

func TestGetSettingsListsKnownTags(t *testing.T) {
	s := New()
	if _, err := s.AddTags(context.Background(), []string{"wants", "needs"}); err != nil {
		t.Fatalf("add tags: %v", err)
	}
	settings, err := s.GetSettings(context.Background())
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if len(settings.Tags) != 2 || settings.Tags[0].Label != "needs" {
		t.Fatalf("unexpected tags: %+v", settings.Tags)
	}
}
