package grid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"thunes/internal/backend"
	"thunes/internal/backend/memory"
	"thunes/internal/core"
	"thunes/internal/ledger"
	"thunes/internal/notify"
	"thunes/internal/tags"
)

type trackingClient struct {
	backend.Client

	mu          sync.Mutex
	addTagCalls int
	failUpdate  bool
}

func (c *trackingClient) AddTags(ctx context.Context, labels []string) ([]core.Tag, error) {
	c.mu.Lock()
	c.addTagCalls++
	c.mu.Unlock()
	return c.Client.AddTags(ctx, labels)
}

func (c *trackingClient) UpdateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	c.mu.Lock()
	fail := c.failUpdate
	c.mu.Unlock()
	if fail {
		return core.Transaction{}, errors.New("backend rejected update")
	}
	return c.Client.UpdateTransaction(ctx, tx)
}

func newEditorFixture(t *testing.T) (*Editor, *trackingClient, *ledger.Store, core.Transaction) {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()
	account, err := mem.AddAccount(ctx, core.Account{Name: "checking", Currency: "EUR"})
	if err != nil {
		t.Fatal(err)
	}
	client := &trackingClient{Client: mem}
	store := ledger.NewStore(account, client, &notify.Recorder{})
	t.Cleanup(store.Close)

	tx, err := store.Create(ctx, core.Draft{
		Operation:   core.Expense,
		Amount:      decimal.RequireFromString("10"),
		Description: "coffee",
		Date:        time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	editor := NewEditor(store, tags.NewRegistry(nil))
	return editor, client, store, tx
}

func TestEditLifecycle(t *testing.T) {
	editor, _, store, tx := newEditorFixture(t)

	if editor.State(tx.ID, FieldDescription) != Viewing {
		t.Fatal("cells start in viewing")
	}
	if err := editor.Begin(tx.ID, FieldDescription); err != nil {
		t.Fatal(err)
	}
	if editor.State(tx.ID, FieldDescription) != Editing {
		t.Fatal("Begin must enter editing")
	}

	// A second session on the same row-field pair is refused.
	if err := editor.Begin(tx.ID, FieldDescription); !errors.Is(err, ErrCellBusy) {
		t.Fatalf("expected ErrCellBusy, got %v", err)
	}
	// A different field of the same row edits independently.
	if err := editor.Begin(tx.ID, FieldAmount); err != nil {
		t.Fatal(err)
	}

	if err := editor.CommitDescription(context.Background(), tx.ID, "flat white"); err != nil {
		t.Fatal(err)
	}
	store.Flush()
	if editor.State(tx.ID, FieldDescription) != Viewing {
		t.Fatal("commit must return the cell to viewing")
	}
	updated, _ := store.Transaction(tx.ID)
	if updated.Description != "flat white" {
		t.Fatalf("description = %q", updated.Description)
	}
}

func TestCancelHasNoSideEffects(t *testing.T) {
	editor, _, store, tx := newEditorFixture(t)

	if err := editor.Begin(tx.ID, FieldAmount); err != nil {
		t.Fatal(err)
	}
	editor.Cancel(tx.ID, FieldAmount)

	if editor.State(tx.ID, FieldAmount) != Viewing {
		t.Fatal("cancel must return to viewing")
	}
	unchanged, _ := store.Transaction(tx.ID)
	if !unchanged.Amount.Equal(tx.Amount) {
		t.Fatal("cancel must not touch the row")
	}
	// Commit without an open session is refused.
	if err := editor.CommitAmount(context.Background(), tx.ID, "-5"); !errors.Is(err, ErrNotEditing) {
		t.Fatalf("expected ErrNotEditing, got %v", err)
	}
}

func TestCommitAmountValidatesCellText(t *testing.T) {
	editor, _, store, tx := newEditorFixture(t)

	if err := editor.Begin(tx.ID, FieldAmount); err != nil {
		t.Fatal(err)
	}
	if err := editor.CommitAmount(context.Background(), tx.ID, "12.5.6"); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	// The failed parse leaves the session open for correction.
	if editor.State(tx.ID, FieldAmount) != Editing {
		t.Fatal("invalid text must not consume the edit session")
	}

	if err := editor.CommitAmount(context.Background(), tx.ID, "-12,50"); err != nil {
		t.Fatal(err)
	}
	store.Flush()
	updated, _ := store.Transaction(tx.ID)
	if !updated.Amount.Equal(decimal.RequireFromString("-12.5")) {
		t.Fatalf("amount = %s, want -12.5", updated.Amount)
	}
}

func TestCommitTagsCreatesUnknownLabelsFirst(t *testing.T) {
	editor, client, store, tx := newEditorFixture(t)

	if err := editor.Begin(tx.ID, FieldTags); err != nil {
		t.Fatal(err)
	}
	if err := editor.CommitTags(context.Background(), tx.ID, []string{"needs", "Groceries"}); err != nil {
		t.Fatal(err)
	}
	store.Flush()

	if client.addTagCalls != 1 {
		t.Fatalf("expected one tag-creation call, got %d", client.addTagCalls)
	}
	updated, _ := store.Transaction(tx.ID)
	if len(updated.Tags) != 2 {
		t.Fatalf("expected 2 tags, got %+v", updated.Tags)
	}
	for _, tag := range updated.Tags {
		if tag.ID == "" {
			t.Fatalf("committed tag without id: %+v", tag)
		}
	}

	// Re-committing the same labels resolves from the registry without
	// another creation call.
	if err := editor.Begin(tx.ID, FieldTags); err != nil {
		t.Fatal(err)
	}
	if err := editor.CommitTags(context.Background(), tx.ID, []string{"needs", "Groceries"}); err != nil {
		t.Fatal(err)
	}
	store.Flush()
	if client.addTagCalls != 1 {
		t.Fatalf("known labels must not be recreated, calls=%d", client.addTagCalls)
	}
}

func TestCommitFailureIsScopedToTheRow(t *testing.T) {
	editor, client, store, tx := newEditorFixture(t)
	other, err := store.Create(context.Background(), core.Draft{
		Operation:   core.Income,
		Amount:      decimal.RequireFromString("100"),
		Description: "salary",
		Date:        time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	client.failUpdate = true
	if err := editor.Begin(tx.ID, FieldDescription); err != nil {
		t.Fatal(err)
	}
	if err := editor.CommitDescription(context.Background(), tx.ID, "doomed"); err != nil {
		t.Fatal(err) // the optimistic commit itself succeeds; the failure lands async
	}
	store.Flush()

	// The failed row reverts and carries the failed write state.
	reverted, _ := store.Transaction(tx.ID)
	if reverted.Description != "coffee" {
		t.Fatalf("row not reverted: %q", reverted.Description)
	}
	if store.RowState(tx.ID) != ledger.WriteFailed {
		t.Fatal("row must be marked failed")
	}

	// The other row is untouched and still editable.
	client.failUpdate = false
	if err := editor.Begin(other.ID, FieldDescription); err != nil {
		t.Fatal(err)
	}
	if err := editor.CommitDescription(context.Background(), other.ID, "march salary"); err != nil {
		t.Fatal(err)
	}
	store.Flush()
	updated, _ := store.Transaction(other.ID)
	if updated.Description != "march salary" {
		t.Fatalf("unrelated row blocked: %q", updated.Description)
	}
}
