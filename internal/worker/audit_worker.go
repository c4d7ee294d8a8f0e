package worker

import (
	"context"
	"fmt"
	"log/slog"

	"thunes/internal/amqp"
	"thunes/internal/backend"
	"thunes/internal/ledger"
	"thunes/internal/storage"
)

// AuditWorker consumes ledger events and recomputes account balances from
// storage, cross-checking the backend aggregate against the category
// breakdown. A mismatch means a transaction was written outside the ledger
// surface and is worth a warning in the logs.
type AuditWorker struct {
	storage *storage.SQLiteRepository
}

func NewAuditWorker(storage *storage.SQLiteRepository) *AuditWorker {
	return &AuditWorker{storage: storage}
}

// HandleLedgerEvent processes a single ledger event from AMQP.
func (w *AuditWorker) HandleLedgerEvent(ctx context.Context, event *amqp.LedgerEvent) error {
	slog.InfoContext(ctx, "Processing ledger event",
		"kind", event.Kind,
		"account_id", event.AccountID,
		"transaction_id", event.TransactionID)

	switch event.Kind {
	case amqp.EventTransactionCreated, amqp.EventTransactionUpdated:
		return w.auditAccount(ctx, event.AccountID)
	case amqp.EventTagsCreated:
		// Tag creation never moves money, nothing to recompute.
		return nil
	default:
		slog.WarnContext(ctx, "Unknown ledger event kind, skipping", "kind", event.Kind)
		return nil
	}
}

// SweepAccounts recomputes the breakdown for every account. This is a backup
// mechanism in case AMQP messages are lost.
func (w *AuditWorker) SweepAccounts(ctx context.Context) error {
	accounts, err := w.storage.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	if len(accounts) == 0 {
		slog.InfoContext(ctx, "No accounts found during sweep")
		return nil
	}

	errorCount := 0
	for _, account := range accounts {
		if err := w.auditAccount(ctx, account.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to audit account",
				"account_id", account.ID, "error", err)
			errorCount++
		}
	}

	slog.InfoContext(ctx, "Account sweep completed",
		"total", len(accounts),
		"errors", errorCount)

	if errorCount > 0 {
		return fmt.Errorf("sweep finished with %d failed accounts", errorCount)
	}
	return nil
}

func (w *AuditWorker) auditAccount(ctx context.Context, accountID string) error {
	txs, err := w.storage.GetTransactions(ctx, accountID)
	if err != nil {
		return fmt.Errorf("get transactions from storage: %w", err)
	}

	breakdown := ledger.Aggregate(txs)

	stored, err := w.storage.GetBalance(ctx, accountID, backend.BalanceOptions{})
	if err != nil {
		return fmt.Errorf("get balance from storage: %w", err)
	}

	if !stored.Equal(breakdown.Total) {
		slog.WarnContext(ctx, "Account balance diverged from transaction sum",
			"account_id", accountID,
			"stored", stored.String(),
			"computed", breakdown.Total.String())
	}

	slog.InfoContext(ctx, "Account audit completed",
		"account_id", accountID,
		"transactions", len(txs),
		"total", breakdown.Total.String(),
		"needs", breakdown.Needs.String(),
		"wants", breakdown.Wants.String(),
		"savings", breakdown.Savings.String())

	return nil
}
