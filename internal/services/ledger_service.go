// Package services orchestrates the persistent backend and the event bus.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"thunes/internal/amqp"
	"thunes/internal/backend"
	"thunes/internal/core"
	"thunes/internal/storage"
)

// LedgerService decorates the SQLite repository with ledger event
// publishing. Persistence comes first; a failed publish is logged and never
// fails the mutation, the audit worker catches up on its next pass.
type LedgerService struct {
	storage    *storage.SQLiteRepository
	amqpClient *amqp.Client
}

func NewLedgerService(storage *storage.SQLiteRepository, amqpClient *amqp.Client) *LedgerService {
	return &LedgerService{
		storage:    storage,
		amqpClient: amqpClient,
	}
}

func (s *LedgerService) ListAccounts(ctx context.Context) ([]core.Account, error) {
	return s.storage.ListAccounts(ctx)
}

func (s *LedgerService) GetAccount(ctx context.Context, accountID string) (core.Account, error) {
	return s.storage.GetAccount(ctx, accountID)
}

func (s *LedgerService) AddAccount(ctx context.Context, account core.Account) (core.Account, error) {
	return s.storage.AddAccount(ctx, account)
}

func (s *LedgerService) GetCurrency(ctx context.Context, accountID string) (string, error) {
	return s.storage.GetCurrency(ctx, accountID)
}

func (s *LedgerService) GetTransactions(ctx context.Context, accountID string) ([]core.Transaction, error) {
	return s.storage.GetTransactions(ctx, accountID)
}

func (s *LedgerService) GetBalance(ctx context.Context, accountID string, opts backend.BalanceOptions) (decimal.Decimal, error) {
	return s.storage.GetBalance(ctx, accountID, opts)
}

func (s *LedgerService) AddTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	created, err := s.storage.AddTransaction(ctx, tx)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("add transaction: %w", err)
	}
	s.publish(ctx, amqp.NewTransactionEvent(amqp.EventTransactionCreated, created.AccountID, created.ID))
	return created, nil
}

func (s *LedgerService) UpdateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	updated, err := s.storage.UpdateTransaction(ctx, tx)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	s.publish(ctx, amqp.NewTransactionEvent(amqp.EventTransactionUpdated, updated.AccountID, updated.ID))
	return updated, nil
}

func (s *LedgerService) GetTags(ctx context.Context) ([]core.Tag, error) {
	return s.storage.GetTags(ctx)
}

func (s *LedgerService) AddTags(ctx context.Context, labels []string) ([]core.Tag, error) {
	created, err := s.storage.AddTags(ctx, labels)
	if err != nil {
		return nil, fmt.Errorf("add tags: %w", err)
	}
	if len(labels) > 0 {
		s.publish(ctx, amqp.NewTagsEvent(labels))
	}
	return created, nil
}

func (s *LedgerService) GetSettings(ctx context.Context) (core.Settings, error) {
	return s.storage.GetSettings(ctx)
}

func (s *LedgerService) GetDate(ctx context.Context) (time.Time, error) {
	return s.storage.GetDate(ctx)
}

func (s *LedgerService) publish(ctx context.Context, event *amqp.LedgerEvent) {
	if s.amqpClient == nil {
		return
	}
	if err := s.amqpClient.PublishEvent(ctx, event); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", event.Kind, "error", err)
	}
}

// Close closes both storage and AMQP connections.
func (s *LedgerService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}

	return nil
}

var _ backend.Client = (*LedgerService)(nil)
