// Package memory implements backend.Client in process memory. It is the
// default runtime backend and the test double for everything that talks to
// the remote surface.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"thunes/internal/backend"
	"thunes/internal/core"
)

type Store struct {
	mu       sync.Mutex
	accounts map[string]core.Account
	txs      map[string]core.Transaction
	tags     map[string]core.Tag // label -> tag
	settings core.Settings

	// Now is the clock used by GetDate; overridable in tests.
	Now func() time.Time
}

func New() *Store {
	return &Store{
		accounts: make(map[string]core.Account),
		txs:      make(map[string]core.Transaction),
		tags:     make(map[string]core.Tag),
		settings: core.Settings{Theme: "system"},
		Now:      time.Now,
	}
}

func (s *Store) ListAccounts(_ context.Context) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, accountID string) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return core.Account{}, fmt.Errorf("account %s not found", accountID)
	}
	return account, nil
}

func (s *Store) AddAccount(_ context.Context, account core.Account) (core.Account, error) {
	if err := account.Validate(); err != nil {
		return core.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	s.accounts[account.ID] = account
	return account, nil
}

func (s *Store) GetCurrency(ctx context.Context, accountID string) (string, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	return account.Currency, nil
}

func (s *Store) GetTransactions(_ context.Context, accountID string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.AccountID == accountID {
			out = append(out, cloneTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (s *Store) GetBalance(_ context.Context, accountID string, opts backend.BalanceOptions) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, tx := range s.txs {
		if tx.AccountID != accountID {
			continue
		}
		if opts.PeriodStart != nil && !tx.Date.After(*opts.PeriodStart) {
			continue
		}
		if opts.PeriodEnd != nil && !tx.Date.Before(*opts.PeriodEnd) {
			continue
		}
		if opts.Tag != "" && !hasLabel(tx.Tags, opts.Tag) {
			continue
		}
		sum = sum.Add(tx.Amount)
	}
	return sum, nil
}

func (s *Store) AddTransaction(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[tx.AccountID]; !ok {
		return core.Transaction{}, fmt.Errorf("account %s not found", tx.AccountID)
	}
	tx.ID = uuid.NewString()
	s.txs[tx.ID] = cloneTx(tx)
	return tx, nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; !ok {
		return core.Transaction{}, fmt.Errorf("transaction %s not found", tx.ID)
	}
	s.txs[tx.ID] = cloneTx(tx)
	return tx, nil
}

func (s *Store) GetTags(_ context.Context) ([]core.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Tag, 0, len(s.tags))
	for _, tag := range s.tags {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// AddTags creates tags for the given labels. Labels already known keep their
// existing id, so the call is idempotent.
func (s *Store) AddTags(_ context.Context, labels []string) ([]core.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Tag, 0, len(labels))
	for _, label := range labels {
		tag, ok := s.tags[label]
		if !ok {
			tag = core.Tag{ID: uuid.NewString(), Label: label}
			s.tags[label] = tag
		}
		out = append(out, tag)
	}
	return out, nil
}

func (s *Store) GetSettings(_ context.Context) (core.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.settings
	settings.Tags = make([]core.Tag, 0, len(s.tags))
	for _, tag := range s.tags {
		settings.Tags = append(settings.Tags, tag)
	}
	sort.Slice(settings.Tags, func(i, j int) bool { return settings.Tags[i].Label < settings.Tags[j].Label })
	return settings, nil
}

func (s *Store) GetDate(_ context.Context) (time.Time, error) {
	return s.Now(), nil
}

func hasLabel(tags []core.Tag, label string) bool {
	for _, tag := range tags {
		if tag.Label == label {
			return true
		}
	}
	return false
}

func cloneTx(tx core.Transaction) core.Transaction {
	tx.Tags = append([]core.Tag(nil), tx.Tags...)
	return tx
}

var _ backend.Client = (*Store)(nil)
