// Package backend declares the remote call surface the ledger view depends
// on. Each remote operation is a typed method with declared input and output
// types, so the compiler enforces the request/response contract.
package backend

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"thunes/internal/core"
)

// BalanceOptions narrows a balance query to a period and/or a single tag.
type BalanceOptions struct {
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	Tag         string
}

// Client is the full remote call surface. All methods are fallible and honor
// context cancellation; implementations must never mutate arguments.
type Client interface {
	AccountReader
	TransactionReader
	TransactionWriter
	TagStore
	SettingsReader
}

// AccountReader serves account metadata.
type AccountReader interface {
	ListAccounts(ctx context.Context) ([]core.Account, error)
	GetAccount(ctx context.Context, accountID string) (core.Account, error)
	AddAccount(ctx context.Context, account core.Account) (core.Account, error)
	GetCurrency(ctx context.Context, accountID string) (string, error)
}

// TransactionReader serves the transaction list and balance queries.
type TransactionReader interface {
	GetTransactions(ctx context.Context, accountID string) ([]core.Transaction, error)
	GetBalance(ctx context.Context, accountID string, opts BalanceOptions) (decimal.Decimal, error)
}

// TransactionWriter persists ledger mutations. AddTransaction assigns the id
// and returns the created record; UpdateTransaction takes the full record.
type TransactionWriter interface {
	AddTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
}

// TagStore creates and lists global tags.
type TagStore interface {
	GetTags(ctx context.Context) ([]core.Tag, error)
	AddTags(ctx context.Context, labels []string) ([]core.Tag, error)
}

// SettingsReader serves the settings record and the backend clock, used as
// the default transaction date.
type SettingsReader interface {
	GetSettings(ctx context.Context) (core.Settings, error)
	GetDate(ctx context.Context) (time.Time, error)
}
