package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Expense Operation = "expense"
	Income  Operation = "income"
)

type (
	// Operation classifies a transaction by the direction of money flow.
	// It is derived from the sign of the stored amount and never persisted
	// separately.
	Operation string

	// Account is a named ledger bound to a single currency. Accounts are
	// immutable for the lifetime of a view session.
	Account struct {
		ID       string
		Name     string
		Currency string // three-letter ISO-style code
	}

	// Tag is a global user-defined label. A label maps to at most one tag id.
	Tag struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}

	// Transaction is a single signed ledger entry. The amount carries the
	// canonical sign: expenses are negative, income is positive.
	Transaction struct {
		ID          string
		AccountID   string
		Amount      decimal.Decimal
		Description string
		Date        time.Time
		Tags        []Tag
	}

	// Draft is an in-progress, not-yet-persisted transaction. The amount here
	// is an unsigned magnitude; Operation decides the stored sign.
	Draft struct {
		Operation   Operation
		Amount      decimal.Decimal
		Description string
		Date        time.Time
		Tags        []Tag
	}

	// Patch is a partial update to a transaction. Nil fields are left
	// untouched; a nil Tags slice means "do not change tags".
	Patch struct {
		Description *string
		Amount      *decimal.Decimal
		Date        *time.Time
		Tags        []Tag
	}

	// Settings is the application-level settings record served by the backend.
	Settings struct {
		AccountsPath string
		Theme        string
		Tags         []Tag
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyCurrency    = errors.New("empty currency")
	ErrDuplicateTag     = errors.New("duplicate tag id")
	ErrUnresolvedTag    = errors.New("tag without id")
)

// Operation reports the direction of the transaction, derived from the sign
// of the amount. Zero-amount entries count as income.
func (t Transaction) Operation() Operation {
	if t.Amount.IsNegative() {
		return Expense
	}
	return Income
}

// Validate checks the transaction invariants: a non-empty description, an
// account reference, no two tags with the same id and no tag lacking an id.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.AccountID) == "" {
		return errors.New("missing account reference")
	}
	if strings.TrimSpace(t.Description) == "" {
		return ErrEmptyDescription
	}
	return validateTags(t.Tags)
}

// Apply returns a copy of the transaction with the patch folded in.
func (t Transaction) Apply(p Patch) Transaction {
	out := t
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Amount != nil {
		out.Amount = *p.Amount
	}
	if p.Date != nil {
		out.Date = *p.Date
	}
	if p.Tags != nil {
		out.Tags = append([]Tag(nil), p.Tags...)
	} else {
		out.Tags = append([]Tag(nil), t.Tags...)
	}
	return out
}

// Equal reports whether two transactions carry the same data, tags included.
func (t Transaction) Equal(other Transaction) bool {
	if t.ID != other.ID ||
		t.AccountID != other.AccountID ||
		!t.Amount.Equal(other.Amount) ||
		t.Description != other.Description ||
		!t.Date.Equal(other.Date) ||
		len(t.Tags) != len(other.Tags) {
		return false
	}
	for i := range t.Tags {
		if t.Tags[i] != other.Tags[i] {
			return false
		}
	}
	return true
}

// NewTransaction normalizes a draft into a transaction with the canonical
// signed amount: an expense draft's magnitude is stored negated, an income
// draft's is stored as-is. The id is left empty; it is assigned by the
// backend on creation.
func NewTransaction(accountID string, d Draft) (Transaction, error) {
	if d.Amount.IsNegative() {
		return Transaction{}, ErrInvalidAmount
	}
	amount := d.Amount
	switch d.Operation {
	case Expense:
		amount = amount.Neg()
	case Income:
	default:
		return Transaction{}, ErrInvalidOperation
	}

	t := Transaction{
		AccountID:   accountID,
		Amount:      amount,
		Description: d.Description,
		Date:        d.Date,
		Tags:        append([]Tag(nil), d.Tags...),
	}
	if err := t.Validate(); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func validateTags(tags []Tag) error {
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if strings.TrimSpace(tag.ID) == "" {
			return ErrUnresolvedTag
		}
		if _, dup := seen[tag.ID]; dup {
			return ErrDuplicateTag
		}
		seen[tag.ID] = struct{}{}
	}
	return nil
}

// Validate checks account invariants.
func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("empty account name")
	}
	if strings.TrimSpace(a.Currency) == "" {
		return ErrEmptyCurrency
	}
	return nil
}
