// Package storage is the SQLite implementation of the remote call surface.
// It persists accounts, transactions and the global tag set, and serves the
// settings record and the backend clock.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"thunes/internal/backend"
	"thunes/internal/core"

	_ "modernc.org/sqlite"
)

// dateLayout is RFC 3339 with a fixed nine-digit fraction. Dates are stored
// as TEXT and period bounds are compared lexicographically in SQL, so the
// representation must be fixed-width; RFC3339Nano trims trailing zeros and
// would misorder fractional-second timestamps against whole-second bounds.
const dateLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, currency FROM accounts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		var a core.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Currency); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, accountID string) (core.Account, error) {
	var a core.Account
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, currency FROM accounts WHERE id = ?`, accountID).
		Scan(&a.ID, &a.Name, &a.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %s not found", accountID)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) AddAccount(ctx context.Context, account core.Account) (core.Account, error) {
	if err := account.Validate(); err != nil {
		return core.Account{}, err
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, currency) VALUES (?, ?, ?)`,
		account.ID, account.Name, account.Currency)
	if err != nil {
		return core.Account{}, fmt.Errorf("insert account: %w", err)
	}

	slog.InfoContext(ctx, "account created",
		"id", account.ID, "name", account.Name, "currency", account.Currency)
	return account, nil
}

func (r *SQLiteRepository) GetCurrency(ctx context.Context, accountID string) (string, error) {
	account, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	return account.Currency, nil
}

func (r *SQLiteRepository) GetTransactions(ctx context.Context, accountID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, amount, description, date
		FROM transactions
		WHERE account_id = ?
		ORDER BY date, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	for i := range out {
		tags, err := r.transactionTags(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Tags = tags
	}
	return out, nil
}

func (r *SQLiteRepository) GetBalance(ctx context.Context, accountID string, opts backend.BalanceOptions) (decimal.Decimal, error) {
	query := `
		SELECT t.amount FROM transactions t
		WHERE t.account_id = ?`
	args := []any{accountID}

	if opts.PeriodStart != nil {
		query += ` AND t.date > ?`
		args = append(args, opts.PeriodStart.UTC().Format(dateLayout))
	}
	if opts.PeriodEnd != nil {
		query += ` AND t.date < ?`
		args = append(args, opts.PeriodEnd.UTC().Format(dateLayout))
	}
	if opts.Tag != "" {
		query += `
		AND EXISTS (
			SELECT 1 FROM transaction_tags tt
			JOIN tags g ON g.id = tt.tag_id
			WHERE tt.transaction_id = t.id AND g.label = ?
		)`
		args = append(args, opts.Tag)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query balance: %w", err)
	}
	defer rows.Close()

	// Amounts are stored as decimal text; summing happens here rather than
	// in SQL to avoid float arithmetic on money.
	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("scan amount: %w", err)
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse stored amount %q: %w", raw, err)
		}
		sum = sum.Add(amount)
	}
	return sum, rows.Err()
}

func (r *SQLiteRepository) AddTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	tx.ID = uuid.NewString()

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("begin: %w", err)
	}
	defer dbtx.Rollback()

	_, err = dbtx.ExecContext(ctx,
		`INSERT INTO transactions (id, account_id, amount, description, date) VALUES (?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Amount.String(), tx.Description, tx.Date.UTC().Format(dateLayout))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	if err := replaceTags(ctx, dbtx, tx.ID, tx.Tags); err != nil {
		return core.Transaction{}, err
	}
	if err := dbtx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "transaction stored",
		"id", tx.ID, "account", tx.AccountID, "amount", tx.Amount.String())
	return tx, nil
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("begin: %w", err)
	}
	defer dbtx.Rollback()

	res, err := dbtx.ExecContext(ctx,
		`UPDATE transactions SET amount = ?, description = ?, date = ? WHERE id = ?`,
		tx.Amount.String(), tx.Description, tx.Date.UTC().Format(dateLayout), tx.ID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return core.Transaction{}, fmt.Errorf("transaction %s not found", tx.ID)
	}

	if _, err := dbtx.ExecContext(ctx,
		`DELETE FROM transaction_tags WHERE transaction_id = ?`, tx.ID); err != nil {
		return core.Transaction{}, fmt.Errorf("clear tags: %w", err)
	}
	if err := replaceTags(ctx, dbtx, tx.ID, tx.Tags); err != nil {
		return core.Transaction{}, err
	}
	if err := dbtx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("commit: %w", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) GetTags(ctx context.Context) ([]core.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, label FROM tags ORDER BY label`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var out []core.Tag
	for rows.Next() {
		var tag core.Tag
		if err := rows.Scan(&tag.ID, &tag.Label); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

// AddTags creates tags for the given labels, reusing the id of any label
// already present so the call is idempotent.
func (r *SQLiteRepository) AddTags(ctx context.Context, labels []string) ([]core.Tag, error) {
	out := make([]core.Tag, 0, len(labels))
	for _, label := range labels {
		var tag core.Tag
		err := r.db.QueryRowContext(ctx,
			`SELECT id, label FROM tags WHERE label = ?`, label).Scan(&tag.ID, &tag.Label)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			tag = core.Tag{ID: uuid.NewString(), Label: label}
			if _, err := r.db.ExecContext(ctx,
				`INSERT INTO tags (id, label) VALUES (?, ?)`, tag.ID, tag.Label); err != nil {
				return nil, fmt.Errorf("insert tag %q: %w", label, err)
			}
		case err != nil:
			return nil, fmt.Errorf("lookup tag %q: %w", label, err)
		}
		out = append(out, tag)
	}
	return out, nil
}

func (r *SQLiteRepository) GetSettings(ctx context.Context) (core.Settings, error) {
	var settings core.Settings
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return settings, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return settings, fmt.Errorf("scan setting: %w", err)
		}
		switch key {
		case "theme":
			settings.Theme = value
		case "accounts_path":
			settings.AccountsPath = value
		}
	}
	if err := rows.Err(); err != nil {
		return settings, err
	}

	tags, err := r.GetTags(ctx)
	if err != nil {
		return settings, err
	}
	settings.Tags = tags
	return settings, nil
}

func (r *SQLiteRepository) GetDate(_ context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

func (r *SQLiteRepository) transactionTags(ctx context.Context, txID string) ([]core.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT g.id, g.label
		FROM transaction_tags tt
		JOIN tags g ON g.id = tt.tag_id
		WHERE tt.transaction_id = ?
		ORDER BY tt.position`, txID)
	if err != nil {
		return nil, fmt.Errorf("query transaction tags: %w", err)
	}
	defer rows.Close()

	var out []core.Tag
	for rows.Next() {
		var tag core.Tag
		if err := rows.Scan(&tag.ID, &tag.Label); err != nil {
			return nil, fmt.Errorf("scan transaction tag: %w", err)
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

func replaceTags(ctx context.Context, dbtx *sql.Tx, txID string, tags []core.Tag) error {
	for i, tag := range tags {
		if _, err := dbtx.ExecContext(ctx,
			`INSERT INTO transaction_tags (transaction_id, tag_id, position) VALUES (?, ?, ?)`,
			txID, tag.ID, i); err != nil {
			return fmt.Errorf("attach tag %s: %w", tag.ID, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx      core.Transaction
		rawAmt  string
		rawDate string
	)
	if err := row.Scan(&tx.ID, &tx.AccountID, &rawAmt, &tx.Description, &rawDate); err != nil {
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	amount, err := decimal.NewFromString(rawAmt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse stored amount %q: %w", rawAmt, err)
	}
	tx.Amount = amount
	// RFC3339Nano accepts any fraction width, so rows written before the
	// layout became fixed-width still parse.
	date, err := time.Parse(time.RFC3339Nano, rawDate)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse stored date %q: %w", rawDate, err)
	}
	tx.Date = date
	return tx, nil
}

var _ backend.Client = (*SQLiteRepository)(nil)
