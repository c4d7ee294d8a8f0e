// Package ledger owns the per-account transaction cache and the balance
// aggregation over it. The Store is the only component that calls the remote
// mutation endpoints; every other component reads snapshots and submits
// change requests through it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"thunes/internal/backend"
	"thunes/internal/core"
	"thunes/internal/notify"
)

// WriteState is the lifecycle of a pending write attached to a row.
type WriteState int

const (
	WriteIdle WriteState = iota
	WritePending
	WriteFailed
)

const defaultTimeout = 10 * time.Second

var ErrUnknownTransaction = errors.New("unknown transaction")

// Store caches one account's transactions, balance and currency, applies
// inline edits optimistically and reconciles them with the backend. Writes
// to the same transaction are serialized on a per-row queue: edit N+1 is only
// sent after edit N's outcome is known, and a failed edit reverts the row to
// its last confirmed snapshot.
type Store struct {
	account  core.Account
	client   backend.Client
	notifier notify.Notifier
	logger   *slog.Logger
	timeout  time.Duration

	// base is cancelled on Close so in-flight requests stop mutating a
	// now-irrelevant store.
	base   context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	gen            uint64
	txs            []core.Transaction
	balance        decimal.Decimal
	currency       string
	txsLoaded      bool
	balanceLoaded  bool
	currencyLoaded bool
	rows           map[string]*rowQueue

	wg sync.WaitGroup
}

type rowQueue struct {
	ops   chan func()
	state WriteState
}

// Option configures a Store.
type Option func(*Store)

func WithTimeout(d time.Duration) Option { return func(s *Store) { s.timeout = d } }
func WithLogger(l *slog.Logger) Option   { return func(s *Store) { s.logger = l } }

// NewStore binds a store to one account. The account is immutable for the
// lifetime of the store; switching accounts means closing this store and
// opening a new one.
func NewStore(account core.Account, client backend.Client, notifier notify.Notifier, opts ...Option) *Store {
	base, cancel := context.WithCancel(context.Background())
	s := &Store{
		account:  account,
		client:   client,
		notifier: notifier,
		logger:   slog.Default(),
		timeout:  defaultTimeout,
		base:     base,
		cancel:   cancel,
		rows:     make(map[string]*rowQueue),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Account returns the bound account.
func (s *Store) Account() core.Account { return s.account }

// Client exposes the typed remote surface, for collaborators that need the
// non-mutating calls (tag creation goes through here before any transaction
// payload references a new label).
func (s *Store) Client() backend.Client { return s.client }

// Close tears down the store. Pending writes are abandoned; their responses
// are discarded instead of mutating state.
func (s *Store) Close() {
	s.cancel()
}

// Load issues the three read requests concurrently. Each result updates its
// own slice of state independently; failure of one fetch does not block or
// corrupt the others. The returned error joins the individual failures, with
// partial state left in place for whatever succeeded.
func (s *Store) Load(ctx context.Context) error {
	gen := s.currentGen()

	var (
		errMu sync.Mutex
		errs  []error
	)
	record := func(what string, err error) {
		errMu.Lock()
		errs = append(errs, fmt.Errorf("%s: %w", what, err))
		errMu.Unlock()
		s.notifier.Notify(ctx, notify.Error, fmt.Sprintf("failed to load %s for %s", what, s.account.Name))
	}

	// Errors are recorded, not returned from the closures: an errgroup
	// return would cancel the sibling fetches, and the three slices must
	// resolve independently.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		txs, err := s.fetchTransactions(gctx)
		if err != nil {
			record("transactions", err)
			return nil
		}
		s.setTransactions(gen, txs)
		return nil
	})
	g.Go(func() error {
		balance, err := s.fetchBalance(gctx)
		if err != nil {
			record("balance", err)
			return nil
		}
		s.setBalance(gen, balance)
		return nil
	})
	g.Go(func() error {
		currency, err := s.fetchCurrency(gctx)
		if err != nil {
			record("currency", err)
			return nil
		}
		s.setCurrency(gen, currency)
		return nil
	})
	_ = g.Wait()

	return errors.Join(errs...)
}

// Reload bumps the generation (discarding any in-flight responses for the
// previous one), refetches, and warns when the fresh snapshot disagrees with
// rows the cache believed confirmed.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	previous := make(map[string]core.Transaction, len(s.txs))
	if s.txsLoaded {
		for _, tx := range s.txs {
			if s.rowState(tx.ID) == WriteIdle {
				previous[tx.ID] = tx
			}
		}
	}
	s.mu.Unlock()

	err := s.Load(ctx)

	s.mu.Lock()
	diverged := 0
	if s.txsLoaded {
		for _, tx := range s.txs {
			if prev, ok := previous[tx.ID]; ok && !prev.Equal(tx) {
				diverged++
			}
		}
	}
	s.mu.Unlock()
	if diverged > 0 {
		s.notifier.Notify(ctx, notify.Warning,
			fmt.Sprintf("%d transaction(s) changed on the backend since the last view", diverged))
	}
	return err
}

// Snapshot is an immutable view of the cached state. Loaded flags report
// which slices have resolved; unresolved ones render as loading.
type Snapshot struct {
	Transactions   []core.Transaction
	Balance        decimal.Decimal
	Currency       string
	TxsLoaded      bool
	BalanceLoaded  bool
	CurrencyLoaded bool
}

// Snapshot returns a copy of the cached state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	txs := make([]core.Transaction, len(s.txs))
	for i, tx := range s.txs {
		txs[i] = cloneTx(tx)
	}
	return Snapshot{
		Transactions:   txs,
		Balance:        s.balance,
		Currency:       s.currency,
		TxsLoaded:      s.txsLoaded,
		BalanceLoaded:  s.balanceLoaded,
		CurrencyLoaded: s.currencyLoaded,
	}
}

// Transaction returns a copy of one cached row.
func (s *Store) Transaction(id string) (core.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.ID == id {
			return cloneTx(tx), true
		}
	}
	return core.Transaction{}, false
}

// Create validates the draft, sends the creation request and appends the
// confirmed transaction to the cache. It blocks until the backend answers:
// the caller (the add-transaction dialog) must not report success before the
// record exists remotely.
func (s *Store) Create(ctx context.Context, draft core.Draft) (core.Transaction, error) {
	tx, err := core.NewTransaction(s.account.ID, draft)
	if err != nil {
		return core.Transaction{}, err
	}

	gen := s.currentGen()
	cctx, cancel := s.callContext(ctx)
	defer cancel()
	created, err := s.client.AddTransaction(cctx, tx)
	if err != nil {
		s.notifier.Notify(ctx, notify.Error, "failed to add transaction")
		return core.Transaction{}, fmt.Errorf("add transaction: %w", err)
	}

	s.mu.Lock()
	if s.gen == gen && s.base.Err() == nil {
		s.txs = append(s.txs, cloneTx(created))
		s.balance = s.balance.Add(created.Amount)
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "transaction created",
		"account", s.account.Name, "id", created.ID, "amount", created.Amount.String())
	return created, nil
}

// Update applies the patch to the cached row immediately and returns the
// optimistic result. The remote update is queued behind any earlier write to
// the same row; on failure the row reverts to its pre-patch snapshot and the
// failure is surfaced through the notifier.
func (s *Store) Update(ctx context.Context, id string, patch core.Patch) (core.Transaction, error) {
	if s.base.Err() != nil {
		return core.Transaction{}, errors.New("store closed")
	}
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return core.Transaction{}, fmt.Errorf("%w: %s", ErrUnknownTransaction, id)
	}

	prev := cloneTx(s.txs[idx])
	next := prev.Apply(patch)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return core.Transaction{}, err
	}

	s.txs[idx] = cloneTx(next)
	s.balance = s.balance.Sub(prev.Amount).Add(next.Amount)
	gen := s.gen
	row := s.row(id)
	row.state = WritePending
	s.mu.Unlock()

	s.wg.Add(1)
	row.ops <- func() {
		defer s.wg.Done()
		s.commitUpdate(gen, id, prev)
	}
	return next, nil
}

// commitUpdate sends the row's current cached value to the backend and
// reconciles the outcome. It runs on the row's queue goroutine, so writes to
// one row never overlap.
func (s *Store) commitUpdate(gen uint64, id string, prev core.Transaction) {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 || s.gen != gen {
		s.mu.Unlock()
		return
	}
	payload := cloneTx(s.txs[idx])
	s.mu.Unlock()

	cctx, cancel := s.callContext(s.base)
	defer cancel()
	confirmed, err := s.client.UpdateTransaction(cctx, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.base.Err() != nil {
		// The view moved on; this response no longer matters.
		return
	}
	idx = s.indexOf(id)
	if idx < 0 {
		return
	}
	row := s.row(id)
	if err != nil {
		current := s.txs[idx]
		s.txs[idx] = cloneTx(prev)
		s.balance = s.balance.Sub(current.Amount).Add(prev.Amount)
		row.state = WriteFailed
		s.notifier.Notify(s.base, notify.Error,
			fmt.Sprintf("failed to update transaction %s, change reverted", id))
		s.logger.Error("transaction update failed", "id", id, "error", err)
		return
	}
	s.txs[idx] = cloneTx(confirmed)
	row.state = WriteIdle
}

// RowState reports the write state of one row. Rows with no write history
// are idle.
func (s *Store) RowState(id string) WriteState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowState(id)
}

// Flush blocks until every queued write has been reconciled. Used on
// shutdown and in tests.
func (s *Store) Flush() {
	s.wg.Wait()
}

func (s *Store) fetchTransactions(ctx context.Context) ([]core.Transaction, error) {
	cctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.client.GetTransactions(cctx, s.account.ID)
}

func (s *Store) fetchBalance(ctx context.Context) (decimal.Decimal, error) {
	cctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.client.GetBalance(cctx, s.account.ID, backend.BalanceOptions{})
}

func (s *Store) fetchCurrency(ctx context.Context) (string, error) {
	cctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.client.GetCurrency(cctx, s.account.ID)
}

// CategoryBalance fetches the backend-side signed total for one category tag,
// bounded to the given period when non-nil.
func (s *Store) CategoryBalance(ctx context.Context, tag string, start, end *time.Time) (decimal.Decimal, error) {
	cctx, cancel := s.callContext(ctx)
	defer cancel()
	balance, err := s.client.GetBalance(cctx, s.account.ID, backend.BalanceOptions{
		Tag:         tag,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	if err != nil {
		s.notifier.Notify(ctx, notify.Error, fmt.Sprintf("failed to load %s balance", tag))
		return decimal.Zero, fmt.Errorf("category balance %s: %w", tag, err)
	}
	return balance, nil
}

func (s *Store) setTransactions(gen uint64, txs []core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.base.Err() != nil {
		return
	}
	s.txs = txs
	s.txsLoaded = true
}

func (s *Store) setBalance(gen uint64, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.base.Err() != nil {
		return
	}
	s.balance = balance
	s.balanceLoaded = true
}

func (s *Store) setCurrency(gen uint64, currency string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.base.Err() != nil {
		return
	}
	s.currency = currency
	s.currencyLoaded = true
}

func (s *Store) currentGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Store) indexOf(id string) int {
	for i := range s.txs {
		if s.txs[i].ID == id {
			return i
		}
	}
	return -1
}

// row returns the queue for a transaction id, starting its drain goroutine
// on first use. Caller holds s.mu.
func (s *Store) row(id string) *rowQueue {
	row, ok := s.rows[id]
	if !ok {
		row = &rowQueue{ops: make(chan func(), 16)}
		s.rows[id] = row
		go func() {
			for {
				select {
				case op := <-row.ops:
					op()
				case <-s.base.Done():
					// Run out the queue; each op discards its response
					// against the cancelled base context.
					for {
						select {
						case op := <-row.ops:
							op()
						default:
							return
						}
					}
				}
			}
		}()
	}
	return row
}

func (s *Store) rowState(id string) WriteState {
	if row, ok := s.rows[id]; ok {
		return row.state
	}
	return WriteIdle
}

func (s *Store) callContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil || parent.Err() != nil {
		parent = s.base
	}
	return context.WithTimeout(parent, s.timeout)
}

func cloneTx(tx core.Transaction) core.Transaction {
	tx.Tags = append([]core.Tag(nil), tx.Tags...)
	return tx
}
