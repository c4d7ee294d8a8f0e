// Package grid owns per-cell edit state for the transactions table. A cell
// goes viewing -> editing -> committing -> viewing, or back to viewing on
// cancel; tag cells are gate-kept through the tag registry so the committed
// row never carries a label without a backend-assigned id.
package grid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"thunes/internal/core"
	"thunes/internal/ledger"
	"thunes/internal/tags"
)

// Field names the editable columns of the table.
type Field string

const (
	FieldDescription Field = "description"
	FieldDate        Field = "date"
	FieldAmount      Field = "amount"
	FieldTags        Field = "tags"
)

// CellState is the edit lifecycle of one row-field pair.
type CellState int

const (
	Viewing CellState = iota
	Editing
	Committing
)

var (
	ErrCellBusy     = errors.New("cell already being edited")
	ErrNotEditing   = errors.New("cell not in editing state")
	ErrUnknownField = errors.New("unknown field")
)

type cellKey struct {
	rowID string
	field Field
}

// Editor coordinates inline edits for one account's table.
type Editor struct {
	store    *ledger.Store
	registry *tags.Registry

	mu     sync.Mutex
	cells  map[cellKey]CellState
	errors map[string]error // last commit error per row
}

func NewEditor(store *ledger.Store, registry *tags.Registry) *Editor {
	return &Editor{
		store:    store,
		registry: registry,
		cells:    make(map[cellKey]CellState),
		errors:   make(map[string]error),
	}
}

// Begin puts a cell into the editing state. A row-field pair supports at
// most one edit session at a time.
func (e *Editor) Begin(rowID string, field Field) error {
	switch field {
	case FieldDescription, FieldDate, FieldAmount, FieldTags:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if _, ok := e.store.Transaction(rowID); !ok {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownTransaction, rowID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	key := cellKey{rowID: rowID, field: field}
	if e.cells[key] != Viewing {
		return ErrCellBusy
	}
	e.cells[key] = Editing
	return nil
}

// Cancel abandons an edit session with no side effects.
func (e *Editor) Cancel(rowID string, field Field) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := cellKey{rowID: rowID, field: field}
	if e.cells[key] == Editing {
		e.cells[key] = Viewing
	}
}

// State reports the edit state of one cell.
func (e *Editor) State(rowID string, field Field) CellState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cells[cellKey{rowID: rowID, field: field}]
}

// RowErr returns the last commit failure recorded for a row, if any.
func (e *Editor) RowErr(rowID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errors[rowID]
}

// CommitDescription commits an edited description cell.
func (e *Editor) CommitDescription(ctx context.Context, rowID, value string) error {
	return e.commit(ctx, rowID, FieldDescription, core.Patch{Description: &value})
}

// CommitDate commits an edited date cell.
func (e *Editor) CommitDate(ctx context.Context, rowID string, value time.Time) error {
	return e.commit(ctx, rowID, FieldDate, core.Patch{Date: &value})
}

// CommitAmount parses and commits an edited amount cell. The cell text obeys
// the same grammar as the add-transaction dialog; the parsed value is signed
// and stored as-is.
func (e *Editor) CommitAmount(ctx context.Context, rowID, text string) error {
	amount, err := core.ParseAmount(text)
	if err != nil {
		return err
	}
	return e.commit(ctx, rowID, FieldAmount, core.Patch{Amount: &amount})
}

// CommitTags resolves the labels through the registry, creating the unknown
// ones remotely, before the row update is issued. The committed patch only
// ever carries tags with backend-assigned ids.
func (e *Editor) CommitTags(ctx context.Context, rowID string, labels []string) error {
	if err := e.enterCommitting(rowID, FieldTags); err != nil {
		return err
	}
	defer e.leaveCommitting(rowID, FieldTags)

	resolved, err := e.registry.Ensure(ctx, e.store.Client(), labels)
	if err != nil {
		e.recordRowErr(rowID, err)
		return err
	}
	if _, err := e.store.Update(ctx, rowID, core.Patch{Tags: resolved}); err != nil {
		e.recordRowErr(rowID, err)
		return err
	}
	e.recordRowErr(rowID, nil)
	return nil
}

func (e *Editor) commit(ctx context.Context, rowID string, field Field, patch core.Patch) error {
	if err := e.enterCommitting(rowID, field); err != nil {
		return err
	}
	defer e.leaveCommitting(rowID, field)

	if _, err := e.store.Update(ctx, rowID, patch); err != nil {
		e.recordRowErr(rowID, err)
		return err
	}
	e.recordRowErr(rowID, nil)
	return nil
}

func (e *Editor) enterCommitting(rowID string, field Field) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := cellKey{rowID: rowID, field: field}
	if e.cells[key] != Editing {
		return ErrNotEditing
	}
	e.cells[key] = Committing
	return nil
}

func (e *Editor) leaveCommitting(rowID string, field Field) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cells[cellKey{rowID: rowID, field: field}] = Viewing
}

func (e *Editor) recordRowErr(rowID string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.errors, rowID)
		return
	}
	e.errors[rowID] = err
}
