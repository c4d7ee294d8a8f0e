// Package form owns the add-transaction dialog's draft state. The draft's
// amount is kept as raw text so the user can type a partial floating point
// value; validity is re-derived on every change and gates submission.
package form

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"thunes/internal/core"
	"thunes/internal/ledger"
	"thunes/internal/tags"
)

// State is the dialog lifecycle.
type State int

const (
	Editing State = iota
	Submitting
	Closed
	ErrorVisible
)

var ErrNotSubmittable = errors.New("draft not submittable")

// Controller drives one add-transaction dialog over a bound store.
type Controller struct {
	store    *ledger.Store
	registry *tags.Registry

	state       State
	operation   core.Operation
	amountText  string
	description string
	date        time.Time
	tagLabels   []string
	lastErr     error
}

// New opens a dialog in the editing state with the usual defaults: an
// expense of "0" dated with the given default date (the backend clock).
func New(store *ledger.Store, registry *tags.Registry, defaultDate time.Time) *Controller {
	return &Controller{
		store:      store,
		registry:   registry,
		state:      Editing,
		operation:  core.Expense,
		amountText: "0",
		date:       defaultDate,
	}
}

func (c *Controller) State() State   { return c.state }
func (c *Controller) LastErr() error { return c.lastErr }

func (c *Controller) SetOperation(op core.Operation) { c.edit(func() { c.operation = op }) }
func (c *Controller) SetAmountText(text string)      { c.edit(func() { c.amountText = text }) }
func (c *Controller) SetDescription(text string)     { c.edit(func() { c.description = text }) }
func (c *Controller) SetDate(date time.Time)         { c.edit(func() { c.date = date }) }
func (c *Controller) SetTagLabels(labels []string) {
	c.edit(func() { c.tagLabels = append([]string(nil), labels...) })
}

// edit applies a draft change and returns the dialog to the editing state;
// a visible error is cleared by further editing.
func (c *Controller) edit(apply func()) {
	if c.state == Submitting || c.state == Closed {
		return
	}
	apply()
	c.state = Editing
	c.lastErr = nil
}

// AmountValid reports whether the current amount text parses. The submit
// action is disabled while it does not.
func (c *Controller) AmountValid() bool {
	_, err := core.ParseAmount(c.amountText)
	return err == nil
}

// CanSubmit gates the submit action: a parseable amount in the editing state.
func (c *Controller) CanSubmit() bool {
	return c.state == Editing && c.AmountValid()
}

// Submit resolves the draft's tags (creating the unknown ones remotely
// first), sends the creation request through the store, and only closes the
// dialog once the backend confirms. On failure the dialog stays open with
// the error visible and the draft intact.
func (c *Controller) Submit(ctx context.Context) (core.Transaction, error) {
	if !c.CanSubmit() {
		return core.Transaction{}, ErrNotSubmittable
	}
	amount, err := core.ParseAmount(c.amountText)
	if err != nil {
		return core.Transaction{}, err
	}
	// The dialog's amount field is a magnitude; the operation selector
	// decides the stored sign.
	if amount.IsNegative() {
		amount = amount.Neg()
	}

	c.state = Submitting

	resolved, err := c.registry.Ensure(ctx, c.store.Client(), c.tagLabels)
	if err != nil {
		c.fail(fmt.Errorf("resolve tags: %w", err))
		return core.Transaction{}, err
	}

	created, err := c.store.Create(ctx, core.Draft{
		Operation:   c.operation,
		Amount:      amount,
		Description: c.description,
		Date:        c.date,
		Tags:        resolved,
	})
	if err != nil {
		c.fail(err)
		return core.Transaction{}, err
	}

	c.state = Closed
	return created, nil
}

// Cancel discards the draft with no side effects. Allowed from any state
// except an already-closed dialog.
func (c *Controller) Cancel() {
	if c.state == Closed {
		return
	}
	c.state = Closed
	c.lastErr = nil
	c.amountText = "0"
	c.description = ""
	c.tagLabels = nil
}

func (c *Controller) fail(err error) {
	c.state = ErrorVisible
	c.lastErr = err
}

// Amount returns the parsed magnitude for display, or zero while invalid.
func (c *Controller) Amount() decimal.Decimal {
	amount, err := core.ParseAmount(c.amountText)
	if err != nil {
		return decimal.Zero
	}
	return amount
}
