package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"thunes/internal/core"
	"thunes/internal/ledger"
)

const dateParamLayout = "2006-01-02"

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads the request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// parseDateParam parses an optional YYYY-MM-DD query parameter.
func parseDateParam(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateParamLayout, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// statusForError maps core and store errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnknownTransaction):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidOperation),
		errors.Is(err, core.ErrEmptyDescription),
		errors.Is(err, core.ErrDuplicateTag),
		errors.Is(err, core.ErrUnresolvedTag):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// transactionJSON is the wire shape of one ledger row.
type transactionJSON struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	Amount      string     `json:"amount"`
	Operation   string     `json:"operation"`
	Description string     `json:"description"`
	Date        time.Time  `json:"date"`
	Tags        []core.Tag `json:"tags"`
}

func toTransactionJSON(tx core.Transaction) transactionJSON {
	return transactionJSON{
		ID:          tx.ID,
		AccountID:   tx.AccountID,
		Amount:      tx.Amount.String(),
		Operation:   string(tx.Operation()),
		Description: tx.Description,
		Date:        tx.Date,
		Tags:        tx.Tags,
	}
}

func toTransactionListJSON(txs []core.Transaction) []transactionJSON {
	out := make([]transactionJSON, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionJSON(tx)
	}
	return out
}
