package http

import (
	"net/http"
	"time"

	"thunes/internal/core"
	"thunes/internal/form"
	"thunes/internal/grid"
	"thunes/internal/ledger"
	applog "thunes/internal/log"
)

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.client.ListAccounts(r.Context())
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "List accounts failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	type accountJSON struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Currency string `json:"currency"`
	}
	out := make([]accountJSON, len(accounts))
	for i, a := range accounts {
		out[i] = accountJSON{ID: a.ID, Name: a.Name, Currency: a.Currency}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Currency string `json:"currency"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account := core.Account{
		Name:     sanitizeInput(req.Name),
		Currency: sanitizeInput(req.Currency),
	}
	if err := account.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	created, err := s.client.AddAccount(r.Context(), account)
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Add account failed", "error", err, "name", account.Name)
		writeError(w, http.StatusInternalServerError, "failed to add account")
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Currency string `json:"currency"`
	}{ID: created.ID, Name: created.Name, Currency: created.Currency})
}

func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	st, err := s.store(r.Context(), r.PathValue("account"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown account")
		return
	}

	// refresh=1 refetches the snapshot from the backend. Divergence from
	// locally confirmed rows is surfaced through the notifier.
	if r.URL.Query().Get("refresh") == "1" {
		if err := st.Reload(r.Context()); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Reload incomplete",
				"account_id", st.Account().ID, "error", err)
		}
	}

	snap := st.Snapshot()
	writeJSON(w, http.StatusOK, struct {
		Transactions []transactionJSON `json:"transactions"`
		Balance      string            `json:"balance"`
		Currency     string            `json:"currency"`
		Loaded       bool              `json:"loaded"`
	}{
		Transactions: toTransactionListJSON(snap.Transactions),
		Balance:      snap.Balance.String(),
		Currency:     snap.Currency,
		Loaded:       snap.TxsLoaded && snap.BalanceLoaded && snap.CurrencyLoaded,
	})
}

// handleAddTransaction drives the add-transaction dialog flow over the wire:
// unknown tag labels are created remotely before the record, and success is
// only reported once the backend confirms.
func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Operation   string   `json:"operation"`
		Amount      string   `json:"amount"`
		Description string   `json:"description"`
		Date        string   `json:"date"`
		Tags        []string `json:"tags"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	st, err := s.store(r.Context(), r.PathValue("account"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown account")
		return
	}
	registry, err := s.tagRegistry(r.Context())
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Tag registry unavailable", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load tags")
		return
	}

	defaultDate, err := s.client.GetDate(r.Context())
	if err != nil {
		defaultDate = time.Now().UTC()
	}

	dialog := form.New(st, registry, defaultDate)
	if req.Operation != "" {
		dialog.SetOperation(core.Operation(req.Operation))
	}
	dialog.SetAmountText(req.Amount)
	dialog.SetDescription(sanitizeInput(req.Description))
	if when, perr := parseDateParam(req.Date); perr != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid date")
		return
	} else if when != nil {
		dialog.SetDate(*when)
	}
	dialog.SetTagLabels(req.Tags)

	if !dialog.CanSubmit() {
		writeError(w, http.StatusUnprocessableEntity, "invalid amount")
		return
	}

	created, err := dialog.Submit(r.Context())
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Add transaction failed", "error", err,
			"account_id", st.Account().ID)
		writeError(w, statusForError(err), err.Error())
		return
	}
	applog.NewStructuredLogger(applog.FromContext(r.Context())).
		LogTransactionCreated(r.Context(), created.AccountID, created.ID, created.Description, created.Amount.String())
	writeJSON(w, http.StatusCreated, toTransactionJSON(created))
}

// handleUpdateTransaction applies inline edits field by field, mirroring the
// table's cell editing: each present field goes through its own commit, and a
// failure on one field does not roll back the others.
func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description *string   `json:"description"`
		Amount      *string   `json:"amount"`
		Date        *string   `json:"date"`
		Tags        *[]string `json:"tags"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	st, err := s.store(r.Context(), r.PathValue("account"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown account")
		return
	}
	registry, err := s.tagRegistry(r.Context())
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Tag registry unavailable", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load tags")
		return
	}

	rowID := r.PathValue("id")
	editor := grid.NewEditor(st, registry)

	commit := func(field grid.Field, apply func() error) error {
		if err := editor.Begin(rowID, field); err != nil {
			return err
		}
		return apply()
	}

	var commitErr error
	if req.Description != nil && commitErr == nil {
		commitErr = commit(grid.FieldDescription, func() error {
			return editor.CommitDescription(r.Context(), rowID, sanitizeInput(*req.Description))
		})
	}
	if req.Amount != nil && commitErr == nil {
		commitErr = commit(grid.FieldAmount, func() error {
			return editor.CommitAmount(r.Context(), rowID, *req.Amount)
		})
	}
	if req.Date != nil && commitErr == nil {
		when, perr := parseDateParam(*req.Date)
		if perr != nil || when == nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid date")
			return
		}
		commitErr = commit(grid.FieldDate, func() error {
			return editor.CommitDate(r.Context(), rowID, *when)
		})
	}
	if req.Tags != nil && commitErr == nil {
		commitErr = commit(grid.FieldTags, func() error {
			return editor.CommitTags(r.Context(), rowID, *req.Tags)
		})
	}

	if commitErr != nil {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Update transaction rejected", "error", commitErr,
			"transaction_id", rowID)
		writeError(w, statusForError(commitErr), commitErr.Error())
		return
	}

	updated, ok := st.Transaction(rowID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown transaction")
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(updated))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	st, err := s.store(r.Context(), r.PathValue("account"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown account")
		return
	}

	start, err := parseDateParam(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date")
		return
	}
	end, err := parseDateParam(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date")
		return
	}

	if tag := r.URL.Query().Get("tag"); tag != "" {
		balance, err := st.CategoryBalance(r.Context(), tag, start, end)
		if err != nil {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Category balance failed", "error", err, "tag", tag)
			writeError(w, http.StatusInternalServerError, "failed to compute balance")
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Tag     string `json:"tag"`
			Balance string `json:"balance"`
		}{Tag: tag, Balance: balance.String()})
		return
	}

	snap := st.Snapshot()
	txs := snap.Transactions
	if start != nil || end != nil {
		filtered := txs[:0:0]
		for _, tx := range txs {
			if start != nil && !tx.Date.After(*start) {
				continue
			}
			if end != nil && !tx.Date.Before(*end) {
				continue
			}
			filtered = append(filtered, tx)
		}
		txs = filtered
	}
	breakdown := ledger.Aggregate(txs)

	writeJSON(w, http.StatusOK, struct {
		Total    string           `json:"total"`
		Needs    string           `json:"needs"`
		Wants    string           `json:"wants"`
		Savings  string           `json:"savings"`
		Ideal    map[string]int64 `json:"ideal_split"`
		Currency string           `json:"currency"`
	}{
		Total:    breakdown.Total.String(),
		Needs:    breakdown.Needs.String(),
		Wants:    breakdown.Wants.String(),
		Savings:  breakdown.Savings.String(),
		Ideal:    ledger.IdealSplit,
		Currency: snap.Currency,
	})
}

func (s *Server) handleGetCurrency(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account")

	currency, found := s.currencyCache.Get(accountID)
	if !found {
		var err error
		currency, err = s.client.GetCurrency(r.Context(), accountID)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown account")
			return
		}
		s.currencyCache.Set(accountID, currency)
	}

	writeJSON(w, http.StatusOK, struct {
		Currency string `json:"currency"`
	}{Currency: currency})
}

func (s *Server) handleGetTags(w http.ResponseWriter, r *http.Request) {
	known, err := s.client.GetTags(r.Context())
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "List tags failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tags")
		return
	}
	writeJSON(w, http.StatusOK, known)
}

func (s *Server) handleAddTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Labels []string `json:"labels"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Labels) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no labels")
		return
	}

	registry, err := s.tagRegistry(r.Context())
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Tag registry unavailable", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load tags")
		return
	}

	resolved, err := registry.Ensure(r.Context(), s.client, req.Labels)
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Add tags failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create tags")
		return
	}
	writeJSON(w, http.StatusCreated, resolved)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, found := s.settingsCache.Get("settings")
	if !found {
		var err error
		settings, err = s.client.GetSettings(r.Context())
		if err != nil {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Get settings failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load settings")
			return
		}
		s.settingsCache.Set("settings", settings)
	}

	writeJSON(w, http.StatusOK, struct {
		AccountsPath string     `json:"accounts_path"`
		Theme        string     `json:"theme"`
		Tags         []core.Tag `json:"tags"`
	}{
		AccountsPath: settings.AccountsPath,
		Theme:        settings.Theme,
		Tags:         settings.Tags,
	})
}

func (s *Server) handleGetDate(w http.ResponseWriter, r *http.Request) {
	date, err := s.client.GetDate(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read backend clock")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Date string `json:"date"`
	}{Date: date.Format(dateParamLayout)})
}

// handleGetStats reports request, rate-limit and detection counters for
// operational visibility.
func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	traffic := s.tracer.GetMetrics()
	detection := s.detector.GetMetrics()

	writeJSON(w, http.StatusOK, struct {
		TotalRequests      int64 `json:"total_requests"`
		AvgResponseMicros  int64 `json:"avg_response_us"`
		ActiveClients      int   `json:"active_clients"`
		SuspiciousRequests int64 `json:"suspicious_requests"`
		InvalidIPAttempts  int64 `json:"invalid_ip_attempts"`
	}{
		TotalRequests:      traffic.TotalRequests,
		AvgResponseMicros:  traffic.AverageResponseTime,
		ActiveClients:      s.limiter.ActiveClients(),
		SuspiciousRequests: detection.SuspiciousRequests,
		InvalidIPAttempts:  detection.InvalidIPAttempts,
	})
}
