package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"thunes/internal/backend/memory"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(":0", memory.New(), 5*time.Second)
	ts := httptest.NewServer(s.Server.Handler)
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createAccount(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/accounts", map[string]string{
		"name": "checking", "currency": "EUR",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create account: status %d", resp.StatusCode)
	}
	var account struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &account)
	if account.ID == "" {
		t.Fatal("account id not assigned")
	}
	return account.ID
}

func TestHealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status %d", path, resp.StatusCode)
		}
	}
}

func TestAddTransactionCreatesTagsFirst(t *testing.T) {
	_, ts := newTestServer(t)
	accountID := createAccount(t, ts)

	resp := postJSON(t, fmt.Sprintf("%s/api/accounts/%s/transactions", ts.URL, accountID), map[string]any{
		"operation":   "expense",
		"amount":      "45,99",
		"description": "groceries",
		"date":        "2025-03-14",
		"tags":        []string{"needs"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add transaction: status %d", resp.StatusCode)
	}
	var created struct {
		ID        string `json:"id"`
		Amount    string `json:"amount"`
		Operation string `json:"operation"`
		Tags      []struct {
			ID    string `json:"id"`
			Label string `json:"label"`
		} `json:"tags"`
	}
	decodeBody(t, resp, &created)

	if created.Amount != "-45.99" {
		t.Errorf("amount = %q, want -45.99", created.Amount)
	}
	if created.Operation != "expense" {
		t.Errorf("operation = %q", created.Operation)
	}
	if len(created.Tags) != 1 || created.Tags[0].Label != "needs" || created.Tags[0].ID == "" {
		t.Errorf("tags = %+v, want one id-bearing needs tag", created.Tags)
	}

	listResp, err := http.Get(fmt.Sprintf("%s/api/accounts/%s/transactions", ts.URL, accountID))
	if err != nil {
		t.Fatal(err)
	}
	var table struct {
		Transactions []struct {
			ID string `json:"id"`
		} `json:"transactions"`
		Balance string `json:"balance"`
	}
	decodeBody(t, listResp, &table)
	if len(table.Transactions) != 1 || table.Transactions[0].ID != created.ID {
		t.Fatalf("table = %+v", table)
	}
	if table.Balance != "-45.99" {
		t.Errorf("balance = %q", table.Balance)
	}
}

func TestAddTransactionRejectsMalformedAmount(t *testing.T) {
	_, ts := newTestServer(t)
	accountID := createAccount(t, ts)

	resp := postJSON(t, fmt.Sprintf("%s/api/accounts/%s/transactions", ts.URL, accountID), map[string]any{
		"operation":   "expense",
		"amount":      "12.5.6",
		"description": "broken",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestUpdateTransactionPatchesFields(t *testing.T) {
	_, ts := newTestServer(t)
	accountID := createAccount(t, ts)

	resp := postJSON(t, fmt.Sprintf("%s/api/accounts/%s/transactions", ts.URL, accountID), map[string]any{
		"operation":   "expense",
		"amount":      "10",
		"description": "coffee",
	})
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)

	body, _ := json.Marshal(map[string]any{"description": "espresso", "amount": "-12.50"})
	req, err := http.NewRequest(http.MethodPatch,
		fmt.Sprintf("%s/api/accounts/%s/transactions/%s", ts.URL, accountID, created.ID),
		bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	patchResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if patchResp.StatusCode != http.StatusOK {
		t.Fatalf("patch: status %d", patchResp.StatusCode)
	}
	var updated struct {
		Description string `json:"description"`
		Amount      string `json:"amount"`
	}
	decodeBody(t, patchResp, &updated)
	if updated.Description != "espresso" {
		t.Errorf("description = %q", updated.Description)
	}
	if updated.Amount != "-12.5" {
		t.Errorf("amount = %q, want -12.5", updated.Amount)
	}
}

func TestUpdateUnknownTransactionIs404(t *testing.T) {
	_, ts := newTestServer(t)
	accountID := createAccount(t, ts)

	body, _ := json.Marshal(map[string]any{"description": "ghost"})
	req, err := http.NewRequest(http.MethodPatch,
		fmt.Sprintf("%s/api/accounts/%s/transactions/no-such-id", ts.URL, accountID),
		bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBalanceBreakdownInvertsCategorySign(t *testing.T) {
	_, ts := newTestServer(t)
	accountID := createAccount(t, ts)

	seed := []map[string]any{
		{"operation": "expense", "amount": "100", "description": "rent", "tags": []string{"needs"}},
		{"operation": "income", "amount": "200", "description": "salary"},
	}
	for _, tx := range seed {
		resp := postJSON(t, fmt.Sprintf("%s/api/accounts/%s/transactions", ts.URL, accountID), tx)
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("seed: status %d", resp.StatusCode)
		}
	}

	resp, err := http.Get(fmt.Sprintf("%s/api/accounts/%s/balance", ts.URL, accountID))
	if err != nil {
		t.Fatal(err)
	}
	var breakdown struct {
		Total string           `json:"total"`
		Needs string           `json:"needs"`
		Ideal map[string]int64 `json:"ideal_split"`
	}
	decodeBody(t, resp, &breakdown)

	if breakdown.Total != "100" {
		t.Errorf("total = %q, want 100", breakdown.Total)
	}
	if breakdown.Needs != "100" {
		t.Errorf("needs = %q, want 100 (spent shown positive)", breakdown.Needs)
	}
	if breakdown.Ideal["needs"] != 50 || breakdown.Ideal["wants"] != 30 || breakdown.Ideal["savings"] != 20 {
		t.Errorf("ideal split = %v", breakdown.Ideal)
	}
}

func TestCurrencyEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	accountID := createAccount(t, ts)

	for i := 0; i < 2; i++ { // second read comes from cache
		resp, err := http.Get(fmt.Sprintf("%s/api/accounts/%s/currency", ts.URL, accountID))
		if err != nil {
			t.Fatal(err)
		}
		var out struct {
			Currency string `json:"currency"`
		}
		decodeBody(t, resp, &out)
		if out.Currency != "EUR" {
			t.Errorf("currency = %q", out.Currency)
		}
	}
}

func TestSettingsIncludeTags(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/tags", map[string]any{"labels": []string{"needs", "wants"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add tags: status %d", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/api/settings")
	if err != nil {
		t.Fatal(err)
	}
	var settings struct {
		Theme string `json:"theme"`
		Tags  []struct {
			Label string `json:"label"`
		} `json:"tags"`
	}
	decodeBody(t, getResp, &settings)
	if len(settings.Tags) != 2 {
		t.Fatalf("tags = %+v, want 2", settings.Tags)
	}
}

func TestSuspiciousPathRejected(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/../.env")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatsReportCounters(t *testing.T) {
	_, ts := newTestServer(t)

	warmup, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	warmup.Body.Close()

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	var stats struct {
		TotalRequests      int64 `json:"total_requests"`
		SuspiciousRequests int64 `json:"suspicious_requests"`
	}
	decodeBody(t, resp, &stats)
	if stats.TotalRequests < 1 {
		t.Fatalf("total_requests = %d, want at least 1", stats.TotalRequests)
	}
	if stats.SuspiciousRequests != 0 {
		t.Fatalf("suspicious_requests = %d, want 0", stats.SuspiciousRequests)
	}
}

func TestPreloadWarmsDefaultAccountStore(t *testing.T) {
	s, ts := newTestServer(t)
	accountID := createAccount(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Preload(ctx, accountID)

	s.mu.Lock()
	st, ok := s.stores[accountID]
	s.mu.Unlock()
	if !ok {
		t.Fatal("expected the store to be loaded ahead of the first request")
	}
	snap := st.Snapshot()
	if !snap.TxsLoaded || !snap.BalanceLoaded || !snap.CurrencyLoaded {
		t.Fatalf("expected a fully loaded snapshot, got %+v", snap)
	}

	// Unknown accounts are skipped without poisoning the store map.
	s.Preload(ctx, "missing")
	s.mu.Lock()
	_, ok = s.stores["missing"]
	s.mu.Unlock()
	if ok {
		t.Fatal("unknown account must not be cached")
	}
}

func TestRefreshQueryPicksUpBackendChanges(t *testing.T) {
	s, ts := newTestServer(t)
	accountID := createAccount(t, ts)

	resp := postJSON(t, ts.URL+"/api/accounts/"+accountID+"/transactions", map[string]any{
		"operation":   "expense",
		"amount":      "10",
		"description": "coffee",
		"date":        "2025-06-01",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create transaction: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Change the row directly on the backend, bypassing the view store.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	backendTxs, err := s.client.GetTransactions(ctx, accountID)
	if err != nil || len(backendTxs) != 1 {
		t.Fatalf("backend list: n=%d err=%v", len(backendTxs), err)
	}
	changed := backendTxs[0]
	changed.Description = "espresso"
	if _, err := s.client.UpdateTransaction(ctx, changed); err != nil {
		t.Fatal(err)
	}

	var table struct {
		Transactions []struct {
			Description string `json:"description"`
		} `json:"transactions"`
	}

	cached, err := http.Get(ts.URL + "/api/accounts/" + accountID + "/transactions")
	if err != nil {
		t.Fatal(err)
	}
	decodeBody(t, cached, &table)
	if len(table.Transactions) != 1 || table.Transactions[0].Description != "coffee" {
		t.Fatalf("cached view must not see the backend change yet: %+v", table.Transactions)
	}

	refreshed, err := http.Get(ts.URL + "/api/accounts/" + accountID + "/transactions?refresh=1")
	if err != nil {
		t.Fatal(err)
	}
	decodeBody(t, refreshed, &table)
	if len(table.Transactions) != 1 || table.Transactions[0].Description != "espresso" {
		t.Fatalf("refresh must refetch from the backend: %+v", table.Transactions)
	}
}
