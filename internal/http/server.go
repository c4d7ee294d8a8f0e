// Package http is the JSON transport shell over the ledger core: accounts,
// the cached transaction table, the balance breakdown and the tag registry.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"thunes/internal/backend"
	"thunes/internal/cache"
	"thunes/internal/core"
	"thunes/internal/ledger"
	applog "thunes/internal/log"
	"thunes/internal/middleware/ratelimit"
	"thunes/internal/middleware/security"
	"thunes/internal/middleware/trace"
	"thunes/internal/notify"
	"thunes/internal/tags"
)

type Server struct {
	http.Server

	client   backend.Client
	notifier notify.Notifier
	timeout  time.Duration

	mu       sync.Mutex
	stores   map[string]*ledger.Store // account id -> loaded view store
	registry *tags.Registry

	currencyCache *cache.LRUCache[string]
	settingsCache *cache.LRUCache[core.Settings]
	cacheManager  *cache.Manager

	limiter      *ratelimit.Limiter
	detector     *security.Detector
	tracer       *trace.Middleware
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, client backend.Client, requestTimeout time.Duration) *Server {
	mux := http.NewServeMux()

	s := &Server{
		client:        client,
		notifier:      notify.Log{},
		timeout:       requestTimeout,
		stores:        make(map[string]*ledger.Store),
		currencyCache: cache.NewLRUCache[string](100, 10*time.Minute),
		settingsCache: cache.NewLRUCache[core.Settings](1, time.Minute),
		cacheManager:  cache.NewManager(),
		limiter:       ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		detector:      security.NewDetector(),
	}

	s.cacheManager.Register(s.currencyCache)
	s.cacheManager.Register(s.settingsCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("GET /api/accounts", s.handleListAccounts)
	mux.HandleFunc("POST /api/accounts", s.handleAddAccount)
	mux.HandleFunc("GET /api/accounts/{account}/transactions", s.handleGetTransactions)
	mux.HandleFunc("POST /api/accounts/{account}/transactions", s.handleAddTransaction)
	mux.HandleFunc("PATCH /api/accounts/{account}/transactions/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("GET /api/accounts/{account}/balance", s.handleGetBalance)
	mux.HandleFunc("GET /api/accounts/{account}/currency", s.handleGetCurrency)

	mux.HandleFunc("GET /api/tags", s.handleGetTags)
	mux.HandleFunc("POST /api/tags", s.handleAddTags)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("GET /api/date", s.handleGetDate)
	mux.HandleFunc("GET /api/stats", s.handleGetStats)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP)
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, nil)
	logged := applog.Middleware(applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentHTTP))
	traced := applog.RequestIDMiddleware(func(r *http.Request) string {
		return trace.GetRequestID(r.Context())
	})

	s.Server = http.Server{
		Addr:    addr,
		Handler: s.tracer.Middleware(logged(traced(headers.Middleware(limited(s.rejectSuspicious(mux)))))),
	}
	return s
}

// Preload warms the view store for the configured default account so the
// first page view doesn't pay the initial load. A missing account is not
// fatal; the server still serves whatever accounts exist.
func (s *Server) Preload(ctx context.Context, accountID string) {
	if accountID == "" {
		return
	}
	if _, err := s.store(ctx, accountID); err != nil {
		slog.WarnContext(ctx, "Default account preload failed",
			"account_id", accountID, "error", err)
	}
}

// rejectSuspicious drops requests matching known probe patterns before they
// reach a handler.
func (s *Server) rejectSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			slog.WarnContext(r.Context(), "Suspicious request rejected",
				"path", r.URL.Path, "client_ip", s.detector.ExtractClientIP(r))
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops background routines, flushes pending ledger writes and shuts
// down the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()

		s.mu.Lock()
		stores := make([]*ledger.Store, 0, len(s.stores))
		for _, st := range s.stores {
			stores = append(stores, st)
		}
		s.mu.Unlock()
		for _, st := range stores {
			st.Flush()
			st.Close()
		}

		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// store returns the loaded view store for an account, creating it on first
// access. The initial Load failure is not fatal: partial slices stay marked
// unloaded and a later Reload can fill them.
func (s *Server) store(ctx context.Context, accountID string) (*ledger.Store, error) {
	s.mu.Lock()
	if st, ok := s.stores[accountID]; ok {
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	account, err := s.client.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("resolve account %s: %w", accountID, err)
	}

	st := ledger.NewStore(account, s.client, s.notifier, ledger.WithTimeout(s.timeout))
	if err := st.Load(ctx); err != nil {
		slog.WarnContext(ctx, "Partial account load", "account_id", accountID, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.stores[accountID]; ok {
		st.Close()
		return prior, nil
	}
	s.stores[accountID] = st
	return st, nil
}

// tagRegistry returns the shared registry, hydrated from the backend on first
// use.
func (s *Server) tagRegistry(ctx context.Context) (*tags.Registry, error) {
	s.mu.Lock()
	if s.registry != nil {
		defer s.mu.Unlock()
		return s.registry, nil
	}
	s.mu.Unlock()

	known, err := s.client.GetTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry == nil {
		s.registry = tags.NewRegistry(known)
	}
	return s.registry, nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
