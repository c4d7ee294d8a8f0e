// Package notify is the single user-visible surface for remote failures.
// Every failed remote call is routed here, so no failure class is logged
// silently while another pops a notification.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

type Severity string

const (
	Info    Severity = "info"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Notifier delivers a transient, user-visible notification.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, message string)
}

// Log is a Notifier backed by structured logging, used when no interactive
// surface is attached (workers, tests of the server binary).
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, severity Severity, message string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch severity {
	case Error:
		logger.ErrorContext(ctx, message, "notification", true)
	case Warning:
		logger.WarnContext(ctx, message, "notification", true)
	default:
		logger.InfoContext(ctx, message, "notification", true)
	}
}

// Recorder captures notifications for assertions in tests.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

type Entry struct {
	Severity Severity
	Message  string
}

func (r *Recorder) Notify(_ context.Context, severity Severity, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Severity: severity, Message: message})
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}
