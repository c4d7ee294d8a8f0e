package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func captureLogger(buf *bytes.Buffer, component string) *Logger {
	return New(Config{
		Level:     slog.LevelDebug,
		Component: component,
		Handler:   slog.NewTextHandler(buf, nil),
	})
}

func TestEveryLineCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf, ComponentLedger)

	logger.Info("loaded", "rows", 3)

	line := buf.String()
	if !strings.Contains(line, "component=ledger") {
		t.Fatalf("missing component attribute: %q", line)
	}
	if !strings.Contains(line, "rows=3") {
		t.Fatalf("missing call attributes: %q", line)
	}
}

func TestWithComponentRebindsWithoutDuplicates(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf, ComponentApp).
		With("request_id", "req_1").
		WithComponent(ComponentHTTP)

	logger.Info("handled")

	line := buf.String()
	if strings.Count(line, "component=") != 1 {
		t.Fatalf("component attribute must appear exactly once: %q", line)
	}
	if !strings.Contains(line, "component=http") {
		t.Fatalf("expected the rebound component: %q", line)
	}
	if !strings.Contains(line, "request_id=req_1") {
		t.Fatalf("earlier attributes must survive a rebind: %q", line)
	}
	if logger.Component() != ComponentHTTP {
		t.Fatalf("component = %q", logger.Component())
	}
}
