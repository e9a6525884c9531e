package logger

import (
	"context"
	"testing"

	"livecode/pkg/utils/contextkey"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetGlobal(NewWithZap(zap.New(core)))
	defer SetGlobal(nil)

	ctx := context.WithValue(context.Background(), contextkey.ConnectionID, "conn-1")
	ctx = context.WithValue(ctx, contextkey.SessionID, "sess-1")
	Info(ctx, "session started", zap.String("language", "python"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["connection_id"] != "conn-1" || fields["session_id"] != "sess-1" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if fields["language"] != "python" {
		t.Fatalf("missing call-site field: %v", fields)
	}
}

func TestGlobalFunctionsAreNoopWithoutLogger(t *testing.T) {
	SetGlobal(nil)
	Info(context.Background(), "dropped")
	if err := Sync(); err != nil {
		t.Fatalf("sync without logger: %v", err)
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
