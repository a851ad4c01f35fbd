package main

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_StructuredArgs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := newZapLogger(zap.New(core))

	logger.Info("delivery tick completed", "claimed", 3, "delivered", 2)
	logger.Trace("trace maps to debug")
	logger.WithFields(map[string]any{"bot_id": "bot-1", "operation": "deliver"}).Error("deliver failed", "error", errors.New("boom"))

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if entries[0].Message != "delivery tick completed" || first["claimed"] != int64(3) {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Level != zapcore.DebugLevel {
		t.Fatalf("expected trace at debug level, got %s", entries[1].Level)
	}
	third := entries[2].ContextMap()
	if third["bot_id"] != "bot-1" || third["operation"] != "deliver" || third["error"] != "boom" {
		t.Fatalf("expected fields on error entry, got %v", third)
	}
}

func TestZapLogger_NamedComponents(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	provider := newZapLogger(zap.New(core))

	provider.GetLogger("botrelay.worker").Info("started")
	if got := logs.All()[0].LoggerName; got != "botrelay.worker" {
		t.Fatalf("expected named logger, got %q", got)
	}
	if newZapLogger(nil) == nil {
		t.Fatalf("expected nop-backed logger")
	}
}
