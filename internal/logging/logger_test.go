package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range cases {
		logger, err := New(in)
		if err != nil {
			t.Fatalf("New(%q) error = %v", in, err)
		}
		if !logger.Core().Enabled(want) {
			t.Errorf("New(%q): level %v not enabled", in, want)
		}
		if want > zapcore.DebugLevel && logger.Core().Enabled(want-1) {
			t.Errorf("New(%q): level %v unexpectedly enabled", in, want-1)
		}
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	scoped := zap.New(core).With(zap.String("request_id", "r-1"))

	ctx := WithContext(context.Background(), scoped)
	FromContext(ctx, zap.NewNop()).Info("hello")

	if logs.Len() != 1 {
		t.Fatalf("logged %d entries, want 1", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["request_id"]; got != "r-1" {
		t.Errorf("request_id = %v, want r-1", got)
	}

	fallback := zap.NewNop()
	if FromContext(context.Background(), fallback) != fallback {
		t.Error("FromContext without a logger must return the fallback")
	}
}
