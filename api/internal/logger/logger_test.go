package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestInitLevels(t *testing.T) {
	ctx := context.Background()

	Init("debug", "text")
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		t.Error("debug level not enabled")
	}

	Init("error", "json")
	if slog.Default().Enabled(ctx, slog.LevelWarn) {
		t.Error("warn should be suppressed at error level")
	}
	if !slog.Default().Enabled(ctx, slog.LevelError) {
		t.Error("error level not enabled")
	}

	Init("nonsense", "text")
	if !slog.Default().Enabled(ctx, slog.LevelInfo) {
		t.Error("unknown level should default to info")
	}
}
