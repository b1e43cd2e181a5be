package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		opts      Options
		wantLevel zapcore.Level
	}{
		{name: "development", opts: Options{Development: true}, wantLevel: zapcore.DebugLevel},
		{name: "production", opts: Options{}, wantLevel: zapcore.InfoLevel},
		{name: "production with override", opts: Options{Level: "warn"}, wantLevel: zapcore.WarnLevel},
		{name: "development with override", opts: Options{Development: true, Level: " ERROR "}, wantLevel: zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger, err := New(tt.opts)
			if err != nil {
				t.Fatalf("New(%+v) error = %v", tt.opts, err)
			}
			defer logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
			if got := logger.Level(); got != tt.wantLevel {
				t.Fatalf("level = %v, want %v", got, tt.wantLevel)
			}
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{Level: "chatty"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
