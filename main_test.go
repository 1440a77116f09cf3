package main

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level     string
		wantLevel slog.Level
		wantErr   bool
	}{
		{level: "debug", wantLevel: slog.LevelDebug},
		{level: "info", wantLevel: slog.LevelInfo},
		{level: "WARN", wantLevel: slog.LevelWarn},
		{level: "error", wantLevel: slog.LevelError},
		{level: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := newLogger(tt.level)
			if tt.wantErr {
				if err == nil {
					t.Fatal("newLogger() error = nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("newLogger() error = %v", err)
			}
			ctx := context.Background()
			if !logger.Enabled(ctx, tt.wantLevel) {
				t.Errorf("level %v disabled", tt.wantLevel)
			}
			if tt.wantLevel > slog.LevelDebug && logger.Enabled(ctx, tt.wantLevel-1) {
				t.Errorf("level below %v enabled", tt.wantLevel)
			}
		})
	}
}
