package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.DatabaseTarget() != cfg.DatabasePath {
		t.Errorf("DatabaseTarget() = %q, want %q", cfg.DatabaseTarget(), cfg.DatabasePath)
	}

	// LOG_LEVEL=warnではINFOは出力されない
	slog.Default().Info("suppressed")
	slog.Default().Warn("init test")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a single JSON log line, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}

	t.Setenv("LOG_LEVEL", "info")
	if _, err := Init(&buf); err != nil {
		t.Fatalf("failed to reset log level: %v", err)
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("BASE_URL", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"postgres://seva:secret@db:5432/seva?sslmode=disable", "postgres://redacted@db:5432/seva"},
		{"postgres://db:5432/seva", "postgres://db:5432/seva"},
		{"/var/lib/seva/seva.db", "/var/lib/seva/seva.db"},
		{"sqlite://data/seva.db", "sqlite://data/seva.db"},
		{"postgres://user:%zz@db/seva", "***"},
	}
	for _, tt := range tests {
		if got := maskDatabaseURL(tt.raw); got != tt.want {
			t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
