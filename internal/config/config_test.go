package config

import (
	"strings"
	"testing"
)

const goodSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEDGERSYNC_SECRET", goodSecret)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("default port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.Database.Path != "ledgersync.db" {
		t.Fatalf("default db path = %q", cfg.Database.Path)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LEDGERSYNC_SECRET", goodSecret)
	t.Setenv("LEDGERSYNC_HTTP__PORT", "9999")
	t.Setenv("LEDGERSYNC_XERO__CLIENT_ID", "xero-app")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 9999 {
		t.Fatalf("port = %d, want 9999", cfg.HTTP.Port)
	}
	if cfg.Xero.ClientID != "xero-app" {
		t.Fatalf("xero client id = %q", cfg.Xero.ClientID)
	}
}

func TestLoad_FailsFastOnWeakSecret(t *testing.T) {
	t.Setenv("LEDGERSYNC_SECRET", "short")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "secret") {
		t.Fatalf("expected secret validation error, got %v", err)
	}

	t.Setenv("LEDGERSYNC_SECRET", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for missing secret")
	}
}
