package internal

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadConfigDefaults tests that default values are applied when loading
// an empty config.
func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.GitHub.WebhookPath != "/webhooks/github" {
		t.Fatalf("expected default webhook path, got %q", cfg.GitHub.WebhookPath)
	}
	if cfg.SSE.Path != "/events" {
		t.Fatalf("expected default sse path, got %q", cfg.SSE.Path)
	}
	if cfg.SSE.HeartbeatMS != 30000 {
		t.Fatalf("expected 30s heartbeat default, got %d", cfg.SSE.HeartbeatMS)
	}
	if cfg.SSE.MaxSessionAgeMS != 29*60*1000 {
		t.Fatalf("expected 29m session default, got %d", cfg.SSE.MaxSessionAgeMS)
	}
	if cfg.Watermill.Driver != "gochannel" {
		t.Fatalf("expected default relay driver, got %q", cfg.Watermill.Driver)
	}
}

// TestLoadConfigEnvExpansion tests that ${VAR} references resolve from the
// environment.
func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_SECRET", "hunter2")

	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	body := "github:\n  webhook_secret: ${TEST_WEBHOOK_SECRET}\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.GitHub.WebhookSecret != "hunter2" {
		t.Fatalf("expected expanded secret, got %q", cfg.GitHub.WebhookSecret)
	}
}

// TestLoadConfigRuleValidation tests that incomplete rules are rejected.
func TestLoadConfigRuleValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	body := "rules:\n  - when: 'event == \"workflow_run\"'\n    emit: ''\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for rule missing emit")
	}
}
