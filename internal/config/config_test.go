package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Fetch.MaxRetries != 3 || cfg.Fetch.RetryBackoff != "500ms" {
		t.Errorf("fetch defaults = %+v", cfg.Fetch)
	}
	if !cfg.Notify.SuppressEmptyOrDefault() {
		t.Error("suppression should default on")
	}
	if cfg.Storage.StagingEnabled() {
		t.Error("staging should be off without a bucket")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  path: /tmp/test.db
tasks:
  path: /tmp/tasks.yaml
notify:
  from: watch@example.test
  suppress_empty: false
storage:
  bucket: scraped-reports
  region: eu-north-1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if cfg.Notify.SuppressEmptyOrDefault() {
		t.Error("suppression should be disabled by file")
	}
	if !cfg.Storage.StagingEnabled() || cfg.Storage.Region != "eu-north-1" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	// Untouched sections keep their defaults.
	if cfg.Fetch.UserAgent != "sswatch/1.0" {
		t.Errorf("user agent = %q", cfg.Fetch.UserAgent)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
`)
	t.Setenv("SSW_PORT", "7070")
	t.Setenv("SSW_MAIL_API_KEY", "key-from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override", cfg.Server.Port)
	}
	if cfg.Notify.APIKey != "key-from-env" {
		t.Errorf("api key = %q", cfg.Notify.APIKey)
	}
}

func TestMailRecipients(t *testing.T) {
	path := writeConfig(t, `
notify:
  recipients:
    - from-file@example.test
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Notify.Recipients) != 1 || cfg.Notify.Recipients[0] != "from-file@example.test" {
		t.Errorf("recipients = %v, want the file list", cfg.Notify.Recipients)
	}

	t.Setenv("SSW_MAIL_TO", "a@example.test, b@example.test,")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"a@example.test", "b@example.test"}
	if len(cfg.Notify.Recipients) != 2 || cfg.Notify.Recipients[0] != want[0] || cfg.Notify.Recipients[1] != want[1] {
		t.Errorf("recipients = %v, want env override %v", cfg.Notify.Recipients, want)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
fetch:
  retry_backoff: soon
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 70000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("1m30s", time.Second); got != 90*time.Second {
		t.Errorf("Duration = %v", got)
	}
	if got := Duration("", 5*time.Second); got != 5*time.Second {
		t.Errorf("empty should fall back, got %v", got)
	}
}
