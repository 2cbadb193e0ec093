package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avekseev/fileguard/internal/model"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Watch.DebounceMS != 150 {
		t.Errorf("expected DebounceMS=150, got %d", cfg.Watch.DebounceMS)
	}
	if cfg.Watch.StabilityWindowMS != 200 {
		t.Errorf("expected StabilityWindowMS=200, got %d", cfg.Watch.StabilityWindowMS)
	}
	if cfg.Backup.Keep != 5 {
		t.Errorf("expected Backup.Keep=5, got %d", cfg.Backup.Keep)
	}
	if cfg.RescanIntervalS != 60 {
		t.Errorf("expected RescanIntervalS=60, got %d", cfg.RescanIntervalS)
	}
	if filepath.Base(cfg.Paths.Baseline) != "baseline.json" {
		t.Errorf("unexpected baseline path %s", cfg.Paths.Baseline)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv(EnvSecret, "unit-test-signing-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.Watch.DebounceMS != 150 {
		t.Errorf("expected default DebounceMS=150, got %d", cfg.Watch.DebounceMS)
	}
	if cfg.Secret != "unit-test-signing-key" {
		t.Errorf("secret not taken from environment: %q", cfg.Secret)
	}
}

func TestLoadWithoutSecretFails(t *testing.T) {
	t.Setenv(EnvSecret, "")

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestLoadParsesPolicyAndOverrides(t *testing.T) {
	t.Setenv(EnvSecret, "unit-test-signing-key")
	t.Setenv(EnvAlertURL, "http://127.0.0.1:9/hook")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
protect:
  critical:
    - path: /etc/guard/app.bin
  high:
    - path: /etc/guard/conf.d
      recurse: true
      extensions: [yaml, json]
watch:
  debounce_ms: 75
backup:
  keep: 3
rescan_interval_s: 10
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Protect[model.TierCritical]) != 1 {
		t.Fatalf("expected 1 critical source, got %d", len(cfg.Protect[model.TierCritical]))
	}
	high := cfg.Protect[model.TierHigh]
	if len(high) != 1 || !high[0].Recurse || len(high[0].Extensions) != 2 {
		t.Errorf("high tier source parsed wrong: %+v", high)
	}
	if cfg.Debounce() != 75*time.Millisecond {
		t.Errorf("expected 75ms debounce, got %v", cfg.Debounce())
	}
	if cfg.Backup.Keep != 3 {
		t.Errorf("expected Backup.Keep=3, got %d", cfg.Backup.Keep)
	}
	if cfg.RescanInterval() != 10*time.Second {
		t.Errorf("expected 10s rescan, got %v", cfg.RescanInterval())
	}
	if cfg.AlertURL != "http://127.0.0.1:9/hook" {
		t.Errorf("alert URL not taken from environment: %q", cfg.AlertURL)
	}
}

func TestLoadRejectsUnknownTier(t *testing.T) {
	t.Setenv(EnvSecret, "unit-test-signing-key")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "protect:\n  severe:\n    - path: /tmp/x\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	t.Setenv(EnvSecret, "unit-test-signing-key")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("protect: [:::"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRepairsNonPositiveKnobs(t *testing.T) {
	cfg := Default()
	cfg.Watch.DebounceMS = -1
	cfg.RescanIntervalS = 0

	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Watch.DebounceMS != 150 {
		t.Errorf("expected debounce repaired to 150, got %d", cfg.Watch.DebounceMS)
	}
	if cfg.RescanIntervalS != 60 {
		t.Errorf("expected rescan repaired to 60, got %d", cfg.RescanIntervalS)
	}
}
