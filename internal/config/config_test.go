package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evolve.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"oracle": {"driver": "static", "static_value": "42000"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if !cfg.Policy.HighThreshold.Equal(decimal.NewFromInt(50000)) || !cfg.Policy.LowThreshold.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected thresholds %s/%s", cfg.Policy.LowThreshold, cfg.Policy.HighThreshold)
	}
	if cfg.Policy.CooldownSeconds != 3600 {
		t.Fatalf("unexpected cooldown %d", cfg.Policy.CooldownSeconds)
	}
	if cfg.Registry.Driver != "memory" || cfg.Auth.Mode != "disabled" {
		t.Fatalf("unexpected drivers: %+v %+v", cfg.Registry, cfg.Auth)
	}
	if len(cfg.Notify.Sinks) != 1 || cfg.Notify.Sinks[0] != "log" {
		t.Fatalf("unexpected sinks %v", cfg.Notify.Sinks)
	}
	if cfg.Runtime.DataDir != filepath.Join(filepath.Dir(path), "data") {
		t.Fatalf("unexpected data dir %q", cfg.Runtime.DataDir)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `{"oracle": {"driver": "static", "static_value": 1}, "policy": {"cooldown_seconds": 120}}`)
	t.Setenv("EVOLVE_POLICY_HIGH_THRESHOLD", "70000.5")
	t.Setenv("EVOLVE_SERVER_ADDRESS", "127.0.0.1:9000")
	t.Setenv("EVOLVE_NOTIFY_SINKS", "log, memory")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Policy.HighThreshold.Equal(decimal.RequireFromString("70000.5")) {
		t.Fatalf("env threshold not applied: %s", cfg.Policy.HighThreshold)
	}
	if cfg.Policy.CooldownSeconds != 120 {
		t.Fatalf("file value should survive env parsing, got %d", cfg.Policy.CooldownSeconds)
	}
	if cfg.Server.Address != "127.0.0.1:9000" {
		t.Fatalf("env address not applied: %q", cfg.Server.Address)
	}
	if len(cfg.Notify.Sinks) != 2 || cfg.Notify.Sinks[1] != "memory" {
		t.Fatalf("unexpected sinks %v", cfg.Notify.Sinks)
	}
}

func TestLoadRejectsInvalidDrivers(t *testing.T) {
	cases := map[string]string{
		"oracle":   `{"oracle": {"driver": "carrier-pigeon"}}`,
		"registry": `{"oracle": {"static_value": 1}, "registry": {"driver": "mysql"}}`,
		"journal":  `{"oracle": {"static_value": 1}, "notify": {"sinks": ["journal"]}}`,
		"auth":     `{"oracle": {"static_value": 1}, "auth": {"mode": "jwt"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadResolvesRelativePathsAndAlerting(t *testing.T) {
	path := writeConfig(t, `{
		"oracle": {"driver": "chainlink", "feeds_file": "feeds.yaml"},
		"registry": {"driver": "sqlite"}
	}`)
	t.Setenv("EVOLVE_ALERT_WEBHOOK_URL", "https://hooks.example/evolve")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dir := filepath.Dir(path)
	if cfg.Oracle.FeedsFile != filepath.Join(dir, "feeds.yaml") {
		t.Fatalf("feeds file not resolved against config dir: %q", cfg.Oracle.FeedsFile)
	}
	if cfg.Registry.DSN != filepath.Join(dir, "data", "evolve.db") {
		t.Fatalf("sqlite dsn should default into the data dir, got %q", cfg.Registry.DSN)
	}
	if cfg.Alerting.WebhookURL != "https://hooks.example/evolve" {
		t.Fatalf("alert webhook not applied: %q", cfg.Alerting.WebhookURL)
	}
}

func TestStaticOracleRequiresPositiveValue(t *testing.T) {
	if _, err := Load(writeConfig(t, `{"oracle": {"driver": "static", "static_value": "0"}}`)); err == nil {
		t.Fatal("zero static value should be rejected")
	}
}
