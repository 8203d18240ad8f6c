package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"KIOSK_BACKEND_BASE_URL": "https://api.chumon.example",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Backend.RequestTimeout != defaultBackendTimeout {
		t.Errorf("unexpected backend timeout: %s", cfg.Backend.RequestTimeout)
	}
	if cfg.Store.Path != defaultStorePath {
		t.Errorf("unexpected store path: %s", cfg.Store.Path)
	}
	if cfg.Sync.Debounce != defaultSyncDebounce {
		t.Errorf("unexpected sync debounce: %s", cfg.Sync.Debounce)
	}
	if cfg.Sync.PushTimeout != defaultPushTimeout {
		t.Errorf("unexpected push timeout: %s", cfg.Sync.PushTimeout)
	}
	if cfg.PayPay.Enabled() {
		t.Error("payments should be disabled without credentials")
	}
}

func TestLoadOverrides(t *testing.T) {
	env := map[string]string{
		"KIOSK_SERVER_PORT":        "9090",
		"KIOSK_BACKEND_BASE_URL":   "https://api.chumon.example",
		"KIOSK_BACKEND_TIMEOUT":    "5s",
		"KIOSK_LINE_CHANNEL_ID":    "1656001234",
		"KIOSK_PAYPAY_API_KEY":     "key",
		"KIOSK_PAYPAY_API_SECRET":  "secret",
		"KIOSK_PAYPAY_MERCHANT_ID": "merchant-7",
		"KIOSK_STORE_PATH":         "/var/lib/kiosk/kiosk.db",
		"KIOSK_SYNC_DEBOUNCE":      "500ms",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("port = %s", cfg.Server.Port)
	}
	if cfg.Backend.RequestTimeout != 5*time.Second {
		t.Errorf("backend timeout = %s", cfg.Backend.RequestTimeout)
	}
	if cfg.Line.ChannelID != "1656001234" {
		t.Errorf("channel id = %s", cfg.Line.ChannelID)
	}
	if !cfg.PayPay.Enabled() {
		t.Error("payments should be enabled")
	}
	if cfg.Sync.Debounce != 500*time.Millisecond {
		t.Errorf("debounce = %s", cfg.Sync.Debounce)
	}
}

func TestLoadValidation(t *testing.T) {
	_, err := Load(WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := validationErr.Fields()
	if len(fields) != 1 || fields[0] != "Backend.BaseURL" {
		t.Errorf("missing fields = %v", fields)
	}
}

func TestLoadDotEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	contents := "KIOSK_SERVER_PORT=7000\nKIOSK_BACKEND_BASE_URL=https://dotenv.example\n# comment\nexport KIOSK_STORE_PATH=\"./local.db\"\n"
	if err := os.WriteFile(envFile, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	// The explicit env map outranks the .env file.
	cfg, err := Load(
		WithEnvFile(envFile),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"KIOSK_SERVER_PORT": "7001"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7001" {
		t.Errorf("port = %s, want env map to win", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "https://dotenv.example" {
		t.Errorf("base url = %s", cfg.Backend.BaseURL)
	}
	if cfg.Store.Path != "./local.db" {
		t.Errorf("store path = %s, want quotes stripped", cfg.Store.Path)
	}
}

func TestLoadBadDurationFallsBack(t *testing.T) {
	env := map[string]string{
		"KIOSK_BACKEND_BASE_URL": "https://api.chumon.example",
		"KIOSK_SYNC_DEBOUNCE":    "not-a-duration",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Sync.Debounce != defaultSyncDebounce {
		t.Errorf("debounce = %s, want default", cfg.Sync.Debounce)
	}
}
