// Package config assembles runtime configuration from defaults, a local .env
// file, and environment variables, in that order of precedence.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultEnvFile        = ".env"
	defaultPort           = "8080"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultBackendTimeout = 15 * time.Second
	defaultStorePath      = "kiosk.db"
	defaultSyncDebounce   = 1500 * time.Millisecond
	defaultPushTimeout    = 10 * time.Second
	defaultPollInterval   = 2 * time.Second
	defaultPollTimeout    = 5 * time.Minute
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Line    LineConfig
	PayPay  PayPayConfig
	Store   StoreConfig
	Sync    SyncConfig
}

// ServerConfig configures the local gateway's HTTP server.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// BackendConfig points at the restaurant platform API.
type BackendConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// LineConfig holds the LINE Login channel settings.
type LineConfig struct {
	ChannelID string
	// JWKSURL overrides the key set endpoint; empty uses LINE's production
	// endpoint.
	JWKSURL string
}

// PayPayConfig holds the PayPay merchant credentials. Payments are disabled
// when the credentials are absent.
type PayPayConfig struct {
	APIKey       string
	APISecret    string
	MerchantID   string
	BaseURL      string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Enabled reports whether payment credentials are configured.
func (c PayPayConfig) Enabled() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// StoreConfig configures the durable local snapshot store.
type StoreConfig struct {
	Path string
}

// SyncConfig tunes the cart sync controller.
type SyncConfig struct {
	Debounce    time.Duration
	PushTimeout time.Duration
}

// ValidationError is returned when required configuration fields are missing
// or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups.
// Values in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided
// maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "KIOSK_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "KIOSK_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "KIOSK_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "KIOSK_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Backend: BackendConfig{
			BaseURL:        stringWithDefault(lookup, "KIOSK_BACKEND_BASE_URL", ""),
			RequestTimeout: durationWithDefault(lookup, "KIOSK_BACKEND_TIMEOUT", defaultBackendTimeout),
		},
		Line: LineConfig{
			ChannelID: stringWithDefault(lookup, "KIOSK_LINE_CHANNEL_ID", ""),
			JWKSURL:   stringWithDefault(lookup, "KIOSK_LINE_JWKS_URL", ""),
		},
		PayPay: PayPayConfig{
			APIKey:       stringWithDefault(lookup, "KIOSK_PAYPAY_API_KEY", ""),
			APISecret:    stringWithDefault(lookup, "KIOSK_PAYPAY_API_SECRET", ""),
			MerchantID:   stringWithDefault(lookup, "KIOSK_PAYPAY_MERCHANT_ID", ""),
			BaseURL:      stringWithDefault(lookup, "KIOSK_PAYPAY_BASE_URL", ""),
			PollInterval: durationWithDefault(lookup, "KIOSK_PAYPAY_POLL_INTERVAL", defaultPollInterval),
			PollTimeout:  durationWithDefault(lookup, "KIOSK_PAYPAY_POLL_TIMEOUT", defaultPollTimeout),
		},
		Store: StoreConfig{
			Path: stringWithDefault(lookup, "KIOSK_STORE_PATH", defaultStorePath),
		},
		Sync: SyncConfig{
			Debounce:    durationWithDefault(lookup, "KIOSK_SYNC_DEBOUNCE", defaultSyncDebounce),
			PushTimeout: durationWithDefault(lookup, "KIOSK_SYNC_PUSH_TIMEOUT", defaultPushTimeout),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Backend.BaseURL == "" {
		missing = append(missing, "Backend.BaseURL")
	}
	if cfg.Store.Path == "" {
		missing = append(missing, "Store.Path")
	}
	if cfg.Sync.Debounce <= 0 {
		missing = append(missing, "Sync.Debounce")
	}
	if cfg.Sync.PushTimeout <= 0 {
		missing = append(missing, "Sync.PushTimeout")
	}
	if cfg.PayPay.Enabled() {
		if cfg.PayPay.PollInterval <= 0 {
			missing = append(missing, "PayPay.PollInterval")
		}
		if cfg.PayPay.PollTimeout <= 0 {
			missing = append(missing, "PayPay.PollTimeout")
		}
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
