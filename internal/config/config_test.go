package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"VOIPBRIDGE_DATA_DIR", "VOIPBRIDGE_HTTP_PORT", "VOIPBRIDGE_LOG_LEVEL",
		"VOIPBRIDGE_SIP_EXTENSION", "VOIPBRIDGE_SIP_PASSWORD", "VOIPBRIDGE_SIP_DOMAIN",
		"VOIPBRIDGE_DEBOUNCE", "VOIPBRIDGE_RING_TIMEOUT", "VOIPBRIDGE_SIP_KEEPALIVE",
		"VOIPBRIDGE_PBX_URL", "VOIPBRIDGE_PBX_TOKEN", "VOIPBRIDGE_CORS_ORIGINS",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.SIPPort != defaultSIPPort {
		t.Errorf("SIPPort = %d, want %d", cfg.SIPPort, defaultSIPPort)
	}
	if cfg.Debounce != defaultDebounce {
		t.Errorf("Debounce = %s, want %s", cfg.Debounce, defaultDebounce)
	}
	if cfg.RingTimeout != defaultRingTimeout {
		t.Errorf("RingTimeout = %s, want %s", cfg.RingTimeout, defaultRingTimeout)
	}
	if cfg.HasAccount() {
		t.Error("HasAccount() = true, want false")
	}
	if cfg.AuthEnabled() {
		t.Error("AuthEnabled() = true, want false")
	}
}

func TestEnvVarOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("VOIPBRIDGE_HTTP_PORT", "9090")
	t.Setenv("VOIPBRIDGE_DATA_DIR", "/tmp/voipbridge-test")
	t.Setenv("VOIPBRIDGE_LOG_LEVEL", "debug")
	t.Setenv("VOIPBRIDGE_DEBOUNCE", "2500ms")
	t.Setenv("VOIPBRIDGE_SIP_KEEPALIVE", "true")

	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.DataDir != "/tmp/voipbridge-test" {
		t.Errorf("DataDir = %q, want /tmp/voipbridge-test", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Debounce != 2500*time.Millisecond {
		t.Errorf("Debounce = %s, want 2.5s", cfg.Debounce)
	}
	if !cfg.SIPKeepAlive {
		t.Error("SIPKeepAlive = false, want true")
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("VOIPBRIDGE_HTTP_PORT", "9090")
	t.Setenv("VOIPBRIDGE_LOG_LEVEL", "debug")

	cfg, err := load([]string{"--http-port", "3000", "--log-level", "warn"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000 (CLI should override env)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"invalid port", []string{"--http-port", "99999"}},
		{"invalid log level", []string{"--log-level", "verbose"}},
		{"debounce too short", []string{"--debounce", "500ms"}},
		{"debounce too long", []string{"--debounce", "5s"}},
		{"ring timeout not after debounce", []string{"--ring-timeout", "2s"}},
		{"partial account", []string{"--sip-extension", "1001"}},
		{"pbx url without token", []string{"--pbx-url", "https://pbx.example.com"}},
		{"zero rate limit", []string{"--rate-limit", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := load(tt.args); err == nil {
				t.Fatalf("expected error for %v, got nil", tt.args)
			}
		})
	}
}

func TestAccountFlags(t *testing.T) {
	clearEnv(t)
	cfg, err := load([]string{
		"--sip-extension", "1001", "--sip-password", "secret",
		"--sip-domain", "pbx.example.com", "--sip-transport", "Tls",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.HasAccount() {
		t.Fatal("HasAccount() = false, want true")
	}
	if cfg.SIPTransport != "Tls" {
		t.Errorf("SIPTransport = %q, want Tls", cfg.SIPTransport)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCORSOrigins(t *testing.T) {
	clearEnv(t)
	t.Setenv("VOIPBRIDGE_CORS_ORIGINS", "https://app.example.com")

	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CORSOrigins != "https://app.example.com" {
		t.Errorf("CORSOrigins = %q, want env value", cfg.CORSOrigins)
	}

	cfg, err = load([]string{"--cors-origins", "http://localhost:3000"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CORSOrigins != "http://localhost:3000" {
		t.Errorf("CORSOrigins = %q, want flag value", cfg.CORSOrigins)
	}
}
