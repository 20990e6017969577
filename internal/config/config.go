package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the voipbridge daemon.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir       string
	HTTPPort      int
	LogLevel      string
	LogFormat     string // log output format: "text" or "json"
	SIPListenPort int    // local UA port
	UserAgent     string

	// Optional account registered at startup, same fields as initModule.
	SIPExtension string
	SIPPassword  string
	SIPDomain    string
	SIPPort      int
	SIPTransport string // "Udp", "Tcp" or "Tls"
	SIPKeepAlive bool

	Debounce    time.Duration // incoming-call debounce window
	RingTimeout time.Duration // presented-call ring timeout

	CallLogDSN string // empty selects sqlite under DataDir; postgres:// selects pgx
	JWTSecret  string // HS256 secret for bridge clients; empty disables auth
	PBXURL     string // PBX base url for push-token registration
	PBXToken   string // app bearer token issued by the PBX
	RateLimit  int    // command requests per second per client or IP

	CORSOrigins string // comma-separated origins allowed to call the bridge
}

// defaults
const (
	defaultDataDir       = "./data"
	defaultHTTPPort      = 8090
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultSIPListenPort = 5070
	defaultSIPPort       = 5060
	defaultSIPTransport  = "Udp"
	defaultUserAgent     = "voipbridge"
	defaultDebounce      = 2 * time.Second
	defaultRingTimeout   = 20 * time.Second
	defaultRateLimit     = 20
)

// Debounce bounds.
const (
	minDebounce = 1500 * time.Millisecond
	maxDebounce = 3 * time.Second
)

// envPrefix is the prefix for all voipbridge environment variables.
const envPrefix = "VOIPBRIDGE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("voipbridge", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the call log and recordings")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "bridge HTTP listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.IntVar(&cfg.SIPListenPort, "sip-listen-port", defaultSIPListenPort, "local SIP user agent port")
	fs.StringVar(&cfg.UserAgent, "user-agent", defaultUserAgent, "SIP User-Agent header value")
	fs.StringVar(&cfg.SIPExtension, "sip-extension", "", "extension to register at startup")
	fs.StringVar(&cfg.SIPPassword, "sip-password", "", "password for the startup extension")
	fs.StringVar(&cfg.SIPDomain, "sip-domain", "", "SIP domain (registrar host) for the startup extension")
	fs.IntVar(&cfg.SIPPort, "sip-port", defaultSIPPort, "registrar port")
	fs.StringVar(&cfg.SIPTransport, "sip-transport", defaultSIPTransport, "registrar transport (Udp, Tcp, Tls)")
	fs.BoolVar(&cfg.SIPKeepAlive, "sip-keepalive", false, "send keep-alive packets to the registrar")
	fs.DurationVar(&cfg.Debounce, "debounce", defaultDebounce, "incoming call debounce window")
	fs.DurationVar(&cfg.RingTimeout, "ring-timeout", defaultRingTimeout, "ring timeout for calls presented to the call UI")
	fs.StringVar(&cfg.CallLogDSN, "calllog-dsn", "", "call log database DSN (empty for sqlite in data-dir)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "HS256 secret required from bridge clients (empty disables auth)")
	fs.StringVar(&cfg.PBXURL, "pbx-url", "", "PBX base URL for push token registration")
	fs.StringVar(&cfg.PBXToken, "pbx-token", "", "app bearer token for the PBX push token endpoint")
	fs.IntVar(&cfg.RateLimit, "rate-limit", defaultRateLimit, "command requests per second per client or IP")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. Unparseable numeric, boolean and
// duration values are ignored and the flag value stays in effect.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		envVar := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			return
		}
		switch f.Name {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "sip-listen-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPListenPort = v
			}
		case "user-agent":
			cfg.UserAgent = val
		case "sip-extension":
			cfg.SIPExtension = val
		case "sip-password":
			cfg.SIPPassword = val
		case "sip-domain":
			cfg.SIPDomain = val
		case "sip-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPPort = v
			}
		case "sip-transport":
			cfg.SIPTransport = val
		case "sip-keepalive":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.SIPKeepAlive = v
			}
		case "debounce":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.Debounce = v
			}
		case "ring-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.RingTimeout = v
			}
		case "calllog-dsn":
			cfg.CallLogDSN = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "pbx-url":
			cfg.PBXURL = val
		case "pbx-token":
			cfg.PBXToken = val
		case "rate-limit":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RateLimit = v
			}
		case "cors-origins":
			cfg.CORSOrigins = val
		}
	})
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.SIPListenPort < 1 || c.SIPListenPort > 65535 {
		return fmt.Errorf("sip-listen-port must be between 1 and 65535, got %d", c.SIPListenPort)
	}
	if c.SIPPort < 1 || c.SIPPort > 65535 {
		return fmt.Errorf("sip-port must be between 1 and 65535, got %d", c.SIPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.Debounce < minDebounce || c.Debounce > maxDebounce {
		return fmt.Errorf("debounce must be between %s and %s, got %s", minDebounce, maxDebounce, c.Debounce)
	}
	if c.RingTimeout <= c.Debounce {
		return fmt.Errorf("ring-timeout must be longer than debounce, got %s", c.RingTimeout)
	}

	// An account needs all three of extension, password and domain.
	if c.SIPExtension != "" || c.SIPDomain != "" {
		if c.SIPExtension == "" || c.SIPDomain == "" || c.SIPPassword == "" {
			return fmt.Errorf("sip-extension, sip-password and sip-domain must be provided together")
		}
	}

	if (c.PBXURL == "") != (c.PBXToken == "") {
		return fmt.Errorf("pbx-url and pbx-token must both be provided or both be omitted")
	}

	if c.RateLimit < 1 {
		return fmt.Errorf("rate-limit must be positive, got %d", c.RateLimit)
	}

	return nil
}

// HasAccount reports whether a startup account is configured.
func (c *Config) HasAccount() bool {
	return c.SIPExtension != ""
}

// AuthEnabled reports whether bridge clients must present a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

// RecordingsDir returns the directory call recordings are written to.
func (c *Config) RecordingsDir() string {
	return filepath.Join(c.DataDir, "recordings")
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
