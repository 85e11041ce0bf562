package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/seance/internal/autoproxy"
	"github.com/nextlevelbuilder/seance/internal/scope"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Autoproxy: AutoproxyConfig{
			Scope:         string(scope.Server),
			CommandPrefix: "!",
			ProxyPrefix:   "+",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "seance",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A .env.local next to the config file is loaded into the process
// environment first; variables already set are left untouched.
func Load(path string) (*Config, error) {
	path = ExpandHome(path)
	envPath := filepath.Join(filepath.Dir(path), ".env.local")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() error {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	envList := func(key string, dst *FlexibleStringSlice) {
		if v := os.Getenv(key); v != "" {
			var out []string
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			*dst = out
		}
	}

	envStr("SEANCE_AUTOPROXY_SCOPE", &c.Autoproxy.Scope)
	envBool("SEANCE_AUTOPROXY_START_ENABLED", &c.Autoproxy.StartEnabled)
	envStr("SEANCE_PEER_PATTERN", &c.Autoproxy.PeerPattern)
	envStr("SEANCE_COMMAND_PREFIX", &c.Autoproxy.CommandPrefix)
	envStr("SEANCE_PROXY_PREFIX", &c.Autoproxy.ProxyPrefix)
	if v := os.Getenv("SEANCE_AUTOPROXY_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("SEANCE_AUTOPROXY_TIMEOUT: %w", err)
		}
		c.Autoproxy.Timeout = Duration(d)
	}

	envStr("SEANCE_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envList("SEANCE_DISCORD_ALLOW_FROM", &c.Channels.Discord.AllowFrom)
	envStr("SEANCE_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("SEANCE_TELEGRAM_PROXY", &c.Channels.Telegram.Proxy)
	envList("SEANCE_TELEGRAM_ALLOW_FROM", &c.Channels.Telegram.AllowFrom)

	// Auto-enable channels if credentials are provided via env
	if os.Getenv("SEANCE_DISCORD_TOKEN") != "" {
		c.Channels.Discord.Enabled = true
	}
	if os.Getenv("SEANCE_TELEGRAM_TOKEN") != "" {
		c.Channels.Telegram.Enabled = true
	}

	envStr("SEANCE_METRICS_ADDR", &c.Metrics.Addr)

	// Telemetry
	envBool("SEANCE_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("SEANCE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("SEANCE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envBool("SEANCE_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
	envStr("SEANCE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	return nil
}

// Validate checks everything that would otherwise fail on the first
// message. All problems are reported together.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	if _, err := scope.ParseGranularity(c.Autoproxy.Scope); err != nil {
		errs = append(errs, fmt.Errorf("autoproxy.scope: %w", err))
	}
	if c.Autoproxy.Timeout < 0 {
		errs = append(errs, fmt.Errorf("autoproxy.timeout: must not be negative"))
	}
	if _, err := autoproxy.CompilePeerPattern(c.Autoproxy.PeerPattern); err != nil {
		errs = append(errs, fmt.Errorf("autoproxy.peer_pattern: %w", err))
	}
	if strings.TrimSpace(c.Autoproxy.CommandPrefix) == "" {
		errs = append(errs, fmt.Errorf("autoproxy.command_prefix: must not be empty"))
	}
	if strings.TrimSpace(c.Autoproxy.ProxyPrefix) == "" {
		errs = append(errs, fmt.Errorf("autoproxy.proxy_prefix: must not be empty"))
	}
	if c.Autoproxy.CommandPrefix == c.Autoproxy.ProxyPrefix {
		errs = append(errs, fmt.Errorf("autoproxy: command_prefix and proxy_prefix must differ"))
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		errs = append(errs, fmt.Errorf("channels.discord.token: required when enabled"))
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		errs = append(errs, fmt.Errorf("channels.telegram.token: required when enabled"))
	}
	if c.Telemetry.Enabled {
		switch c.Telemetry.Protocol {
		case "", "grpc", "http":
		default:
			errs = append(errs, fmt.Errorf("telemetry.protocol: %q (want grpc or http)", c.Telemetry.Protocol))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Granularity returns the parsed scope granularity. Call Validate first.
func (c *Config) Granularity() scope.Granularity {
	g, _ := scope.ParseGranularity(c.Autoproxy.Scope)
	return g
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config.
func (c *Config) Hash() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("hash config: %w", err)
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8]), nil
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Channels.Discord.Token)
	maskNonEmpty(&cp.Channels.Telegram.Token)
	for k := range cp.Telemetry.Headers {
		cp.Telemetry.Headers[k] = secretMask
	}
	return cp
}

// StripSecrets zeros out all secret fields in the config.
// Used before saving to disk to ensure secrets never persist in config.json.
func (c *Config) StripSecrets() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Channels.Discord.Token = ""
	c.Channels.Telegram.Token = ""
	c.Telemetry.Headers = nil
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
