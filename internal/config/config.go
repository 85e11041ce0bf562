package config

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Duration accepts either a Go duration string ("30m", "1h30m") or a
// number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		v, err := parseDuration(s[1 : len(s)-1])
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %s", s)
	}
	v, err := fromSeconds(secs)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// parseDuration parses "30m"-style strings; a bare number is seconds
// and the empty string is zero.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return fromSeconds(secs)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return v, nil
}

// maxSeconds is the largest whole number of seconds a time.Duration holds.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// fromSeconds converts seconds to a Duration, rejecting values that do
// not fit.
func fromSeconds(secs float64) (time.Duration, error) {
	if math.IsNaN(secs) || math.Abs(secs) > float64(maxSeconds) {
		return 0, fmt.Errorf("duration %v seconds out of range", secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Config is the root configuration for seance.
type Config struct {
	Autoproxy AutoproxyConfig `json:"autoproxy"`
	Channels  ChannelsConfig  `json:"channels"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// AutoproxyConfig configures the autoproxy engine and the command
// conventions the dispatcher recognises.
type AutoproxyConfig struct {
	Scope         string   `json:"scope"`                    // "global", "server" (default), "channel"
	Timeout       Duration `json:"timeout,omitempty"`        // latch/on clear timeout, 0 = never clear
	StartEnabled  bool     `json:"start_enabled,omitempty"`  // new scopes start in latch mode
	PeerPattern   string   `json:"peer_pattern,omitempty"`   // regex for another participant's proxy trigger
	CommandPrefix string   `json:"command_prefix,omitempty"` // default "!" → "!autoproxy <option>"
	ProxyPrefix   string   `json:"proxy_prefix,omitempty"`   // default "+" → "+text" proxies "text"
}

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"token"`
	AllowFrom FlexibleStringSlice `json:"allow_from"`         // user IDs whose messages are handled (empty = everyone)
	Presence  *bool               `json:"presence,omitempty"` // reflect global autoproxy in bot presence (default true)
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"token"`
	Proxy     string              `json:"proxy,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty"` // listen address for /metrics, e.g. ":9464" (empty = disabled)
}

// TelemetryConfig configures OpenTelemetry export for traces.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext connection for local collectors
	ServiceName string            `json:"service_name,omitempty"` // default "seance"
	Headers     map[string]string `json:"headers,omitempty"`      // extra exporter headers
}

// PresenceEnabled reports whether Discord presence mirrors the global
// autoproxy state.
func (c DiscordConfig) PresenceEnabled() bool {
	return c.Presence == nil || *c.Presence
}
