package goMagicLink

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings map keys.
const (
	SettingURL             = "mideye.url"
	SettingAPIKey          = "mideye.apiKey"
	SettingPhoneAttribute  = "mideye.phoneAttribute"
	SettingTimeoutSeconds  = "mideye.timeoutSeconds"
	SettingSkipTLSVerify   = "mideye.skipTlsVerify"
	SettingEventLogMaxSize = "mideye.eventLogMaxSize"
	SettingEventTTLHours   = "mideye.eventTtlHours"
	SettingDashboardRole   = "mideye.dashboardRole"
)

// Environment fallbacks, consulted only for the URL and the API key.
const (
	EnvURL    = "MIDEYE_URL"
	EnvAPIKey = "MIDEYE_API_KEY"
)

// Defaults substituted for missing or unparsable settings.
const (
	DefaultPhoneAttribute  = "phoneNumber"
	DefaultTimeoutSeconds  = 120
	DefaultEventLogMaxSize = 1000
	DefaultEventTTLHours   = 1
	DefaultDashboardRole   = "mideye-magic-link-admin"
)

// Config is the resolved per-tenant configuration. It is built fresh from the
// settings map on every flow invocation and admin request and never mutated.
type Config struct {
	URL             string
	APIKey          string
	PhoneAttribute  string
	TimeoutSeconds  int
	SkipTLSVerify   bool
	EventLogMaxSize int
	EventTTLHours   int
	DashboardRole   string
}

// ResolveConfig turns a loosely typed settings map into a Config. It never
// fails: blank or malformed values fall back to the environment (URL and API
// key only) and then to the defaults. A nil map is valid.
func ResolveConfig(settings map[string]string) Config {
	return resolveConfig(settings, os.Getenv)
}

// DefaultConfig is the resolution of an empty settings map.
func DefaultConfig() Config {
	return ResolveConfig(nil)
}

func resolveConfig(settings map[string]string, getenv func(string) string) Config {
	timeout := parseInt(settings[SettingTimeoutSeconds], DefaultTimeoutSeconds)
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	return Config{
		URL:             parseStringWithEnv(settings[SettingURL], getenv(EnvURL)),
		APIKey:          parseStringWithEnv(settings[SettingAPIKey], getenv(EnvAPIKey)),
		PhoneAttribute:  parseString(settings[SettingPhoneAttribute], DefaultPhoneAttribute),
		TimeoutSeconds:  timeout,
		SkipTLSVerify:   parseBool(settings[SettingSkipTLSVerify]),
		EventLogMaxSize: parseInt(settings[SettingEventLogMaxSize], DefaultEventLogMaxSize),
		EventTTLHours:   parseInt(settings[SettingEventTTLHours], DefaultEventTTLHours),
		DashboardRole:   parseString(settings[SettingDashboardRole], DefaultDashboardRole),
	}
}

func parseString(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func parseStringWithEnv(v, env string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return strings.TrimSpace(env)
}

func parseInt(v string, def int) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	// Values outside the 32-bit range are malformed, not huge.
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return def
	}
	return int(n)
}

// parseBool accepts only a case-insensitive "true".
func parseBool(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

// IsConfigured reports whether both the service URL and the API key are set.
func (c Config) IsConfigured() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.APIKey) != ""
}

// Timeout returns the verification request timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type configJSON struct {
	URL             string `json:"mideyeUrl"`
	PhoneAttribute  string `json:"phoneAttribute"`
	TimeoutSeconds  int    `json:"timeoutSeconds"`
	SkipTLSVerify   bool   `json:"skipTlsVerify"`
	EventLogMaxSize int    `json:"eventLogMaxSize"`
	EventTTLHours   int    `json:"eventTtlHours"`
	DashboardRole   string `json:"dashboardRole"`
	Configured      bool   `json:"configured"`
}

// MarshalJSON renders the configuration for the admin API. The API key is
// never included.
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(configJSON{
		URL:             c.URL,
		PhoneAttribute:  c.PhoneAttribute,
		TimeoutSeconds:  c.TimeoutSeconds,
		SkipTLSVerify:   c.SkipTLSVerify,
		EventLogMaxSize: c.EventLogMaxSize,
		EventTTLHours:   c.EventTTLHours,
		DashboardRole:   c.DashboardRole,
		Configured:      c.IsConfigured(),
	})
}

// String omits the API key so a Config can be logged.
func (c Config) String() string {
	return "Config{url=" + c.URL +
		" phoneAttribute=" + c.PhoneAttribute +
		" timeout=" + strconv.Itoa(c.TimeoutSeconds) + "s" +
		" configured=" + strconv.FormatBool(c.IsConfigured()) + "}"
}
