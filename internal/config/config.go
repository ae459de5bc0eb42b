// Package config provides the configuration schema, loader, provider registry
// and file watcher for the intake call server.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown or empty values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// StoreKind selects the session store backend.
type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreRedis  StoreKind = "redis"
)

// IsValid reports whether k is a recognised store kind.
func (k StoreKind) IsValid() bool {
	return k == StoreMemory || k == StoreRedis
}

// Duration is a [time.Duration] that decodes from Go duration strings
// such as "300ms" or "2h" in YAML.
type Duration time.Duration

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements [yaml.Marshaler].
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Interview InterviewConfig `yaml:"interview"`
	Turn      TurnConfig      `yaml:"turn"`
	Session   SessionConfig   `yaml:"session"`
	Records   RecordsConfig   `yaml:"records"`
	Observe   ObserveConfig   `yaml:"observe"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// PublicURL is the externally reachable base URL, used to build the
	// media stream URL in the telephony webhook response. When empty the
	// request's Host header is used.
	PublicURL string `yaml:"public_url"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
	LLM ProviderEntry `yaml:"llm"`

	// TTSFallbacks and LLMFallbacks are tried in order when the primary fails.
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// OptionString returns the string option key, or "" when absent or not a string.
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptionInt returns the integer option key, or 0 when absent or not a whole
// number.
func (e ProviderEntry) OptionInt(key string) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return 0
}

// InterviewConfig controls the scripted parts of the call.
type InterviewConfig struct {
	// FieldBank is the path to a YAML question bank. Empty selects the
	// built-in default bank.
	FieldBank string `yaml:"field_bank"`

	Greeting string `yaml:"greeting"`
	Closing  string `yaml:"closing"`
	Apology  string `yaml:"apology"`

	// UseLLMPhrasing rewrites questions and reprompts through the LLM.
	// Read-backs and the closing are always spoken verbatim.
	UseLLMPhrasing bool   `yaml:"use_llm_phrasing"`
	SystemPrompt   string `yaml:"system_prompt"`

	// Language is the BCP-47 tag passed to the STT stream.
	Language string `yaml:"language"`

	// Voice is the TTS voice identifier.
	Voice string `yaml:"voice"`
}

// TurnConfig holds the turn-taking tunables.
type TurnConfig struct {
	Debounce          Duration `yaml:"debounce"`
	Ceiling           Duration `yaml:"ceiling"`
	SpeakingMargin    Duration `yaml:"speaking_margin"`
	KeepaliveInterval Duration `yaml:"keepalive_interval"`
}

// SessionConfig selects and tunes the session store.
type SessionConfig struct {
	TTL          Duration  `yaml:"ttl"`
	HistoryLimit int       `yaml:"history_limit"`
	Store        StoreKind `yaml:"store"`
	RedisAddr    string    `yaml:"redis_addr"`
	RedisPrefix  string    `yaml:"redis_prefix"`
}

// RecordsConfig selects where completed calls are handed off.
// Both sinks may be enabled at once.
type RecordsConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	JSONDir     string `yaml:"json_dir"`
}

// ObserveConfig configures metrics and tracing.
type ObserveConfig struct {
	ServiceName string `yaml:"service_name"`
	MetricsPath string `yaml:"metrics_path"`

	// TraceSampleRatio is the share of new traces that are recorded, in
	// (0, 1]. Requests arriving with a sampled traceparent are always
	// recorded. Default: 1.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Defaults used by [ApplyDefaults] for zero-valued fields.
const (
	DefaultListenAddr        = ":8080"
	DefaultDebounce          = 300 * time.Millisecond
	DefaultCeiling           = 5 * time.Second
	DefaultSpeakingMargin    = 500 * time.Millisecond
	DefaultKeepaliveInterval = 3 * time.Second
	DefaultSessionTTL        = 2 * time.Hour
	DefaultHistoryLimit      = 20
	DefaultServiceName       = "intakecall"
	DefaultMetricsPath       = "/metrics"
)

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	setDuration(&cfg.Turn.Debounce, DefaultDebounce)
	setDuration(&cfg.Turn.Ceiling, DefaultCeiling)
	setDuration(&cfg.Turn.SpeakingMargin, DefaultSpeakingMargin)
	setDuration(&cfg.Turn.KeepaliveInterval, DefaultKeepaliveInterval)
	setDuration(&cfg.Session.TTL, DefaultSessionTTL)
	if cfg.Session.HistoryLimit == 0 {
		cfg.Session.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = StoreMemory
	}
	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = DefaultServiceName
	}
	if cfg.Observe.MetricsPath == "" {
		cfg.Observe.MetricsPath = DefaultMetricsPath
	}
	if cfg.Observe.TraceSampleRatio == 0 {
		cfg.Observe.TraceSampleRatio = 1
	}
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}
