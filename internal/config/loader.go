package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram"},
	"tts": {"deepgram", "elevenlabs"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "openai-compatible", "bedrock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Omitted fields take the values from [ApplyDefaults].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
	}
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}

	if cfg.Interview.UseLLMPhrasing && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("interview.use_llm_phrasing requires providers.llm"))
	}

	t := cfg.Turn
	for _, d := range []struct {
		name string
		v    Duration
	}{
		{"turn.debounce", t.Debounce},
		{"turn.ceiling", t.Ceiling},
		{"turn.speaking_margin", t.SpeakingMargin},
		{"turn.keepalive_interval", t.KeepaliveInterval},
		{"session.ttl", cfg.Session.TTL},
	} {
		if d.v < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", d.name, d.v.Std()))
		}
	}
	if t.Debounce > 0 && t.Ceiling > 0 && t.Ceiling < t.Debounce {
		errs = append(errs, fmt.Errorf("turn.ceiling %s must be at least turn.debounce %s", t.Ceiling.Std(), t.Debounce.Std()))
	}

	if cfg.Session.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("session.history_limit %d must not be negative", cfg.Session.HistoryLimit))
	}
	if cfg.Session.Store != "" && !cfg.Session.Store.IsValid() {
		errs = append(errs, fmt.Errorf("session.store %q is invalid; valid values: memory, redis", cfg.Session.Store))
	}
	if cfg.Session.Store == StoreRedis && cfg.Session.RedisAddr == "" {
		errs = append(errs, errors.New("session.redis_addr is required when session.store is redis"))
	}

	if p := cfg.Observe.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("observe.metrics_path %q must start with /", p))
	}
	if r := cfg.Observe.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observe.trace_sample_ratio %g must be between 0 and 1", r))
	}

	if cfg.Records.PostgresDSN == "" && cfg.Records.JSONDir == "" {
		slog.Warn("no record sink configured; completed calls will only be logged")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not in the known list for kind.
// Empty names are ignored (the provider is simply not configured).
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if !slices.Contains(known, name) {
		slog.Warn("unknown provider name; it must be registered manually", "kind", kind, "name", name, "known", known)
	}
}
