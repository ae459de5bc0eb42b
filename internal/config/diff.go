package config

import "fmt"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TurnChanged is true when any turn-taking tunable changed. The new
	// values apply to sessions started after the reload.
	TurnChanged bool
	NewTurn     TurnConfig

	// InterviewChanged is true when the scripted prompts or the phrasing
	// switch changed. The field bank path is not hot-reloaded.
	InterviewChanged bool

	// RestartRequired lists top-level keys whose changes are ignored until
	// the process restarts.
	RestartRequired []string
}

// Empty reports whether d carries no changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TurnChanged && !d.InterviewChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Turn != new.Turn {
		d.TurnChanged = true
		d.NewTurn = new.Turn
	}

	oi, ni := old.Interview, new.Interview
	if oi.Greeting != ni.Greeting || oi.Closing != ni.Closing || oi.Apology != ni.Apology ||
		oi.UseLLMPhrasing != ni.UseLLMPhrasing || oi.SystemPrompt != ni.SystemPrompt ||
		oi.Language != ni.Language || oi.Voice != ni.Voice {
		d.InterviewChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.PublicURL != new.Server.PublicURL ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if oi.FieldBank != ni.FieldBank {
		d.RestartRequired = append(d.RestartRequired, "interview.field_bank")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.Records != new.Records {
		d.RestartRequired = append(d.RestartRequired, "records")
	}
	if old.Observe != new.Observe {
		d.RestartRequired = append(d.RestartRequired, "observe")
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providersEqual(a, b ProvidersConfig) bool {
	if !entryEqual(a.STT, b.STT) || !entryEqual(a.TTS, b.TTS) || !entryEqual(a.LLM, b.LLM) {
		return false
	}
	return entriesEqual(a.TTSFallbacks, b.TTSFallbacks) && entriesEqual(a.LLMFallbacks, b.LLMFallbacks)
}

func entriesEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !entryEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// entryEqual compares the scalar fields of two entries. Options are compared
// by key count and shallow string form.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
