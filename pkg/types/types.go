// Package types defines the value types shared between providers, the
// interview core and the persistence layer.
//
// They live here to avoid import cycles: providers produce [Transcript]
// values, the pipeline turns utterances into [Message] history, and the
// record layer persists that history unchanged.
package types

import "time"

// Transcript represents a speech-to-text result from an STT provider.
// Both interim and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or interim transcript.
	IsFinal bool

	// SpeechFinal is set by providers that detect an endpoint (end of speech)
	// in addition to finalising a segment. Informational only; turn-taking is
	// decided by the coalescer's debounce window.
	SpeechFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available.
	Words []WordDetail

	// Timestamp marks when the segment started, relative to stream start.
	Timestamp time.Duration

	// Duration is the length of the segment.
	Duration time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of conversation history. It is both the LLM prompt
// unit and the persisted transcript line.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`

	// Timestamp is when the message was recorded. Zero for synthetic
	// prompt messages.
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// VoiceProfile selects a TTS voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (a Deepgram Aura model
	// name or an ElevenLabs voice ID).
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string
}

// KeywordBoost represents a keyword to boost in STT recognition. The
// pipeline derives these from the field bank's enumerated choices.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// Usage reports token consumption for a completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
