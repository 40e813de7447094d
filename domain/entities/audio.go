package entities

import "time"

// VoiceActivity is the per-chunk speech classification
type VoiceActivity int

const (
	// VoiceActivityUnknown means the client sent no classification and the
	// chunk is classified by comparing its level to the session threshold.
	VoiceActivityUnknown VoiceActivity = iota
	VoiceActivitySpeech
	VoiceActivitySilence
)

// String returns the human-readable name of the classification
func (v VoiceActivity) String() string {
	switch v {
	case VoiceActivitySpeech:
		return "speech"
	case VoiceActivitySilence:
		return "silence"
	default:
		return "unknown"
	}
}

// AudioChunk is one timestamped unit of raw client audio
type AudioChunk struct {
	Data      []byte
	LevelDB   float64
	Activity  VoiceActivity
	Duration  time.Duration
	Timestamp time.Time
}

// IsSpeech reports whether the chunk counts as speech. An explicit client
// classification wins; otherwise the level is compared to thresholdDB.
func (c AudioChunk) IsSpeech(thresholdDB float64) bool {
	switch c.Activity {
	case VoiceActivitySpeech:
		return true
	case VoiceActivitySilence:
		return false
	default:
		return c.LevelDB >= thresholdDB
	}
}
