package domain

import "time"

// OutboundKind identifies a message sent from a session to its client.
type OutboundKind string

const (
	OutboundTranscript OutboundKind = "transcript"
	OutboundReply      OutboundKind = "reply"
	OutboundAudio      OutboundKind = "audio"
	OutboundStatus     OutboundKind = "status"
)

// Status is the coarse state reported to the client.
type Status string

const (
	StatusListening Status = "listening"
	StatusBusy      Status = "busy"
	StatusSpeaking  Status = "speaking"
	StatusError     Status = "error"
)

// OutboundMessage is the transport-neutral form of everything a session
// emits. Only the fields relevant to Kind are set.
type OutboundMessage struct {
	Kind      OutboundKind
	SessionID string
	Turn      int

	// Text carries the transcript or reply text.
	Text string

	// Audio is one reply audio frame.
	Audio []byte

	Status  Status
	Reason  string
	Message string

	// ClientSpeech asks the client to speak Text itself because server
	// synthesis is disabled for the session.
	ClientSpeech bool
}

// ControlType identifies a client control message.
type ControlType string

const (
	ControlStart               ControlType = "start"
	ControlStop                ControlType = "stop"
	ControlInterrupt           ControlType = "interrupt"
	ControlSetThreshold        ControlType = "set_threshold"
	ControlSetSilenceDuration  ControlType = "set_silence_duration"
	ControlSetSynthesisEnabled ControlType = "set_tts"
)

// Control is a decoded client control message.
type Control struct {
	Type ControlType

	// ThresholdDB is set for ControlSetThreshold.
	ThresholdDB float64

	// SilenceDuration is set for ControlSetSilenceDuration.
	SilenceDuration time.Duration

	// Enabled is set for ControlSetSynthesisEnabled.
	Enabled bool
}
