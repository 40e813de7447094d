package entities

import "time"

// TurnState is the state of a session's turn-taking state machine
type TurnState int

const (
	TurnStateIdle TurnState = iota
	TurnStateRecording
	TurnStateProcessing
	TurnStateSpeaking
	TurnStateTerminated
)

// String returns the human-readable name of the state
func (s TurnState) String() string {
	switch s {
	case TurnStateIdle:
		return "idle"
	case TurnStateRecording:
		return "recording"
	case TurnStateProcessing:
		return "processing"
	case TurnStateSpeaking:
		return "speaking"
	case TurnStateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// TurnRecord is the result of one completed turn. It is built once the
// pipeline finishes and never mutated afterwards.
type TurnRecord struct {
	Number      int
	Transcript  string
	Reply       string
	AudioBytes  int
	AudioFrames int
	Duration    time.Duration
	StartedAt   time.Time
	CompletedAt time.Time
}
