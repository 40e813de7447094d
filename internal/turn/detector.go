package turn

import (
	"time"

	"github.com/satriahrh/turnloop/domain/entities"
)

// Decision is the detector's verdict on one chunk
type Decision int

const (
	// Continue means the turn (if any) is still open.
	Continue Decision = iota
	// TurnEnd means trailing silence reached the configured duration after
	// at least one speech chunk.
	TurnEnd
	// Idle means silence with no speech since the last boundary.
	Idle
)

// String returns the human-readable name of the decision
func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case TurnEnd:
		return "turn_end"
	case Idle:
		return "idle"
	default:
		return "unknown"
	}
}

// DefaultChunkDuration is assumed for chunks that carry no duration
const DefaultChunkDuration = 100 * time.Millisecond

// Detector decides when a speaker turn has ended from a stream of
// classified audio chunks. It tracks elapsed trailing silence, so chunks
// may have variable length.
type Detector struct {
	thresholdDB     float64
	silenceDuration time.Duration
	chunkDuration   time.Duration

	speechSeen    bool
	silence       time.Duration
	silenceChunks int
}

// NewDetector creates a detector. Chunks at or above thresholdDB count as
// speech unless the client classified them; silenceDuration is the trailing
// silence that closes a turn.
func NewDetector(thresholdDB float64, silenceDuration time.Duration) *Detector {
	return &Detector{
		thresholdDB:     thresholdDB,
		silenceDuration: silenceDuration,
		chunkDuration:   DefaultChunkDuration,
	}
}

// Observe consumes one chunk and returns the detector's decision
func (d *Detector) Observe(chunk entities.AudioChunk) Decision {
	if chunk.IsSpeech(d.thresholdDB) {
		d.speechSeen = true
		d.silence = 0
		d.silenceChunks = 0
		return Continue
	}

	if !d.speechSeen {
		return Idle
	}

	dur := chunk.Duration
	if dur <= 0 {
		dur = d.chunkDuration
	}
	d.silence += dur
	d.silenceChunks++

	if d.silence >= d.silenceDuration {
		d.Reset()
		return TurnEnd
	}
	return Continue
}

// Reset forgets any speech and silence seen since the last boundary
func (d *Detector) Reset() {
	d.speechSeen = false
	d.silence = 0
	d.silenceChunks = 0
}

// SpeechSeen reports whether speech was observed since the last boundary
func (d *Detector) SpeechSeen() bool {
	return d.speechSeen
}

// TrailingSilence is the silence accumulated since the last speech chunk
func (d *Detector) TrailingSilence() time.Duration {
	return d.silence
}

// SilenceChunks is the run length of consecutive silence chunks
func (d *Detector) SilenceChunks() int {
	return d.silenceChunks
}

// ThresholdDB returns the speech/silence level threshold
func (d *Detector) ThresholdDB() float64 {
	return d.thresholdDB
}

// SetThresholdDB changes the speech/silence level threshold
func (d *Detector) SetThresholdDB(v float64) {
	d.thresholdDB = v
}

// SetSilenceDuration changes the trailing silence that closes a turn
func (d *Detector) SetSilenceDuration(v time.Duration) {
	d.silenceDuration = v
}

// SetChunkDuration changes the duration assumed for chunks without one
func (d *Detector) SetChunkDuration(v time.Duration) {
	if v > 0 {
		d.chunkDuration = v
	}
}
