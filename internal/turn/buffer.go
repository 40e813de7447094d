// Package turn holds the per-session turn detection primitives: the audio
// buffer for the turn being recorded, the silence run-length detector that
// decides when the speaker is done, and PCM level metering.
//
// None of the types here are safe for concurrent use. Each session's
// controller owns its own instances and touches them from one goroutine.
package turn

import (
	"fmt"
	"time"

	"github.com/satriahrh/turnloop/domain"
	"github.com/satriahrh/turnloop/domain/entities"
)

// Buffer accumulates the audio chunks of the turn currently being recorded
type Buffer struct {
	chunks    []entities.AudioChunk
	recording bool
	duration  time.Duration
	size      int
}

// NewBuffer creates an empty, non-recording buffer
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Start begins recording a new turn. Any leftover audio is dropped.
func (b *Buffer) Start() {
	b.reset()
	b.recording = true
}

// Recording reports whether a turn is being recorded
func (b *Buffer) Recording() bool {
	return b.recording
}

// Append adds a chunk to the turn being recorded
func (b *Buffer) Append(chunk entities.AudioChunk) error {
	if !b.recording {
		return fmt.Errorf("%w: append while no turn is recording", domain.ErrInvalidState)
	}

	b.chunks = append(b.chunks, chunk)
	b.duration += chunk.Duration
	b.size += len(chunk.Data)
	return nil
}

// Drain hands off every chunk recorded so far, in order, and leaves the
// buffer empty and no longer recording. A second Drain with no Append in
// between returns an empty sequence.
func (b *Buffer) Drain() []entities.AudioChunk {
	chunks := b.chunks
	b.reset()
	return chunks
}

// Discard drops the current turn's audio without handing it off
func (b *Buffer) Discard() {
	b.reset()
}

// Duration is the summed duration of the buffered chunks
func (b *Buffer) Duration() time.Duration {
	return b.duration
}

// Len is the number of buffered chunks
func (b *Buffer) Len() int {
	return len(b.chunks)
}

// Size is the number of buffered audio bytes
func (b *Buffer) Size() int {
	return b.size
}

func (b *Buffer) reset() {
	b.chunks = nil
	b.recording = false
	b.duration = 0
	b.size = 0
}

// Concat joins the chunks' audio into a single byte slice
func Concat(chunks []entities.AudioChunk) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c.Data)
	}

	audio := make([]byte, 0, total)
	for _, c := range chunks {
		audio = append(audio, c.Data...)
	}
	return audio
}

// TotalDuration sums the chunks' durations
func TotalDuration(chunks []entities.AudioChunk) time.Duration {
	var d time.Duration
	for _, c := range chunks {
		d += c.Duration
	}
	return d
}
