package repositories

import (
	"context"
	"sync"
)

// TextToSpeech abstracts speech synthesis services
type TextToSpeech interface {
	// ConvertTextToSpeech starts synthesis and returns once the provider has
	// accepted the request. Frames arrive on the returned stream.
	ConvertTextToSpeech(ctx context.Context, text string, voiceID string) (*AudioStream, error)
}

// AudioStream is a lazy, finite, non-restartable sequence of audio frames.
// The producer calls Send for each frame and Close exactly once.
type AudioStream struct {
	frames chan []byte

	mu  sync.Mutex
	err error
}

// NewAudioStream creates a stream whose frame channel holds up to buffer frames
func NewAudioStream(buffer int) *AudioStream {
	return &AudioStream{frames: make(chan []byte, buffer)}
}

// Frames returns the frame channel. It is closed when the stream ends.
func (s *AudioStream) Frames() <-chan []byte {
	return s.frames
}

// Send delivers one frame. It returns false if ctx is done first.
func (s *AudioStream) Send(ctx context.Context, frame []byte) bool {
	select {
	case s.frames <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close ends the stream. A non-nil err is reported by Err.
func (s *AudioStream) Close(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.frames)
}

// Err returns the error that ended the stream, if any. It is only
// meaningful after Frames has been drained.
func (s *AudioStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
