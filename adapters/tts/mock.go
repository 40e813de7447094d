package tts

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/turnloop/domain/repositories"
)

// MockTextToSpeech produces deterministic fake audio, a fixed number of
// bytes per character of text, split into frames
type MockTextToSpeech struct {
	logger       *zap.Logger
	bytesPerChar int
	frameSize    int
}

var _ repositories.TextToSpeech = (*MockTextToSpeech)(nil)

// NewMockTextToSpeech creates a new mock text-to-speech service
func NewMockTextToSpeech(logger *zap.Logger) *MockTextToSpeech {
	return &MockTextToSpeech{
		logger:       logger,
		bytesPerChar: 100,
		frameSize:    1024,
	}
}

// ConvertTextToSpeech implements repositories.TextToSpeech
func (t *MockTextToSpeech) ConvertTextToSpeech(ctx context.Context, text string, voiceID string) (*repositories.AudioStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	t.logger.Info("Processing mock text-to-speech",
		zap.Int("textLength", len(text)),
		zap.String("voiceID", voiceID))

	audio := make([]byte, len(text)*t.bytesPerChar)
	for i := range audio {
		audio[i] = byte(i % 256)
	}

	stream := repositories.NewAudioStream(4)
	go func() {
		for start := 0; start < len(audio); start += t.frameSize {
			end := min(start+t.frameSize, len(audio))
			if !stream.Send(ctx, audio[start:end]) {
				stream.Close(ctx.Err())
				return
			}
		}
		stream.Close(nil)
	}()
	return stream, nil
}
