package stt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/turnloop/domain"
	"github.com/satriahrh/turnloop/domain/repositories"
)

// MockSpeechToText returns canned transcripts chosen by audio size
type MockSpeechToText struct {
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*MockSpeechToText)(nil)

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{
		logger: logger,
	}
}

// TranscribeAudio implements repositories.SpeechToText
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	s.logger.Info("Processing mock speech-to-text",
		zap.Int("audioSize", len(audioData)),
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding))

	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch {
	case len(audioData) == 0:
		return "", fmt.Errorf("mock: %w", domain.ErrEmptyAudio)
	case len(audioData) > 10000:
		return "Hello, how are you? I want to tell you about my day.", nil
	case len(audioData) > 5000:
		return "Thank you for listening.", nil
	case len(audioData) > 1000:
		return "Hello there!", nil
	default:
		return "Hi", nil
	}
}
