package stt

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/turnloop/domain"
	"github.com/satriahrh/turnloop/domain/repositories"
)

func newTestGoogle(t *testing.T, resp *speechpb.RecognizeResponse, err error, seen **speechpb.RecognizeRequest) *GoogleSpeechToText {
	return &GoogleSpeechToText{
		recognize: func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			if seen != nil {
				*seen = req
			}
			return resp, err
		},
		logger: zaptest.NewLogger(t),
	}
}

func alternative(text string) *speechpb.SpeechRecognitionResult {
	return &speechpb.SpeechRecognitionResult{
		Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text}},
	}
}

func TestGoogleSpeechToText_TranscribeAudio(t *testing.T) {
	var req *speechpb.RecognizeRequest
	g := newTestGoogle(t, &speechpb.RecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{alternative("hello"), alternative(" world ")},
	}, nil, &req)

	text, err := g.TranscribeAudio(context.Background(), []byte{1, 2, 3, 4}, repositories.AudioConfig{
		Encoding:   "pcm_s16le",
		SampleRate: 16000,
		Language:   "en-US",
	})
	if err != nil {
		t.Fatalf("TranscribeAudio failed: %v", err)
	}
	if text != "hello world" {
		t.Errorf("Expected 'hello world', got %q", text)
	}

	if req.GetConfig().GetEncoding() != speechpb.RecognitionConfig_LINEAR16 {
		t.Errorf("Expected LINEAR16, got %s", req.GetConfig().GetEncoding())
	}
	if req.GetConfig().GetSampleRateHertz() != 16000 {
		t.Errorf("Expected 16000 Hz, got %d", req.GetConfig().GetSampleRateHertz())
	}
	if req.GetConfig().GetLanguageCode() != "en-US" {
		t.Errorf("Expected en-US, got %s", req.GetConfig().GetLanguageCode())
	}
}

func TestGoogleSpeechToText_EmptyAudio(t *testing.T) {
	tests := []struct {
		name  string
		audio []byte
		resp  *speechpb.RecognizeResponse
	}{
		{"no bytes", nil, &speechpb.RecognizeResponse{}},
		{"no results", []byte{1, 2}, &speechpb.RecognizeResponse{}},
		{"blank transcript", []byte{1, 2}, &speechpb.RecognizeResponse{
			Results: []*speechpb.SpeechRecognitionResult{alternative("  ")},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGoogle(t, tt.resp, nil, nil)
			_, err := g.TranscribeAudio(context.Background(), tt.audio, repositories.AudioConfig{Encoding: "webm_opus"})
			if !errors.Is(err, domain.ErrEmptyAudio) {
				t.Errorf("Expected ErrEmptyAudio, got %v", err)
			}
		})
	}
}

func TestGoogleSpeechToText_ServiceError(t *testing.T) {
	g := newTestGoogle(t, nil, errors.New("unavailable"), nil)

	_, err := g.TranscribeAudio(context.Background(), []byte{1}, repositories.AudioConfig{Encoding: "FLAC"})
	if err == nil || errors.Is(err, domain.ErrEmptyAudio) {
		t.Errorf("Expected a service error, got %v", err)
	}
}

func TestGetAudioEncoding(t *testing.T) {
	if _, err := getAudioEncoding("mp3"); err == nil {
		t.Error("Expected error for unsupported encoding")
	}

	got, err := getAudioEncoding("webm_opus")
	if err != nil || got != speechpb.RecognitionConfig_WEBM_OPUS {
		t.Errorf("Expected WEBM_OPUS, got %s (%v)", got, err)
	}
}
