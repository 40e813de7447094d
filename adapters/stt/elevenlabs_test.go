package stt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/turnloop/domain"
	"github.com/satriahrh/turnloop/domain/repositories"
)

func newTestScribe(t *testing.T, handler http.HandlerFunc) *ElevenLabsSpeechToText {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	s, err := NewElevenLabsSpeechToText(ElevenLabsConfig{
		APIKey:     "test-api-key",
		APIBaseURL: server.URL,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsSpeechToText: %v", err)
	}
	return s
}

func TestNewElevenLabsSpeechToText(t *testing.T) {
	if _, err := NewElevenLabsSpeechToText(ElevenLabsConfig{}, zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error when API key is not set")
	}
}

func TestElevenLabsSpeechToText_TranscribeAudio(t *testing.T) {
	s := newTestScribe(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/speech-to-text" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "test-api-key" {
			t.Errorf("Missing api key header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("model_id"); got != defaultModelID {
			t.Errorf("Expected model %s, got %s", defaultModelID, got)
		}
		if got := r.FormValue("language_code"); got != "eng" {
			t.Errorf("Expected language eng, got %s", got)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer file.Close()
		if header.Filename != "audio.webm" {
			t.Errorf("Expected audio.webm, got %s", header.Filename)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "fake-webm" {
			t.Errorf("Unexpected audio payload %q", data)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" What's the weather like? ","language_code":"eng"}`))
	})

	text, err := s.TranscribeAudio(context.Background(), []byte("fake-webm"), repositories.AudioConfig{Encoding: "webm_opus"})
	if err != nil {
		t.Fatalf("TranscribeAudio failed: %v", err)
	}
	if text != "What's the weather like?" {
		t.Errorf("Unexpected transcript %q", text)
	}
}

func TestElevenLabsSpeechToText_EmptyAudio(t *testing.T) {
	s := newTestScribe(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":""}`))
	})

	for _, audio := range [][]byte{nil, []byte("noise")} {
		_, err := s.TranscribeAudio(context.Background(), audio, repositories.AudioConfig{})
		if !errors.Is(err, domain.ErrEmptyAudio) {
			t.Errorf("Expected ErrEmptyAudio for %d bytes, got %v", len(audio), err)
		}
	}
}

func TestElevenLabsSpeechToText_APIError(t *testing.T) {
	s := newTestScribe(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := s.TranscribeAudio(context.Background(), []byte("x"), repositories.AudioConfig{})
	if err == nil || errors.Is(err, domain.ErrEmptyAudio) {
		t.Errorf("Expected API error, got %v", err)
	}
}

func TestElevenLabsSpeechToText_PCMFormat(t *testing.T) {
	s := newTestScribe(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		if got := r.FormValue("file_format"); got != "pcm_s16le_16" {
			t.Errorf("Expected pcm_s16le_16 file format, got %q", got)
		}
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	})

	_, err := s.TranscribeAudio(context.Background(), []byte{0, 0}, repositories.AudioConfig{Encoding: "pcm_s16le", SampleRate: 16000})
	if err != nil {
		t.Fatalf("TranscribeAudio failed: %v", err)
	}
}

func TestMockSpeechToText(t *testing.T) {
	m := NewMockSpeechToText(zaptest.NewLogger(t))

	if _, err := m.TranscribeAudio(context.Background(), nil, repositories.AudioConfig{}); !errors.Is(err, domain.ErrEmptyAudio) {
		t.Errorf("Expected ErrEmptyAudio, got %v", err)
	}

	text, err := m.TranscribeAudio(context.Background(), make([]byte, 2000), repositories.AudioConfig{})
	if err != nil || text != "Hello there!" {
		t.Errorf("Unexpected result %q, %v", text, err)
	}
}
