package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/turnloop/domain"
	"github.com/satriahrh/turnloop/domain/repositories"
)

const (
	defaultAPIBaseURL = "https://api.elevenlabs.io/v1"
	defaultModelID    = "scribe_v2"
	defaultLanguage   = "eng"
)

// ElevenLabsConfig holds configuration for the ElevenLabs Scribe adapter
// Required fields:
// - APIKey: Your Eleven Labs API key
// Optional fields with defaults:
// - APIBaseURL: default "https://api.elevenlabs.io/v1"
// - ModelID: default "scribe_v2"
// - Language: ISO 639 code used when a request names none (default "eng")
type ElevenLabsConfig struct {
	APIKey     string
	APIBaseURL string
	ModelID    string
	Language   string
	HTTPClient *http.Client
}

// ElevenLabsSpeechToText implements SpeechToText with the ElevenLabs
// speech-to-text endpoint
type ElevenLabsSpeechToText struct {
	apiKey     string
	apiBaseURL string
	modelID    string
	language   string
	client     *http.Client
	logger     *zap.Logger
}

var _ repositories.SpeechToText = (*ElevenLabsSpeechToText)(nil)

type scribeResponse struct {
	Text         string `json:"text"`
	LanguageCode string `json:"language_code"`
}

// NewElevenLabsSpeechToText creates a new Scribe client
func NewElevenLabsSpeechToText(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsSpeechToText, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("eleven labs API key is required")
	}

	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}

	modelID := config.ModelID
	if modelID == "" {
		modelID = defaultModelID
		logger.Info("Using default model ID", zap.String("modelID", modelID))
	}

	language := config.Language
	if language == "" {
		language = defaultLanguage
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &ElevenLabsSpeechToText{
		apiKey:     config.APIKey,
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		modelID:    modelID,
		language:   language,
		client:     client,
		logger:     logger,
	}, nil
}

// TranscribeAudio uploads one turn's audio and returns the transcript
func (e *ElevenLabsSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	if len(audioData) == 0 {
		return "", fmt.Errorf("elevenlabs: %w", domain.ErrEmptyAudio)
	}

	language := e.language
	if config.Language != "" {
		language = config.Language
	}

	body, contentType, err := e.buildForm(audioData, config, language)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiBaseURL+"/speech-to-text", body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("eleven labs API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(errorBody)))
	}

	var result scribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", fmt.Errorf("elevenlabs: no speech detected: %w", domain.ErrEmptyAudio)
	}

	e.logger.Debug("Transcription completed",
		zap.Int("audioSize", len(audioData)),
		zap.String("languageCode", result.LanguageCode))

	return text, nil
}

func (e *ElevenLabsSpeechToText) buildForm(audioData []byte, config repositories.AudioConfig, language string) (io.Reader, string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	fields := map[string]string{
		"model_id":         e.modelID,
		"language_code":    language,
		"tag_audio_events": "false",
	}
	// Raw PCM needs its layout spelled out; containers are sniffed
	if strings.EqualFold(config.Encoding, "pcm_s16le") && config.SampleRate == 16000 {
		fields["file_format"] = "pcm_s16le_16"
	}
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", k, err)
		}
	}

	part, err := form.CreateFormFile("file", audioFileName(config.Encoding))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}

	return &buf, form.FormDataContentType(), nil
}

func audioFileName(encoding string) string {
	switch strings.ToLower(encoding) {
	case "webm_opus", "webm":
		return "audio.webm"
	case "ogg_opus", "ogg":
		return "audio.ogg"
	case "wav", "linear16":
		return "audio.wav"
	case "mp3":
		return "audio.mp3"
	case "flac":
		return "audio.flac"
	default:
		return "audio.pcm"
	}
}
