package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/turnloop/adapters/llm"
	"github.com/satriahrh/turnloop/adapters/stt"
	"github.com/satriahrh/turnloop/adapters/tts"
	"github.com/satriahrh/turnloop/domain/repositories"
	"github.com/satriahrh/turnloop/internal/config"
	"github.com/satriahrh/turnloop/usecase"
)

// newProviders builds the configured adapters. A text-to-speech provider
// that cannot start leaves synthesis off instead of failing the server,
// so replies fall back to client-side speech.
func newProviders(ctx context.Context, cfg config.ProvidersConfig, logger *zap.Logger) (usecase.Providers, error) {
	speechToText, err := newSpeechToText(ctx, cfg.STT, logger)
	if err != nil {
		return usecase.Providers{}, fmt.Errorf("stt %s: %w", cfg.STT.Name, err)
	}

	languageModel, err := newLanguageModel(ctx, cfg.LLM, logger)
	if err != nil {
		return usecase.Providers{}, fmt.Errorf("llm %s: %w", cfg.LLM.Name, err)
	}

	providers := usecase.Providers{
		STT:     speechToText,
		STTName: cfg.STT.Name,
		LLM:     languageModel,
		LLMName: cfg.LLM.Name,
	}

	textToSpeech, err := newTextToSpeech(cfg.TTS, logger)
	if err != nil {
		logger.Warn("Speech synthesis disabled", zap.String("provider", cfg.TTS.Name), zap.Error(err))
		return providers, nil
	}
	providers.TTS = textToSpeech
	providers.TTSName = cfg.TTS.Name
	return providers, nil
}

func newSpeechToText(ctx context.Context, p config.ProviderEntry, logger *zap.Logger) (repositories.SpeechToText, error) {
	switch p.Name {
	case "elevenlabs":
		return stt.NewElevenLabsSpeechToText(stt.ElevenLabsConfig{
			APIKey:     p.APIKey,
			APIBaseURL: p.BaseURL,
			ModelID:    p.Model,
			Language:   p.Language,
		}, logger)
	case "google":
		return stt.NewGoogleSpeechToText(ctx, logger)
	case "mock":
		return stt.NewMockSpeechToText(logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Name)
	}
}

func newLanguageModel(ctx context.Context, p config.ProviderEntry, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	switch p.Name {
	case "groq":
		return llm.NewGroqLLM(llm.OpenAIConfig{
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
			Model:   p.Model,
		}, logger)
	case "openai":
		return llm.NewOpenAILLM(llm.OpenAIConfig{
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
			Model:   p.Model,
		}, logger)
	case "gemini":
		return llm.NewGeminiLLM(ctx, llm.GeminiConfig{
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
			Model:   p.Model,
		}, logger)
	case "mock":
		return llm.NewMockLLM(logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Name)
	}
}

func newTextToSpeech(p config.ProviderEntry, logger *zap.Logger) (repositories.TextToSpeech, error) {
	switch p.Name {
	case "elevenlabs":
		return tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:       p.APIKey,
			APIBaseURL:   p.BaseURL,
			ModelID:      p.Model,
			OutputFormat: p.OutputFormat,
		}, logger)
	case "mock":
		return tts.NewMockTextToSpeech(logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Name)
	}
}
