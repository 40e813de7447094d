package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/satriahrh/turnloop/domain"
	"github.com/satriahrh/turnloop/domain/repositories"
	"github.com/satriahrh/turnloop/internal/observe"
	"github.com/satriahrh/turnloop/internal/resilience"
)

const relayBuffer = 16

// Providers names and holds the three external services
type Providers struct {
	STT     repositories.SpeechToText
	STTName string
	LLM     repositories.LargeLanguageModel
	LLMName string
	TTS     repositories.TextToSpeech
	TTSName string
}

// ConversationConfig bounds each external call and tunes the breakers
type ConversationConfig struct {
	TranscriptionTimeout time.Duration
	GenerationTimeout    time.Duration
	SynthesisTimeout     time.Duration

	MaxFailures  int
	ResetTimeout time.Duration
}

// ConversationService wraps the speech-to-text, language model and
// text-to-speech calls. Every call gets a timeout, a circuit breaker, a
// span and metrics, and provider failures come back as the matching
// Unavailable kind.
type ConversationService struct {
	providers Providers
	config    ConversationConfig

	sttBreaker *resilience.CircuitBreaker
	llmBreaker *resilience.CircuitBreaker
	ttsBreaker *resilience.CircuitBreaker

	metrics *observe.Metrics
	logger  *zap.Logger
}

var _ repositories.LargeLanguageModel = (*ConversationService)(nil)

// NewConversationService creates a new conversation service
func NewConversationService(
	providers Providers,
	config ConversationConfig,
	metrics *observe.Metrics,
	logger *zap.Logger,
) *ConversationService {
	breaker := func(kind, name string) *resilience.CircuitBreaker {
		return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         kind + ":" + name,
			MaxFailures:  config.MaxFailures,
			ResetTimeout: config.ResetTimeout,
			IsFailure:    countsAsFailure,
		}, logger)
	}

	return &ConversationService{
		providers:  providers,
		config:     config,
		sttBreaker: breaker(observe.KindSTT, providers.STTName),
		llmBreaker: breaker(observe.KindLLM, providers.LLMName),
		ttsBreaker: breaker(observe.KindTTS, providers.TTSName),
		metrics:    metrics,
		logger:     logger,
	}
}

// SynthesisAvailable reports whether a text-to-speech provider is configured
func (s *ConversationService) SynthesisAvailable() bool {
	return s.providers.TTS != nil
}

// Transcribe converts one turn's audio to text
func (s *ConversationService) Transcribe(ctx context.Context, audio []byte, config repositories.AudioConfig) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("transcribe: %w", domain.ErrEmptyAudio)
	}

	ctx, span := observe.StartSpan(ctx, "stt", trace.WithAttributes(
		attribute.String("provider", s.providers.STTName),
		attribute.Int("audio.bytes", len(audio)),
	))
	defer span.End()

	ctx, cancel := withTimeout(ctx, s.config.TranscriptionTimeout)
	defer cancel()

	start := time.Now()
	var text string
	err := s.sttBreaker.Execute(func() error {
		var err error
		text, err = s.providers.STT.TranscribeAudio(ctx, audio, config)
		return err
	})
	s.record(ctx, span, s.providers.STTName, observe.KindSTT, err, time.Since(start))

	if err != nil {
		return "", classify(err, domain.ErrTranscriptionUnavailable)
	}
	return text, nil
}

// Generate returns the language model's reply to messages
func (s *ConversationService) Generate(ctx context.Context, messages []repositories.ChatMessage) (string, error) {
	ctx, span := observe.StartSpan(ctx, "llm", trace.WithAttributes(
		attribute.String("provider", s.providers.LLMName),
		attribute.Int("messages", len(messages)),
	))
	defer span.End()

	ctx, cancel := withTimeout(ctx, s.config.GenerationTimeout)
	defer cancel()

	start := time.Now()
	var reply string
	err := s.llmBreaker.Execute(func() error {
		var err error
		reply, err = s.providers.LLM.Generate(ctx, messages)
		return err
	})
	s.record(ctx, span, s.providers.LLMName, observe.KindLLM, err, time.Since(start))

	if err != nil {
		return "", classify(err, domain.ErrGenerationUnavailable)
	}
	return reply, nil
}

// Synthesize starts speech synthesis for text. The returned stream is
// relayed from the provider; the synthesis timeout covers the whole
// stream, and a failure part way through surfaces from the stream's Err
// and counts against the breaker.
func (s *ConversationService) Synthesize(ctx context.Context, text, voiceID string) (*repositories.AudioStream, error) {
	if s.providers.TTS == nil {
		return nil, fmt.Errorf("no speech synthesis provider: %w", domain.ErrSynthesisUnavailable)
	}

	ctx, span := observe.StartSpan(ctx, "tts", trace.WithAttributes(
		attribute.String("provider", s.providers.TTSName),
		attribute.Int("text.length", len(text)),
	))
	ctx, cancel := withTimeout(ctx, s.config.SynthesisTimeout)

	start := time.Now()
	done, err := s.ttsBreaker.Allow()
	var in *repositories.AudioStream
	if err == nil {
		in, err = s.providers.TTS.ConvertTextToSpeech(ctx, text, voiceID)
		if err != nil {
			done(err)
		}
	}
	if err != nil {
		s.record(ctx, span, s.providers.TTSName, observe.KindTTS, err, time.Since(start))
		cancel()
		span.End()
		return nil, classify(err, domain.ErrSynthesisUnavailable)
	}

	out := repositories.NewAudioStream(relayBuffer)
	go func() {
		defer span.End()
		defer cancel()

		var err error
		first := true
		for frame := range in.Frames() {
			if first {
				s.metrics.TTSFirstAudio.Record(ctx, time.Since(start).Seconds())
				first = false
			}
			if !out.Send(ctx, frame) {
				err = ctx.Err()
				break
			}
		}
		if err == nil {
			err = in.Err()
		}

		done(err)
		s.record(ctx, span, s.providers.TTSName, observe.KindTTS, err, time.Since(start))
		if err != nil {
			out.Close(classify(err, domain.ErrSynthesisUnavailable))
			return
		}
		out.Close(nil)
	}()

	return out, nil
}

func (s *ConversationService) record(ctx context.Context, span trace.Span, provider, kind string, err error, elapsed time.Duration) {
	status := callStatus(err)
	s.metrics.RecordProviderCall(context.WithoutCancel(ctx), provider, kind, status, elapsed)

	if status != "ok" {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		if status != "cancelled" {
			s.logger.Warn("Provider call failed",
				zap.String("provider", provider),
				zap.String("kind", kind),
				zap.String("status", status),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
		}
	}
}

func callStatus(err error) string {
	switch {
	case err == nil, errors.Is(err, domain.ErrEmptyAudio):
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case domain.IsCancellation(err):
		return "cancelled"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}

// countsAsFailure keeps benign and caller-side outcomes from opening a breaker
func countsAsFailure(err error) bool {
	return !errors.Is(err, domain.ErrEmptyAudio) &&
		!errors.Is(err, domain.ErrContextTooLong) &&
		!domain.IsCancellation(err)
}

// classify maps a provider error onto the taxonomy. Benign kinds and
// cancellation pass through; anything else becomes kind.
func classify(err error, kind error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrEmptyAudio),
		errors.Is(err, domain.ErrContextTooLong),
		domain.IsCancellation(err):
		return err
	default:
		return fmt.Errorf("%w: %w", kind, err)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
