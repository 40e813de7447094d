package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/satriahrh/turnloop/domain"
	"github.com/satriahrh/turnloop/domain/repositories"
)

const (
	// GroqBaseURL is Groq's OpenAI-compatible endpoint
	GroqBaseURL = "https://api.groq.com/openai/v1"

	defaultGroqModel   = "openai/gpt-oss-120b"
	defaultOpenAIModel = "gpt-4o-mini"

	contextLengthExceeded = "context_length_exceeded"
)

// OpenAIConfig holds configuration for any OpenAI-compatible chat endpoint
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	MaxRetries      int
	HTTPClient      *http.Client
}

// OpenAILLM implements LargeLanguageModel with the chat completions API.
// Groq is served by the same client pointed at GroqBaseURL.
type OpenAILLM struct {
	client          oai.Client
	logger          *zap.Logger
	model           string
	temperature     float64
	maxOutputTokens int
}

var _ repositories.LargeLanguageModel = (*OpenAILLM)(nil)

// NewOpenAILLM creates a client for api.openai.com or a compatible endpoint
func NewOpenAILLM(config OpenAIConfig, logger *zap.Logger) (*OpenAILLM, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}

	model := config.Model
	if model == "" {
		model = defaultOpenAIModel
		if config.BaseURL == GroqBaseURL {
			model = defaultGroqModel
		}
		logger.Info("Using default model", zap.String("model", model))
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}
	if config.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(config.BaseURL))
	}
	if config.MaxRetries > 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(config.MaxRetries))
	} else if config.MaxRetries < 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(0))
	}
	if config.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(config.HTTPClient))
	}

	return &OpenAILLM{
		client:          oai.NewClient(reqOpts...),
		logger:          logger,
		model:           model,
		temperature:     config.Temperature,
		maxOutputTokens: config.MaxOutputTokens,
	}, nil
}

// NewGroqLLM creates an OpenAILLM pointed at Groq
func NewGroqLLM(config OpenAIConfig, logger *zap.Logger) (*OpenAILLM, error) {
	if config.BaseURL == "" {
		config.BaseURL = GroqBaseURL
	}
	return NewOpenAILLM(config, logger)
}

// Generate sends the conversation and returns the first choice's content
func (o *OpenAILLM) Generate(ctx context.Context, messages []repositories.ChatMessage) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(o.model),
		Messages: convertToOpenAIFormat(messages),
	}
	if o.temperature != 0 {
		params.Temperature = param.NewOpt(o.temperature)
	}
	if o.maxOutputTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(o.maxOutputTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai: empty response")
	}

	o.logger.Debug("Chat completion generated",
		zap.String("model", o.model),
		zap.Int64("promptTokens", resp.Usage.PromptTokens),
		zap.Int64("completionTokens", resp.Usage.CompletionTokens))

	return text, nil
}

func convertToOpenAIFormat(messages []repositories.ChatMessage) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case repositories.SystemRole:
			out = append(out, oai.SystemMessage(msg.Content))
		case repositories.AssistantRole:
			out = append(out, oai.AssistantMessage(msg.Content))
		default:
			out = append(out, oai.UserMessage(msg.Content))
		}
	}
	return out
}

func classifyOpenAIError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == contextLengthExceeded || apiErr.StatusCode == http.StatusRequestEntityTooLarge {
			return fmt.Errorf("openai: %s: %w", apiErr.Message, domain.ErrContextTooLong)
		}
	}
	return fmt.Errorf("openai: chat completion: %w", err)
}
