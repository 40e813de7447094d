package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/turnloop/domain"
	"github.com/satriahrh/turnloop/domain/entities"
	"github.com/satriahrh/turnloop/domain/repositories"
	"github.com/satriahrh/turnloop/internal/config"
)

// DialogueConfig controls how history is presented to the language model
type DialogueConfig struct {
	SystemPrompt string

	// Truncation is config.TruncationDropOldest or config.TruncationSurface.
	Truncation string

	// MaxContextTokens trims the request up front when positive.
	MaxContextTokens int
}

// DialogueManager turns a session's history plus a new user utterance into
// a language model request. The stored history is never changed here;
// truncation only affects the request.
type DialogueManager struct {
	llm    repositories.LargeLanguageModel
	config DialogueConfig
	logger *zap.Logger
}

// NewDialogueManager creates a new dialogue manager
func NewDialogueManager(llm repositories.LargeLanguageModel, cfg DialogueConfig, logger *zap.Logger) *DialogueManager {
	if cfg.Truncation == "" {
		cfg.Truncation = config.TruncationDropOldest
	}
	return &DialogueManager{
		llm:    llm,
		config: cfg,
		logger: logger,
	}
}

// Reply generates the assistant's answer to userText given history.
// With the drop_oldest policy a ContextTooLong rejection drops the oldest
// exchange and retries until only the new utterance is left.
func (d *DialogueManager) Reply(ctx context.Context, history []entities.SessionMessage, userText string) (string, error) {
	messages := make([]repositories.ChatMessage, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, repositories.ChatMessage{
			Role:    toChatRole(msg.Role),
			Content: msg.Content,
		})
	}
	messages = append(messages, repositories.ChatMessage{
		Role:    repositories.UserRole,
		Content: userText,
	})

	if d.config.MaxContextTokens > 0 {
		before := len(messages)
		for len(messages) > 1 && d.estimateTokens(messages) > d.config.MaxContextTokens {
			messages = dropOldest(messages)
		}
		if dropped := before - len(messages); dropped > 0 {
			d.logger.Debug("Trimmed history to token budget",
				zap.Int("dropped", dropped),
				zap.Int("maxContextTokens", d.config.MaxContextTokens))
		}
	}

	for {
		reply, err := d.llm.Generate(ctx, d.request(messages))
		if err == nil {
			return reply, nil
		}

		if !errors.Is(err, domain.ErrContextTooLong) || d.config.Truncation != config.TruncationDropOldest {
			return "", err
		}
		if len(messages) <= 1 {
			return "", fmt.Errorf("utterance alone exceeds model input: %w", err)
		}

		messages = dropOldest(messages)
		d.logger.Info("Context too long, dropping oldest exchange",
			zap.Int("remainingMessages", len(messages)))
	}
}

func (d *DialogueManager) request(messages []repositories.ChatMessage) []repositories.ChatMessage {
	if d.config.SystemPrompt == "" {
		return messages
	}
	req := make([]repositories.ChatMessage, 0, len(messages)+1)
	req = append(req, repositories.ChatMessage{
		Role:    repositories.SystemRole,
		Content: d.config.SystemPrompt,
	})
	return append(req, messages...)
}

// estimateTokens uses the four-characters-per-token approximation plus a
// small per-message overhead
func (d *DialogueManager) estimateTokens(messages []repositories.ChatMessage) int {
	total := (len(d.config.SystemPrompt) + 3) / 4
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}

// dropOldest removes the oldest message and any assistant messages that
// would otherwise open the conversation
func dropOldest(messages []repositories.ChatMessage) []repositories.ChatMessage {
	messages = messages[1:]
	for len(messages) > 1 && messages[0].Role == repositories.AssistantRole {
		messages = messages[1:]
	}
	return messages
}

func toChatRole(role entities.MessageRole) repositories.Role {
	if role == entities.MessageRoleAssistant {
		return repositories.AssistantRole
	}
	return repositories.UserRole
}
