package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/turnloop/domain/repositories"
)

// MockLLM echoes the latest user message back
type MockLLM struct {
	logger *zap.Logger
}

var _ repositories.LargeLanguageModel = (*MockLLM)(nil)

// NewMockLLM creates a new mock language model
func NewMockLLM(logger *zap.Logger) *MockLLM {
	return &MockLLM{logger: logger}
}

// Generate implements repositories.LargeLanguageModel
func (m *MockLLM) Generate(ctx context.Context, messages []repositories.ChatMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == repositories.UserRole {
			last = messages[i].Content
			break
		}
	}

	m.logger.Info("Processing mock generation", zap.Int("messages", len(messages)))

	if strings.TrimSpace(last) == "" {
		return "I didn't catch that. Could you say it again?", nil
	}
	return fmt.Sprintf("You said: %s", last), nil
}
