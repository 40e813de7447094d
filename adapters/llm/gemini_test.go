package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/satriahrh/turnloop/domain"
	"github.com/satriahrh/turnloop/domain/repositories"
)

func TestConvertToGeminiFormat(t *testing.T) {
	system, contents := convertToGeminiFormat([]repositories.ChatMessage{
		{Role: repositories.SystemRole, Content: "Be brief."},
		{Role: repositories.UserRole, Content: "Hello"},
		{Role: repositories.AssistantRole, Content: "Hi!"},
		{Role: repositories.UserRole, Content: "Bye"},
	})

	if system != "Be brief." {
		t.Errorf("Expected system instruction, got %q", system)
	}
	if len(contents) != 3 {
		t.Fatalf("Expected 3 contents, got %d", len(contents))
	}

	wantRoles := []string{genai.RoleUser, genai.RoleModel, genai.RoleUser}
	for i, role := range wantRoles {
		if contents[i].Role != role {
			t.Errorf("Content %d: expected role %s, got %s", i, role, contents[i].Role)
		}
	}
}

func newTestGemini(t *testing.T, handler http.HandlerFunc) *GeminiLLM {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	g, err := NewGeminiLLM(context.Background(), GeminiConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create GeminiLLM: %v", err)
	}
	return g
}

func TestGeminiLLM_Generate(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, defaultGeminiModel+":generateContent") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Sure thing."}]},"finishReason":"STOP"}]}`))
	})

	reply, err := g.Generate(context.Background(), []repositories.ChatMessage{
		{Role: repositories.SystemRole, Content: "Be brief."},
		{Role: repositories.UserRole, Content: "Hello"},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if reply != "Sure thing." {
		t.Errorf("Unexpected reply %q", reply)
	}
}

func TestGeminiLLM_ContextTooLong(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"The input token count (2000000) exceeds the maximum number of tokens allowed (1048576).","status":"INVALID_ARGUMENT"}}`))
	})

	_, err := g.Generate(context.Background(), []repositories.ChatMessage{
		{Role: repositories.UserRole, Content: "Hello"},
	})
	if !errors.Is(err, domain.ErrContextTooLong) {
		t.Errorf("Expected ErrContextTooLong, got %v", err)
	}
}

func TestGeminiLLM_NoContent(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("No request expected")
	})

	if _, err := g.Generate(context.Background(), []repositories.ChatMessage{
		{Role: repositories.SystemRole, Content: "only system"},
	}); err == nil {
		t.Error("Expected error for conversation without turns")
	}
}
