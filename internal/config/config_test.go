package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/satriahrh/turnloop/internal/config"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_format: console

session:
  silence_threshold_db: -45
  silence_duration: 1200ms
  max_turn_duration: 30s
  synthesis_enabled: true
  audio_transport: base64_json

timeouts:
  generation: 15s

dialogue:
  truncation: surface

providers:
  stt:
    name: google
    language: en-US
  llm:
    name: gemini
    api_key: gm-test
    model: gemini-2.0-flash
  tts:
    name: mock
`

func TestLoadFromReader(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("Expected listen addr :9090, got %s", cfg.Server.ListenAddr)
	}
	if cfg.Session.SilenceThresholdDB != -45 {
		t.Errorf("Expected threshold -45, got %f", cfg.Session.SilenceThresholdDB)
	}
	if cfg.Session.SilenceDuration != 1200*time.Millisecond {
		t.Errorf("Expected 1.2s silence, got %s", cfg.Session.SilenceDuration)
	}
	if !cfg.Session.SynthesisEnabled {
		t.Error("Expected synthesis enabled")
	}
	if cfg.Timeouts.Generation != 15*time.Second {
		t.Errorf("Expected 15s generation timeout, got %s", cfg.Timeouts.Generation)
	}
	if cfg.Dialogue.Truncation != config.TruncationSurface {
		t.Errorf("Expected surface truncation, got %s", cfg.Dialogue.Truncation)
	}
	if cfg.Providers.LLM.Name != "gemini" || cfg.Providers.LLM.APIKey != "gm-test" {
		t.Errorf("Unexpected llm provider %+v", cfg.Providers.LLM)
	}

	// untouched values keep their defaults
	if cfg.Timeouts.Transcription != 20*time.Second {
		t.Errorf("Expected default transcription timeout, got %s", cfg.Timeouts.Transcription)
	}
	if cfg.Dialogue.SystemPrompt != config.DefaultSystemPrompt {
		t.Errorf("Expected default system prompt, got %q", cfg.Dialogue.SystemPrompt)
	}
}

func TestLoadFromReader_Empty(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Empty config should fall back to defaults, got %v", err)
	}
	if cfg.Providers.LLM.Name != "groq" {
		t.Errorf("Expected groq by default, got %s", cfg.Providers.LLM.Name)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Error("Expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"defaults", func(*config.Config) {}, ""},
		{"threshold too high", func(c *config.Config) { c.Session.SilenceThresholdDB = 5 }, "silence_threshold_db"},
		{"zero silence", func(c *config.Config) { c.Session.SilenceDuration = 0 }, "session.silence_duration"},
		{"zero timeout", func(c *config.Config) { c.Timeouts.Synthesis = 0 }, "timeouts.synthesis"},
		{"bad truncation", func(c *config.Config) { c.Dialogue.Truncation = "random" }, "dialogue.truncation"},
		{"bad transport", func(c *config.Config) { c.Session.AudioTransport = "carrier_pigeon" }, "audio_transport"},
		{"unknown llm", func(c *config.Config) { c.Providers.LLM.Name = "anthropic" }, "providers.llm.name"},
		{"bad log level", func(c *config.Config) { c.Server.LogLevel = "loud" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":               "7000",
		"LOG_LEVEL":          "warn",
		"TTS_ENABLED":        "true",
		"GROQ_API_KEY":       "gsk-env",
		"ELEVENLABS_API_KEY": "el-env",
	}

	cfg := config.Default()
	cfg.Providers.TTS.APIKey = "el-file"
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("Expected :7000, got %s", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("Expected warn, got %s", cfg.Server.LogLevel)
	}
	if !cfg.Session.SynthesisEnabled {
		t.Error("Expected TTS_ENABLED to enable synthesis")
	}
	if cfg.Providers.LLM.APIKey != "gsk-env" {
		t.Errorf("Expected groq key from env, got %q", cfg.Providers.LLM.APIKey)
	}
	if cfg.Providers.STT.APIKey != "el-env" {
		t.Errorf("Expected elevenlabs stt key from env, got %q", cfg.Providers.STT.APIKey)
	}
	if cfg.Providers.TTS.APIKey != "el-file" {
		t.Errorf("File key should win over env, got %q", cfg.Providers.TTS.APIKey)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnloop.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("TTS_ENABLED", "")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.STT.Name != "google" {
		t.Errorf("Expected google stt, got %s", cfg.Providers.STT.Name)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	f, err := os.Open(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	cfg, err := config.LoadFromReader(f)
	if err != nil {
		t.Fatalf("Example config should be valid: %v", err)
	}
	if cfg.Session.SilenceDuration != 800*time.Millisecond {
		t.Errorf("Expected 800ms silence, got %v", cfg.Session.SilenceDuration)
	}
	if !strings.HasPrefix(cfg.Dialogue.SystemPrompt, "You are a helpful conversational voice assistant.") {
		t.Errorf("Unexpected system prompt %q", cfg.Dialogue.SystemPrompt)
	}
}
