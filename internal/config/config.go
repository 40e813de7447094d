// Package config loads the process-wide configuration: YAML file first,
// environment variables on top. The result is read-only after startup;
// per-session values are copied into each session's settings.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Truncation policies applied when the language model rejects a request
// as too long.
const (
	TruncationDropOldest = "drop_oldest"
	TruncationSurface    = "surface"
)

// Outbound reply audio transports.
const (
	AudioTransportBinary = "binary"
	AudioTransportBase64 = "base64_json"
)

const DefaultSystemPrompt = "You are a helpful conversational voice assistant. Keep your responses concise and natural."

// ValidProviderNames lists known provider names per provider kind
var ValidProviderNames = map[string][]string{
	"stt": {"elevenlabs", "google", "mock"},
	"llm": {"groq", "openai", "gemini", "mock"},
	"tts": {"elevenlabs", "mock"},
}

// Config is the root configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Session    SessionConfig    `yaml:"session"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
	Dialogue   DialogueConfig   `yaml:"dialogue"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
}

// SessionConfig holds the defaults each new session starts with
type SessionConfig struct {
	SilenceThresholdDB   float64       `yaml:"silence_threshold_db"`
	SilenceDuration      time.Duration `yaml:"silence_duration"`
	DefaultChunkDuration time.Duration `yaml:"default_chunk_duration"`
	MaxTurnDuration      time.Duration `yaml:"max_turn_duration"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	SynthesisEnabled     bool          `yaml:"synthesis_enabled"`
	VoiceID              string        `yaml:"voice_id"`
	AudioTransport       string        `yaml:"audio_transport"`
	Encoding             string        `yaml:"encoding"`
	SampleRate           int           `yaml:"sample_rate"`
	Language             string        `yaml:"language"`
}

// TimeoutConfig bounds each external call
type TimeoutConfig struct {
	Transcription time.Duration `yaml:"transcription"`
	Generation    time.Duration `yaml:"generation"`
	Synthesis     time.Duration `yaml:"synthesis"`
}

type DialogueConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
	Truncation   string `yaml:"truncation"`

	// MaxContextTokens trims history before sending when positive. Zero
	// relies on the model to reject oversized requests.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry selects and configures one external service
type ProviderEntry struct {
	Name         string `yaml:"name"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	Language     string `yaml:"language"`
	OutputFormat string `yaml:"output_format"`
}

type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   "info",
			LogFormat:  "json",
		},
		Session: SessionConfig{
			SilenceThresholdDB:   -50,
			SilenceDuration:      800 * time.Millisecond,
			DefaultChunkDuration: 100 * time.Millisecond,
			MaxTurnDuration:      60 * time.Second,
			IdleTimeout:          5 * time.Minute,
			SynthesisEnabled:     false,
			VoiceID:              "21m00Tcm4TlvDq8ikWAM",
			AudioTransport:       AudioTransportBinary,
			Encoding:             "webm_opus",
			SampleRate:           48000,
			Language:             "en",
		},
		Timeouts: TimeoutConfig{
			Transcription: 20 * time.Second,
			Generation:    20 * time.Second,
			Synthesis:     30 * time.Second,
		},
		Dialogue: DialogueConfig{
			SystemPrompt: DefaultSystemPrompt,
			Truncation:   TruncationDropOldest,
		},
		Providers: ProvidersConfig{
			STT: ProviderEntry{Name: "elevenlabs", Model: "scribe_v2", Language: "eng"},
			LLM: ProviderEntry{Name: "groq"},
			TTS: ProviderEntry{Name: "elevenlabs", Model: "eleven_multilingual_v2", OutputFormat: "mp3_44100_128"},
		},
		Resilience: ResilienceConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates it.
// Environment variables are not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides values from the environment. API keys are only taken
// from the environment when the file left them empty.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if port := getenv("PORT"); port != "" {
		c.Server.ListenAddr = ":" + port
	}
	if level := getenv("LOG_LEVEL"); level != "" {
		c.Server.LogLevel = level
	}
	if v := getenv("TTS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Session.SynthesisEnabled = enabled
		}
	}

	for _, p := range []*ProviderEntry{&c.Providers.STT, &c.Providers.LLM, &c.Providers.TTS} {
		if p.APIKey != "" {
			continue
		}
		if env, ok := apiKeyEnv[p.Name]; ok {
			p.APIKey = getenv(env)
		}
	}
}

var apiKeyEnv = map[string]string{
	"elevenlabs": "ELEVENLABS_API_KEY",
	"groq":       "GROQ_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"gemini":     "GEMINI_API_KEY",
}

// Validate returns every problem found, joined
func (c *Config) Validate() error {
	var errs []error

	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", c.Server.LogLevel))
	}
	switch c.Server.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: json, console", c.Server.LogFormat))
	}

	s := c.Session
	if s.SilenceThresholdDB < -100 || s.SilenceThresholdDB > 0 {
		errs = append(errs, fmt.Errorf("session.silence_threshold_db %.1f must be within [-100, 0]", s.SilenceThresholdDB))
	}
	for name, d := range map[string]time.Duration{
		"session.silence_duration":       s.SilenceDuration,
		"session.default_chunk_duration": s.DefaultChunkDuration,
		"session.max_turn_duration":      s.MaxTurnDuration,
		"timeouts.transcription":         c.Timeouts.Transcription,
		"timeouts.generation":            c.Timeouts.Generation,
		"timeouts.synthesis":             c.Timeouts.Synthesis,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if s.IdleTimeout < 0 {
		errs = append(errs, errors.New("session.idle_timeout must not be negative"))
	}
	if s.AudioTransport != AudioTransportBinary && s.AudioTransport != AudioTransportBase64 {
		errs = append(errs, fmt.Errorf("session.audio_transport %q is invalid; valid values: %s, %s", s.AudioTransport, AudioTransportBinary, AudioTransportBase64))
	}
	if s.SampleRate < 0 {
		errs = append(errs, errors.New("session.sample_rate must not be negative"))
	}

	if c.Dialogue.Truncation != TruncationDropOldest && c.Dialogue.Truncation != TruncationSurface {
		errs = append(errs, fmt.Errorf("dialogue.truncation %q is invalid; valid values: %s, %s", c.Dialogue.Truncation, TruncationDropOldest, TruncationSurface))
	}
	if c.Dialogue.MaxContextTokens < 0 {
		errs = append(errs, errors.New("dialogue.max_context_tokens must not be negative"))
	}

	for kind, p := range map[string]ProviderEntry{"stt": c.Providers.STT, "llm": c.Providers.LLM, "tts": c.Providers.TTS} {
		if !slices.Contains(ValidProviderNames[kind], p.Name) {
			errs = append(errs, fmt.Errorf("providers.%s.name %q is invalid; valid values: %v", kind, p.Name, ValidProviderNames[kind]))
		}
	}

	if c.Resilience.MaxFailures < 0 || c.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	return errors.Join(errs...)
}
