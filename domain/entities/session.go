package entities

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satriahrh/turnloop/domain"
)

// SessionStatus represents the status of a session
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusTerminated SessionStatus = "terminated"
)

// MessageRole represents the role of a message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

const (
	MinThresholdDB = -100.0
	MaxThresholdDB = 0.0
)

// SessionMessage represents a message within a session
type SessionMessage struct {
	Timestamp  time.Time   `json:"timestamp"`
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	DurationMs int         `json:"duration_ms"`
}

// SessionSettings is the per-session copy of the conversation settings.
// It is set when the connection opens and changed only by control messages.
type SessionSettings struct {
	SynthesisEnabled bool          `json:"synthesis_enabled"`
	VoiceID          string        `json:"voice_id"`
	ThresholdDB      float64       `json:"threshold_db"`
	SilenceDuration  time.Duration `json:"silence_duration"`
	Language         string        `json:"language"`
	Encoding         string        `json:"encoding"`
	SampleRate       int           `json:"sample_rate"`
}

// Validate validates the settings
func (s SessionSettings) Validate() error {
	if s.ThresholdDB < MinThresholdDB || s.ThresholdDB > MaxThresholdDB {
		return fmt.Errorf("%w: %.1f dB is outside [%.0f, %.0f]", domain.ErrInvalidThreshold, s.ThresholdDB, MinThresholdDB, MaxThresholdDB)
	}
	if s.SilenceDuration <= 0 {
		return errors.New("silence duration must be positive")
	}
	if s.SampleRate < 0 {
		return errors.New("sample rate must not be negative")
	}
	return nil
}

// Session is one live conversation tied to one connection. History only
// grows; it lives in process memory and is dropped with the session.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	mu           sync.RWMutex
	lastActiveAt time.Time
	status       SessionStatus
	messages     []SessionMessage
	settings     SessionSettings
}

// NewSession creates a new session with the given settings
func NewSession(settings SessionSettings) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		lastActiveAt: now,
		status:       SessionStatusActive,
		messages:     make([]SessionMessage, 0),
		settings:     settings,
	}
}

// AddTurn appends a completed exchange. The user and assistant messages
// are appended together so history never holds a dangling user turn.
func (s *Session) AddTurn(userText, assistantText string, userDuration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == SessionStatusTerminated {
		return domain.ErrSessionClosed
	}

	now := time.Now()
	s.messages = append(s.messages,
		SessionMessage{
			Timestamp:  now,
			Role:       MessageRoleUser,
			Content:    userText,
			DurationMs: int(userDuration.Milliseconds()),
		},
		SessionMessage{
			Timestamp: now,
			Role:      MessageRoleAssistant,
			Content:   assistantText,
		},
	)
	s.lastActiveAt = now
	return nil
}

// History returns a copy of the conversation messages
func (s *Session) History() []SessionMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]SessionMessage, len(s.messages))
	copy(history, s.messages)
	return history
}

// Settings returns a snapshot of the session settings
func (s *Session) Settings() SessionSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetThresholdDB updates the silence threshold. Values outside
// [-100, 0] dB are rejected and leave the setting unchanged.
func (s *Session) SetThresholdDB(value float64) error {
	if value < MinThresholdDB || value > MaxThresholdDB {
		return fmt.Errorf("%w: %.1f dB is outside [%.0f, %.0f]", domain.ErrInvalidThreshold, value, MinThresholdDB, MaxThresholdDB)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.ThresholdDB = value
	return nil
}

// SetSilenceDuration updates how long trailing silence must last to end a turn
func (s *Session) SetSilenceDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: silence duration must be positive, got %s", domain.ErrBadRequest, d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.SilenceDuration = d
	return nil
}

// SetSynthesisEnabled toggles server-side speech synthesis for this session
func (s *Session) SetSynthesisEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.SynthesisEnabled = enabled
}

// Touch records inbound activity
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
}

// LastActiveAt returns the time of the last recorded activity
func (s *Session) LastActiveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}

// Terminate marks the session as terminated
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = SessionStatusTerminated
}

// IsTerminated reports whether the session has been terminated
func (s *Session) IsTerminated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == SessionStatusTerminated
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}

	s.mu.RLock()
	status, settings := s.status, s.settings
	s.mu.RUnlock()

	if status != SessionStatusActive && status != SessionStatusTerminated {
		return errors.New("invalid session status")
	}
	return settings.Validate()
}
