package websocket

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satriahrh/turnloop/domain"
	"github.com/satriahrh/turnloop/domain/entities"
	"github.com/satriahrh/turnloop/internal/config"
	"github.com/satriahrh/turnloop/internal/turn"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Inbound message types
const (
	MessageTypeAudioChunk         MessageType = "audio_chunk"
	MessageTypeStart              MessageType = "start"
	MessageTypeStartRecording     MessageType = "start_recording"
	MessageTypeStop               MessageType = "stop"
	MessageTypeStopRecording      MessageType = "stop_recording"
	MessageTypeInterrupt          MessageType = "interrupt"
	MessageTypeSetThreshold       MessageType = "set_threshold"
	MessageTypeSetSilenceDuration MessageType = "set_silence_duration"
	MessageTypeSetTTS             MessageType = "set_tts"
)

// Outbound message types
const (
	MessageTypeTranscript MessageType = "transcript"
	MessageTypeReply      MessageType = "reply"
	MessageTypeAudio      MessageType = "audio"
	MessageTypeStatus     MessageType = "status"
)

// Decode error codes, sent as the status reason
const (
	CodeBadRequest  = "bad_request"
	CodeUnsupported = "unsupported"
)

// DecodeError describes an inbound message that could not be decoded. It
// is reported to the client and does not end the session.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: CodeBadRequest, Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: CodeUnsupported, Message: message, Param: param}
}

// WriteData is one frame queued for the write pump
type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// inboundMessage is the union of every JSON message a client may send.
// Pointers distinguish absent fields from zero values.
type inboundMessage struct {
	Type       MessageType `json:"type"`
	Data       string      `json:"data,omitempty"`
	LevelDB    *float64    `json:"level_db,omitempty"`
	DB         *float64    `json:"dB,omitempty"`
	IsSpeech   *bool       `json:"is_speech,omitempty"`
	DurationMs *int        `json:"duration_ms,omitempty"`
	Timestamp  int64       `json:"timestamp,omitempty"`
	Value      *float64    `json:"value,omitempty"`
	Enabled    *bool       `json:"enabled,omitempty"`
}

// Inbound is a decoded client message; exactly one field is set
type Inbound struct {
	Audio   *entities.AudioChunk
	Control *domain.Control
}

// DecodeText decodes a JSON text frame. now stamps chunks that carry no
// timestamp of their own.
func DecodeText(payload []byte, now time.Time) (Inbound, error) {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Inbound{}, badRequest("invalid JSON", "")
	}

	switch msg.Type {
	case "":
		return Inbound{}, badRequest("message type is required", "type")

	case MessageTypeAudioChunk:
		chunk, err := decodeAudioChunk(msg, now)
		if err != nil {
			return Inbound{}, err
		}
		return Inbound{Audio: &chunk}, nil

	case MessageTypeStart, MessageTypeStartRecording:
		return control(domain.Control{Type: domain.ControlStart}), nil

	case MessageTypeStop, MessageTypeStopRecording:
		return control(domain.Control{Type: domain.ControlStop}), nil

	case MessageTypeInterrupt:
		return control(domain.Control{Type: domain.ControlInterrupt}), nil

	case MessageTypeSetThreshold:
		if msg.Value == nil {
			return Inbound{}, badRequest("value is required", "value")
		}
		return control(domain.Control{Type: domain.ControlSetThreshold, ThresholdDB: *msg.Value}), nil

	case MessageTypeSetSilenceDuration:
		if msg.Value == nil {
			return Inbound{}, badRequest("value is required", "value")
		}
		return control(domain.Control{
			Type:            domain.ControlSetSilenceDuration,
			SilenceDuration: time.Duration(*msg.Value * float64(time.Millisecond)),
		}), nil

	case MessageTypeSetTTS:
		if msg.Enabled == nil {
			return Inbound{}, badRequest("enabled is required", "enabled")
		}
		return control(domain.Control{Type: domain.ControlSetSynthesisEnabled, Enabled: *msg.Enabled}), nil

	default:
		return Inbound{}, unsupported("unsupported message type", string(msg.Type))
	}
}

func control(c domain.Control) Inbound {
	return Inbound{Control: &c}
}

func decodeAudioChunk(msg inboundMessage, now time.Time) (entities.AudioChunk, error) {
	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return entities.AudioChunk{}, badRequest("data must be base64", "data")
	}

	level := msg.LevelDB
	if level == nil {
		level = msg.DB
	}
	if level == nil && msg.IsSpeech == nil {
		return entities.AudioChunk{}, badRequest("level_db or is_speech is required", "level_db")
	}

	chunk := entities.AudioChunk{
		Data:      data,
		LevelDB:   entities.MinThresholdDB,
		Timestamp: now,
	}
	if level != nil {
		chunk.LevelDB = *level
	}
	if msg.IsSpeech != nil {
		chunk.Activity = entities.VoiceActivitySilence
		if *msg.IsSpeech {
			chunk.Activity = entities.VoiceActivitySpeech
		}
	}
	if msg.DurationMs != nil {
		if *msg.DurationMs < 0 {
			return entities.AudioChunk{}, badRequest("duration_ms must not be negative", "duration_ms")
		}
		chunk.Duration = time.Duration(*msg.DurationMs) * time.Millisecond
	}
	if msg.Timestamp > 0 {
		chunk.Timestamp = time.UnixMilli(msg.Timestamp)
	}
	return chunk, nil
}

// DecodeBinary turns a binary frame into a chunk. Only raw 16-bit PCM is
// accepted, since level and duration are measured here.
func DecodeBinary(payload []byte, settings entities.SessionSettings, now time.Time) (entities.AudioChunk, error) {
	if !strings.EqualFold(settings.Encoding, "pcm_s16le") {
		return entities.AudioChunk{}, unsupported("binary audio requires pcm_s16le encoding", "encoding")
	}
	if len(payload)%2 != 0 {
		return entities.AudioChunk{}, badRequest("pcm_s16le frame has an odd byte count", "data")
	}

	return entities.AudioChunk{
		Data:      payload,
		LevelDB:   turn.LevelDB(payload),
		Duration:  turn.PCMDuration(payload, settings.SampleRate),
		Timestamp: now,
	}, nil
}

type outboundMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Turn      int         `json:"turn,omitempty"`
	Text      string      `json:"text,omitempty"`
	ClientTTS *bool       `json:"client_tts,omitempty"`
	Data      string      `json:"data,omitempty"`
	Status    string      `json:"status,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// Encode renders an outbound message as a websocket frame. Reply audio
// goes out as a binary frame unless audioTransport asks for base64 JSON.
func Encode(msg domain.OutboundMessage, audioTransport string) (WriteData, error) {
	out := outboundMessage{
		SessionID: msg.SessionID,
		Turn:      msg.Turn,
	}

	switch msg.Kind {
	case domain.OutboundTranscript:
		out.Type = MessageTypeTranscript
		out.Text = msg.Text

	case domain.OutboundReply:
		out.Type = MessageTypeReply
		out.Text = msg.Text
		clientTTS := msg.ClientSpeech
		out.ClientTTS = &clientTTS

	case domain.OutboundAudio:
		if audioTransport != config.AudioTransportBase64 {
			return WriteData{Type: websocket.BinaryMessage, Payload: msg.Audio}, nil
		}
		out.Type = MessageTypeAudio
		out.Data = base64.StdEncoding.EncodeToString(msg.Audio)

	case domain.OutboundStatus:
		out.Type = MessageTypeStatus
		out.Status = string(msg.Status)
		out.Reason = msg.Reason
		out.Message = msg.Message

	default:
		return WriteData{}, fmt.Errorf("unknown outbound kind %q", msg.Kind)
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return WriteData{}, fmt.Errorf("failed to marshal %s message: %w", out.Type, err)
	}
	return WriteData{Type: websocket.TextMessage, Payload: payload}, nil
}

// DecodeErrorStatus converts a decode failure into an error status
func DecodeErrorStatus(err error) domain.OutboundMessage {
	msg := domain.OutboundMessage{
		Kind:    domain.OutboundStatus,
		Status:  domain.StatusError,
		Reason:  CodeBadRequest,
		Message: err.Error(),
	}
	if decErr, ok := err.(*DecodeError); ok {
		msg.Reason = decErr.Code
	}
	return msg
}
