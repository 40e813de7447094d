package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/satriahrh/turnloop/domain"
	"github.com/satriahrh/turnloop/domain/entities"
	"github.com/satriahrh/turnloop/domain/repositories"
	"github.com/satriahrh/turnloop/internal/observe"
	"github.com/satriahrh/turnloop/internal/turn"
)

const (
	defaultEventBuffer     = 64
	defaultMaxTurnDuration = 60 * time.Second

	rawPCMEncoding = "pcm_s16le"
)

// Status texts shown by clients next to the coarse status.
const (
	MessageReady     = "Ready"
	MessageThinking  = "Thinking..."
	MessageSpeaking  = "Speaking..."
	MessageTooLong   = "Turn too long, processing what was heard."
	MessageBadThresh = "Threshold must be between -100 and 0 dB."
)

var errorMessages = map[string]string{
	domain.ReasonTranscriptionUnavailable: "Error in transcription.",
	domain.ReasonGenerationUnavailable:    "Error generating a reply.",
	domain.ReasonSynthesisUnavailable:     "Error in speech synthesis.",
	domain.ReasonContextTooLong:           "The conversation is too long for the model.",
	domain.ReasonInvalidThreshold:         MessageBadThresh,
	domain.ReasonInvalidState:             "Unexpected message for the current state.",
	domain.ReasonBadRequest:               "Invalid message.",
	domain.ReasonInternal:                 "Internal error.",
}

// ErrorMessage returns the human-readable text for an error reason
func ErrorMessage(reason string) string {
	if msg, ok := errorMessages[reason]; ok {
		return msg
	}
	return "Error."
}

// Transport is the outbound half of a client connection. Send must keep
// messages in order and must not block indefinitely.
type Transport interface {
	Send(msg domain.OutboundMessage) error
}

// SessionControllerConfig holds process-wide turn limits
type SessionControllerConfig struct {
	DefaultChunkDuration time.Duration
	MaxTurnDuration      time.Duration
	EventBuffer          int
}

// SessionControllerFactory builds one controller per connection from the
// shared services
type SessionControllerFactory struct {
	Conversation *ConversationService
	Dialogue     *DialogueManager
	Config       SessionControllerConfig
	Metrics      *observe.Metrics
	Logger       *zap.Logger
}

// New creates a controller for session writing to transport
func (f *SessionControllerFactory) New(session *entities.Session, transport Transport) *SessionController {
	return NewSessionController(session, transport, f.Conversation, f.Dialogue, f.Config, f.Metrics, f.Logger)
}

type eventKind int

const (
	eventAudio eventKind = iota
	eventControl
)

type event struct {
	kind    eventKind
	chunk   entities.AudioChunk
	control domain.Control
}

type pipelineEvent struct {
	speaking bool
	result   turnResult
}

type turnResult struct {
	record  entities.TurnRecord
	replied bool
	err     error
}

// SessionController runs the turn-taking state machine for one session.
// Inbound audio and controls are queued onto a single event loop, which
// owns the buffer, the detector and the state. At most one turn pipeline
// runs at a time: a new one is started only from Recording, and the loop
// leaves Processing and Speaking only when the pipeline reports back.
type SessionController struct {
	session      *entities.Session
	transport    Transport
	conversation *ConversationService
	dialogue     *DialogueManager
	config       SessionControllerConfig
	metrics      *observe.Metrics
	logger       *zap.Logger

	events   chan event
	pipeline chan pipelineEvent
	done     chan struct{}
	wg       sync.WaitGroup

	// owned by Run
	state      atomic.Int32
	buffer     *turn.Buffer
	detector   *turn.Detector
	turnNumber int
	turnStart  time.Time
	cancelTurn context.CancelFunc

	// Container encodings carry their header only in the first chunk of a
	// recording. It is kept and put in front of every later turn.
	awaitInit   bool
	initSegment []byte
	turnHasInit bool
}

// NewSessionController creates a controller for one session
func NewSessionController(
	session *entities.Session,
	transport Transport,
	conversation *ConversationService,
	dialogue *DialogueManager,
	config SessionControllerConfig,
	metrics *observe.Metrics,
	logger *zap.Logger,
) *SessionController {
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}
	if config.MaxTurnDuration <= 0 {
		config.MaxTurnDuration = defaultMaxTurnDuration
	}

	settings := session.Settings()
	detector := turn.NewDetector(settings.ThresholdDB, settings.SilenceDuration)
	detector.SetChunkDuration(config.DefaultChunkDuration)

	c := &SessionController{
		session:      session,
		transport:    transport,
		conversation: conversation,
		dialogue:     dialogue,
		config:       config,
		metrics:      metrics,
		logger:       logger.With(zap.String("sessionID", session.ID)),
		events:       make(chan event, config.EventBuffer),
		pipeline:     make(chan pipelineEvent, 2),
		done:         make(chan struct{}),
		buffer:       turn.NewBuffer(),
		detector:     detector,
		awaitInit:    isContainer(settings.Encoding),
	}
	c.state.Store(int32(entities.TurnStateIdle))
	return c
}

// State returns the current turn state
func (c *SessionController) State() entities.TurnState {
	return entities.TurnState(c.state.Load())
}

// Session returns the controlled session
func (c *SessionController) Session() *entities.Session {
	return c.session
}

// HandleAudio queues an inbound audio chunk
func (c *SessionController) HandleAudio(ctx context.Context, chunk entities.AudioChunk) error {
	return c.enqueue(ctx, event{kind: eventAudio, chunk: chunk})
}

// HandleControl queues an inbound control message
func (c *SessionController) HandleControl(ctx context.Context, control domain.Control) error {
	return c.enqueue(ctx, event{kind: eventControl, control: control})
}

func (c *SessionController) enqueue(ctx context.Context, ev event) error {
	select {
	case <-c.done:
		return domain.ErrSessionClosed
	default:
	}

	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is cancelled. On return any in-flight
// turn has been cancelled and has exited, and the session is terminated.
func (c *SessionController) Run(ctx context.Context) error {
	defer close(c.done)

	c.sendStatus(domain.StatusListening, "", MessageReady)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil

		case ev := <-c.events:
			c.session.Touch()
			switch ev.kind {
			case eventAudio:
				c.onAudio(ctx, ev.chunk)
			case eventControl:
				c.onControl(ctx, ev.control)
			}

		case pe := <-c.pipeline:
			if pe.speaking {
				c.setState(entities.TurnStateSpeaking)
				continue
			}
			c.onTurnFinished(pe.result)
		}
	}
}

func (c *SessionController) shutdown() {
	if c.cancelTurn != nil {
		c.cancelTurn()
	}
	c.wg.Wait()
	c.cancelTurn = nil

	c.buffer.Discard()
	c.setState(entities.TurnStateTerminated)
	c.session.Terminate()
	c.logger.Info("Session terminated",
		zap.Int("turns", c.turnNumber),
		zap.Int("historyLength", len(c.session.History())))
}

func (c *SessionController) onAudio(ctx context.Context, chunk entities.AudioChunk) {
	state := c.State()
	if state == entities.TurnStateProcessing || state == entities.TurnStateSpeaking {
		c.metrics.DiscardedChunks.Add(ctx, 1)
		return
	}

	if chunk.Duration <= 0 {
		chunk.Duration = c.config.DefaultChunkDuration
	}

	isInit := false
	if c.awaitInit && len(chunk.Data) > 0 {
		c.initSegment = append([]byte(nil), chunk.Data...)
		c.awaitInit = false
		isInit = true
	}

	decision := c.detector.Observe(chunk)

	if state == entities.TurnStateIdle {
		if !c.detector.SpeechSeen() {
			return
		}
		c.buffer.Start()
		c.turnStart = time.Now()
		c.turnHasInit = false
		c.setState(entities.TurnStateRecording)
	}

	if err := c.buffer.Append(chunk); err != nil {
		c.logger.Error("Buffer rejected chunk", zap.Error(err))
		return
	}
	if isInit {
		c.turnHasInit = true
	}

	switch {
	case decision == turn.TurnEnd:
		c.endTurn(ctx, nil)
	case c.buffer.Duration() >= c.config.MaxTurnDuration:
		c.logger.Warn("Turn exceeded maximum duration",
			zap.Duration("duration", c.buffer.Duration()),
			zap.Duration("max", c.config.MaxTurnDuration))
		c.endTurn(ctx, domain.ErrTurnTooLong)
	}
}

func (c *SessionController) onControl(ctx context.Context, control domain.Control) {
	state := c.State()
	c.logger.Debug("Control received",
		zap.String("type", string(control.Type)),
		zap.String("state", state.String()))

	switch control.Type {
	case domain.ControlStart:
		if state == entities.TurnStateIdle {
			c.detector.Reset()
			// a restarted recorder sends a fresh header
			if isContainer(c.session.Settings().Encoding) {
				c.awaitInit = true
				c.initSegment = nil
			}
			c.sendStatus(domain.StatusListening, "", MessageReady)
		}

	case domain.ControlStop:
		if state != entities.TurnStateRecording {
			return
		}
		if c.buffer.Len() == 0 {
			c.resetToIdle()
			c.sendStatus(domain.StatusListening, "", MessageReady)
			return
		}
		c.endTurn(ctx, nil)

	case domain.ControlInterrupt:
		switch state {
		case entities.TurnStateProcessing, entities.TurnStateSpeaking:
			// Idle follows once the pipeline reports back.
			if c.cancelTurn != nil {
				c.cancelTurn()
			}
		case entities.TurnStateRecording:
			c.resetToIdle()
			c.sendStatus(domain.StatusListening, "", MessageReady)
		}

	case domain.ControlSetThreshold:
		if err := c.session.SetThresholdDB(control.ThresholdDB); err != nil {
			c.sendError(err)
			return
		}
		c.detector.SetThresholdDB(control.ThresholdDB)

	case domain.ControlSetSilenceDuration:
		if err := c.session.SetSilenceDuration(control.SilenceDuration); err != nil {
			c.sendError(err)
			return
		}
		c.detector.SetSilenceDuration(control.SilenceDuration)

	case domain.ControlSetSynthesisEnabled:
		c.session.SetSynthesisEnabled(control.Enabled)

	default:
		c.sendError(fmt.Errorf("%w: unknown control %q", domain.ErrBadRequest, control.Type))
	}
}

// endTurn closes the recording and starts the pipeline for it
func (c *SessionController) endTurn(ctx context.Context, cause error) {
	chunks := c.buffer.Drain()
	if c.initSegment != nil && !c.turnHasInit {
		chunks = append([]entities.AudioChunk{{Data: c.initSegment}}, chunks...)
	}
	c.turnHasInit = false
	c.detector.Reset()
	c.turnNumber++
	c.setState(entities.TurnStateProcessing)

	if cause != nil {
		c.sendStatus(domain.StatusBusy, domain.ErrorReason(cause), MessageTooLong)
	} else {
		c.sendStatus(domain.StatusBusy, "", MessageThinking)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	c.cancelTurn = cancel

	number := c.turnNumber
	settings := c.session.Settings()
	startedAt := c.turnStart

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		result := c.runPipeline(turnCtx, number, startedAt, settings, chunks)
		c.pipeline <- pipelineEvent{result: result}
	}()
}

// runPipeline transcribes, generates and optionally synthesizes one turn.
// It runs on its own goroutine and reports back through c.pipeline.
func (c *SessionController) runPipeline(
	ctx context.Context,
	number int,
	startedAt time.Time,
	settings entities.SessionSettings,
	chunks []entities.AudioChunk,
) turnResult {
	ctx, span := observe.StartSpan(ctx, "turn", trace.WithAttributes(
		attribute.String("session.id", c.session.ID),
		attribute.Int("turn", number),
	))
	defer span.End()
	logger := observe.WithTrace(ctx, c.logger).With(zap.Int("turn", number))

	record := entities.TurnRecord{
		Number:    number,
		StartedAt: startedAt,
		Duration:  turn.TotalDuration(chunks),
	}
	result := turnResult{record: record}

	audio := turn.Concat(chunks)
	transcript, err := c.conversation.Transcribe(ctx, audio, repositories.AudioConfig{
		SampleRate: settings.SampleRate,
		Encoding:   settings.Encoding,
		Language:   settings.Language,
	})
	if err != nil {
		result.err = err
		return result
	}
	result.record.Transcript = transcript
	logger.Info("Turn transcribed", zap.Int("audioSize", len(audio)), zap.String("text", transcript))

	c.send(domain.OutboundMessage{
		Kind: domain.OutboundTranscript,
		Turn: number,
		Text: transcript,
	})

	reply, err := c.dialogue.Reply(ctx, c.session.History(), transcript)
	if err != nil {
		result.err = err
		return result
	}
	if err := ctx.Err(); err != nil {
		result.err = err
		return result
	}
	if err := c.session.AddTurn(transcript, reply, record.Duration); err != nil {
		result.err = err
		return result
	}
	result.record.Reply = reply
	result.replied = true

	synthesize := settings.SynthesisEnabled && c.conversation.SynthesisAvailable()
	c.send(domain.OutboundMessage{
		Kind:         domain.OutboundReply,
		Turn:         number,
		Text:         reply,
		ClientSpeech: !synthesize,
	})

	if !synthesize {
		return result
	}

	stream, err := c.conversation.Synthesize(ctx, reply, settings.VoiceID)
	if err != nil {
		result.err = err
		return result
	}

	c.pipeline <- pipelineEvent{speaking: true}
	c.sendStatus(domain.StatusSpeaking, "", MessageSpeaking)

	for frame := range stream.Frames() {
		result.record.AudioFrames++
		result.record.AudioBytes += len(frame)
		c.send(domain.OutboundMessage{
			Kind:  domain.OutboundAudio,
			Turn:  number,
			Audio: frame,
		})
	}
	if err := stream.Err(); err != nil {
		result.err = err
	}
	return result
}

func (c *SessionController) onTurnFinished(result turnResult) {
	if c.cancelTurn != nil {
		c.cancelTurn()
		c.cancelTurn = nil
	}

	record := result.record
	record.CompletedAt = time.Now()
	elapsed := record.CompletedAt.Sub(record.StartedAt)

	fields := []zap.Field{
		zap.Int("turn", record.Number),
		zap.Duration("elapsed", elapsed),
		zap.Int("audioFrames", record.AudioFrames),
		zap.Int("audioBytes", record.AudioBytes),
	}

	var outcome string
	switch err := result.err; {
	case err == nil:
		outcome = observe.OutcomeCompleted
		c.logger.Info("Turn completed", fields...)
	case errors.Is(err, domain.ErrEmptyAudio):
		outcome = observe.OutcomeEmpty
		c.logger.Debug("Turn had no speech", fields...)
	case domain.IsCancellation(err):
		outcome = observe.OutcomeInterrupted
		c.logger.Info("Turn interrupted", append(fields, zap.Bool("replied", result.replied))...)
	default:
		outcome = observe.OutcomeFailed
		c.logger.Warn("Turn failed", append(fields, zap.Error(err))...)
		c.sendError(err)
	}
	c.metrics.RecordTurn(context.Background(), outcome, elapsed)

	c.resetToIdle()
	c.sendStatus(domain.StatusListening, "", MessageReady)
}

func (c *SessionController) resetToIdle() {
	c.buffer.Discard()
	c.detector.Reset()
	c.setState(entities.TurnStateIdle)
}

func (c *SessionController) setState(s entities.TurnState) {
	c.state.Store(int32(s))
}

func (c *SessionController) sendStatus(status domain.Status, reason, message string) {
	c.send(domain.OutboundMessage{
		Kind:    domain.OutboundStatus,
		Status:  status,
		Reason:  reason,
		Message: message,
	})
}

func (c *SessionController) sendError(err error) {
	reason := domain.ErrorReason(err)
	c.sendStatus(domain.StatusError, reason, ErrorMessage(reason))
}

func (c *SessionController) send(msg domain.OutboundMessage) {
	msg.SessionID = c.session.ID
	if err := c.transport.Send(msg); err != nil {
		c.logger.Debug("Dropping outbound message",
			zap.String("kind", string(msg.Kind)),
			zap.Error(err))
	}
}

// isContainer reports whether encoding wraps audio in a container whose
// header arrives once per recording
func isContainer(encoding string) bool {
	return encoding != "" && !strings.EqualFold(encoding, rawPCMEncoding)
}
