package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/turnloop/domain"
	"github.com/satriahrh/turnloop/domain/entities"
	"github.com/satriahrh/turnloop/domain/repositories"
	"github.com/satriahrh/turnloop/internal/observe"
)

const waitTimeout = 2 * time.Second

type fakeSTT struct {
	mu    sync.Mutex
	calls [][]byte
	fn    func(ctx context.Context, audio []byte) (string, error)
}

func (f *fakeSTT) TranscribeAudio(ctx context.Context, audio []byte, config repositories.AudioConfig) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]byte(nil), audio...))
	fn := f.fn
	f.mu.Unlock()

	if fn == nil {
		return "hello there", nil
	}
	return fn(ctx, audio)
}

func (f *fakeSTT) Calls() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.calls...)
}

type fakeLLM struct {
	mu    sync.Mutex
	calls [][]repositories.ChatMessage
	fn    func(ctx context.Context, messages []repositories.ChatMessage) (string, error)
}

func (f *fakeLLM) Generate(ctx context.Context, messages []repositories.ChatMessage) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]repositories.ChatMessage(nil), messages...))
	fn := f.fn
	f.mu.Unlock()

	if fn == nil {
		return "general kenobi", nil
	}
	return fn(ctx, messages)
}

func (f *fakeLLM) Calls() [][]repositories.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]repositories.ChatMessage(nil), f.calls...)
}

type fakeTTS struct {
	frames   [][]byte
	err      error
	startErr error

	// produce overrides frames and err when set
	produce func(ctx context.Context, stream *repositories.AudioStream)
}

func (f *fakeTTS) ConvertTextToSpeech(ctx context.Context, text string, voiceID string) (*repositories.AudioStream, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}

	stream := repositories.NewAudioStream(4)
	go func() {
		if f.produce != nil {
			f.produce(ctx, stream)
			return
		}
		for _, frame := range f.frames {
			if !stream.Send(ctx, frame) {
				stream.Close(ctx.Err())
				return
			}
		}
		stream.Close(f.err)
	}()
	return stream, nil
}

type fakeTransport struct {
	mu   sync.Mutex
	msgs []domain.OutboundMessage
}

func (f *fakeTransport) Send(msg domain.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeTransport) Messages() []domain.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OutboundMessage(nil), f.msgs...)
}

// waitFor polls until cond holds for the sent messages
func (f *fakeTransport) waitFor(t *testing.T, what string, cond func([]domain.OutboundMessage) bool) []domain.OutboundMessage {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		msgs := f.Messages()
		if cond(msgs) {
			return msgs
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s; got %v", what, kinds(f.Messages()))
	return nil
}

// waitForCount waits until label appears n times
func (f *fakeTransport) waitForCount(t *testing.T, label string, n int) []domain.OutboundMessage {
	t.Helper()
	return f.waitFor(t, fmt.Sprintf("%d x %s", n, label), func(msgs []domain.OutboundMessage) bool {
		return count(msgs, label) >= n
	})
}

// label renders a message as "kind" or "status:value[:reason]"
func label(msg domain.OutboundMessage) string {
	if msg.Kind != domain.OutboundStatus {
		return string(msg.Kind)
	}
	if msg.Reason != "" {
		return "status:" + string(msg.Status) + ":" + msg.Reason
	}
	return "status:" + string(msg.Status)
}

func kinds(msgs []domain.OutboundMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, label(m))
	}
	return out
}

func count(msgs []domain.OutboundMessage, want string) int {
	n := 0
	for _, m := range msgs {
		if label(m) == want {
			n++
		}
	}
	return n
}

func indexOf(msgs []domain.OutboundMessage, want string) int {
	for i, m := range msgs {
		if label(m) == want {
			return i
		}
	}
	return -1
}

// collapse squashes runs of identical labels, e.g. audio frames
func collapse(labels []string) string {
	var out []string
	for _, l := range labels {
		if len(out) > 0 && out[len(out)-1] == l {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, ",")
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}
	return m
}

type harnessOptions struct {
	synthesis       bool
	tts             *fakeTTS
	maxTurnDuration time.Duration
	llmTimeout      time.Duration
	encoding        string
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	session   *entities.Session
	ctrl      *SessionController
	transport *fakeTransport
	stt       *fakeSTT
	llm       *fakeLLM
	cancel    context.CancelFunc
	runErr    chan error
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := testMetrics(t)
	if opts.encoding == "" {
		opts.encoding = "pcm_s16le"
	}

	stt := &fakeSTT{}
	llm := &fakeLLM{}
	providers := Providers{STT: stt, STTName: "fake", LLM: llm, LLMName: "fake"}
	if opts.tts != nil {
		providers.TTS = opts.tts
		providers.TTSName = "fake"
	}

	conversation := NewConversationService(providers, ConversationConfig{
		TranscriptionTimeout: time.Second,
		GenerationTimeout:    opts.llmTimeout,
		SynthesisTimeout:     time.Second,
	}, metrics, logger)
	dialogue := NewDialogueManager(conversation, DialogueConfig{SystemPrompt: "Be brief."}, logger)

	session := entities.NewSession(entities.SessionSettings{
		SynthesisEnabled: opts.synthesis,
		VoiceID:          "voice",
		ThresholdDB:      -50,
		SilenceDuration:  800 * time.Millisecond,
		Encoding:         opts.encoding,
		SampleRate:       16000,
		Language:         "en",
	})
	transport := &fakeTransport{}

	factory := &SessionControllerFactory{
		Conversation: conversation,
		Dialogue:     dialogue,
		Config: SessionControllerConfig{
			DefaultChunkDuration: 100 * time.Millisecond,
			MaxTurnDuration:      opts.maxTurnDuration,
		},
		Metrics: metrics,
		Logger:  logger,
	}
	ctrl := factory.New(session, transport)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		t:         t,
		ctx:       ctx,
		session:   session,
		ctrl:      ctrl,
		transport: transport,
		stt:       stt,
		llm:       llm,
		cancel:    cancel,
		runErr:    make(chan error, 1),
	}
	go func() { h.runErr <- ctrl.Run(ctx) }()
	t.Cleanup(h.stop)

	transport.waitForCount(t, "status:listening", 1)
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.runErr:
	case <-time.After(waitTimeout):
		h.t.Error("Run did not return after cancel")
	}
}

func (h *harness) chunk(data byte, levelDB float64, d time.Duration) {
	h.t.Helper()
	err := h.ctrl.HandleAudio(h.ctx, entities.AudioChunk{
		Data:     []byte{data},
		LevelDB:  levelDB,
		Duration: d,
	})
	if err != nil {
		h.t.Fatalf("HandleAudio failed: %v", err)
	}
}

func (h *harness) speak(n int, data byte) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		h.chunk(data, -20, 100*time.Millisecond)
	}
}

func (h *harness) silence(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		h.chunk('.', -60, 180*time.Millisecond)
	}
}

func (h *harness) control(c domain.Control) {
	h.t.Helper()
	if err := h.ctrl.HandleControl(h.ctx, c); err != nil {
		h.t.Fatalf("HandleControl failed: %v", err)
	}
}

// sync round-trips an invalid threshold through the event loop so every
// earlier event has been handled once the error status arrives
func (h *harness) sync() {
	h.t.Helper()
	n := count(h.transport.Messages(), "status:error:invalid_threshold")
	h.control(domain.Control{Type: domain.ControlSetThreshold, ThresholdDB: 10})
	h.transport.waitForCount(h.t, "status:error:invalid_threshold", n+1)
}

func (h *harness) waitState(want entities.TurnState) {
	h.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if h.ctrl.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("Timed out waiting for state %s, got %s", want, h.ctrl.State())
}
