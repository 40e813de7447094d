// Package observe provides the OpenTelemetry metrics and tracing used by
// the turn pipeline. Metrics are exported for Prometheus scraping through
// InitProvider; tests build their own Metrics on a ManualReader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/satriahrh/turnloop"

// Provider kinds used as the "kind" attribute.
const (
	KindSTT = "stt"
	KindLLM = "llm"
	KindTTS = "tts"
)

// Turn outcomes used as the "outcome" attribute.
const (
	OutcomeCompleted   = "completed"
	OutcomeEmpty       = "empty"
	OutcomeFailed      = "failed"
	OutcomeInterrupted = "interrupted"
)

// Metrics holds every instrument the service records
type Metrics struct {
	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram
	TTSDuration metric.Float64Histogram

	// TTSFirstAudio is the delay from synthesis start to the first frame.
	TTSFirstAudio metric.Float64Histogram

	// TurnDuration is the time from the start of speech to the end of the pipeline.
	TurnDuration metric.Float64Histogram

	// ProviderRequests is labelled with provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors is labelled with provider and kind.
	ProviderErrors metric.Int64Counter

	// Turns is labelled with outcome.
	Turns metric.Int64Counter

	// DiscardedChunks counts audio received while a turn was in flight.
	DiscardedChunks metric.Int64Counter

	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets are in seconds, sized for voice pipeline stages
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on the given provider
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "turnloop.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "turnloop.llm.duration", "Latency of reply generation."},
		{&met.TTSDuration, "turnloop.tts.duration", "Duration of speech synthesis streaming."},
		{&met.TTSFirstAudio, "turnloop.tts.time_to_first_audio", "Delay until the first synthesized audio frame."},
		{&met.TurnDuration, "turnloop.turn.duration", "Time from the start of speech to pipeline completion."},
	}
	for _, h := range histograms {
		inst, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	var err error
	if met.ProviderRequests, err = m.Int64Counter("turnloop.provider.requests",
		metric.WithDescription("Provider calls by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("turnloop.provider.errors",
		metric.WithDescription("Provider failures by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("turnloop.turns",
		metric.WithDescription("Turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DiscardedChunks, err = m.Int64Counter("turnloop.audio.discarded_chunks",
		metric.WithDescription("Audio chunks dropped because a turn was in flight."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("turnloop.active_sessions",
		metric.WithDescription("Number of open voice sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level instance built on the global
// meter provider. Call it after InitProvider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderCall records one provider call's latency, request count
// and, when status is not "ok", an error.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, kind, status string, elapsed time.Duration) {
	switch kind {
	case KindSTT:
		m.STTDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
	case KindLLM:
		m.LLMDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
	case KindTTS:
		m.TTSDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
	}

	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
	if status != "ok" {
		m.ProviderErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("kind", kind),
			),
		)
	}
}

// RecordTurn records a finished turn
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, elapsed.Seconds(), attrs)
}
