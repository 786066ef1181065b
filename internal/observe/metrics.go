// Package observe records OpenTelemetry metrics for conversation turns and
// exposes them for Prometheus scraping.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/zhouzirui/persona-voice"

// Turn outcomes.
const (
	OutcomeAudio    = "audio"
	OutcomeTextOnly = "text_only"
	OutcomeApology  = "apology"
)

// Metrics holds the instruments used by the turn pipeline and the socket server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	TurnDuration metric.Float64Histogram
	LLMDuration  metric.Float64Histogram
	TTSDuration  metric.Float64Histogram

	// Turns counts completed turns by outcome.
	Turns metric.Int64Counter

	// ProviderErrors counts failed upstream calls by provider and kind (llm, tts).
	ProviderErrors metric.Int64Counter

	ActiveConnections metric.Int64UpDownCounter
}

// latencyBuckets are seconds; LLM and TTS calls routinely take several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("persona.turn.duration",
		metric.WithDescription("End-to-end latency of one conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("persona.llm.duration",
		metric.WithDescription("Latency of reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("persona.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("persona.turns",
		metric.WithDescription("Completed turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("persona.provider.errors",
		metric.WithDescription("Failed provider calls by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("persona.active_connections",
		metric.WithDescription("Open socket connections."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ObserveLLM records a reply-generation call.
func (m *Metrics) ObserveLLM(ctx context.Context, provider string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.LLMDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
	if err != nil {
		m.RecordProviderError(ctx, provider, "llm")
	}
}

// ObserveTTS records a synthesis call.
func (m *Metrics) ObserveTTS(ctx context.Context, provider string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.TTSDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
	if err != nil {
		m.RecordProviderError(ctx, provider, "tts")
	}
}

// ObserveTurn records a finished turn and its outcome.
func (m *Metrics) ObserveTurn(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.TurnDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.Turns.Add(ctx, 1, attrs)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// ConnectionOpened and ConnectionClosed move the active connection gauge.
func (m *Metrics) ConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) ConnectionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, -1)
}
