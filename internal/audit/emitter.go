package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

const redactedValue = "[REDACTED]"

// Emitter is the audit emitter interface.
type Emitter interface {
	// Emit records an audit event. It never returns an error; failures
	// are logged and dropped.
	Emit(ctx context.Context, event *Event)

	// EmitAuthentication records an authentication event.
	EmitAuthentication(ctx context.Context, action Action, outcome Outcome, subject *Subject)

	// EmitAuthorization records an authorization decision.
	EmitAuthorization(ctx context.Context, outcome Outcome, subject *Subject, resource *Resource)

	// EmitRateLimit records a rate-limit rejection.
	EmitRateLimit(ctx context.Context, subject *Subject, severity Severity, details map[string]interface{})

	// EmitDataAccess records a sensitive-field access.
	EmitDataAccess(ctx context.Context, subject *Subject, resource *Resource, masked bool)

	// Close closes the emitter.
	Close() error
}

// emitter implements the Emitter interface.
type emitter struct {
	config  *config.AuditConfig
	writer  io.Writer
	mu      sync.Mutex
	logger  observability.Logger
	metrics *Metrics
	closer  io.Closer
}

// Metrics contains audit metrics.
type Metrics struct {
	eventsTotal *prometheus.CounterVec
}

// NewMetrics creates new audit metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new audit metrics registered with
// the provided registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "avauth"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of audit events",
			},
			[]string{"type", "action", "outcome"},
		),
	}

	m.eventsTotal = observability.RegisterOrReuse(registerer, m.eventsTotal)

	return m
}

// RecordEvent records an audit event metric.
func (m *Metrics) RecordEvent(eventType EventType, action Action, outcome Outcome) {
	if m.eventsTotal == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(eventType), string(action), string(outcome)).Inc()
}

// EmitterOption is a functional option for the emitter.
type EmitterOption func(*emitter)

// WithEmitterLogger sets the observability logger.
func WithEmitterLogger(l observability.Logger) EmitterOption {
	return func(e *emitter) {
		e.logger = l
	}
}

// WithEmitterMetrics sets the metrics.
func WithEmitterMetrics(metrics *Metrics) EmitterOption {
	return func(e *emitter) {
		e.metrics = metrics
	}
}

// WithEmitterWriter sets the writer.
func WithEmitterWriter(writer io.Writer) EmitterOption {
	return func(e *emitter) {
		e.writer = writer
	}
}

// NewEmitter creates a new audit emitter writing JSON lines to the
// configured output.
func NewEmitter(cfg *config.AuditConfig, opts ...EmitterOption) (Emitter, error) {
	if cfg == nil {
		defaults := config.DefaultConfig().Audit
		cfg = &defaults
	}

	e := &emitter{
		config: cfg,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		e.metrics = NewMetrics("avauth")
	}

	if e.writer == nil {
		writer, closer, err := createWriter(cfg.GetEffectiveOutput())
		if err != nil {
			return nil, err
		}
		e.writer = writer
		e.closer = closer
	}

	return e, nil
}

// createWriter creates the output writer based on configuration.
func createWriter(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		//nolint:gosec // G304: path from config is trusted
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		return file, file, nil
	}
}

// Emit records an audit event.
func (e *emitter) Emit(ctx context.Context, event *Event) {
	if !e.config.Enabled || event == nil {
		return
	}

	if event.TraceID == "" {
		event.TraceID = extractTraceID(ctx)
	}
	if event.SpanID == "" {
		event.SpanID = extractSpanID(ctx)
	}

	e.redactMetadata(event)
	e.metrics.RecordEvent(event.Type, event.Action, event.Outcome)
	e.writeEvent(event)
}

// redactMetadata redacts sensitive metadata fields.
func (e *emitter) redactMetadata(event *Event) {
	if len(e.config.RedactFields) == 0 || event.Metadata == nil {
		return
	}
	for key := range event.Metadata {
		if e.shouldRedact(key) {
			event.Metadata[key] = redactedValue
		}
	}
}

// shouldRedact checks if a field should be redacted.
func (e *emitter) shouldRedact(field string) bool {
	lowerField := strings.ToLower(field)
	for _, redactField := range e.config.RedactFields {
		if strings.Contains(lowerField, strings.ToLower(redactField)) {
			return true
		}
	}
	return false
}

// writeEvent writes the event as a JSON line.
func (e *emitter) writeEvent(event *Event) {
	output, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("failed to marshal audit event", observability.Error(err))
		return
	}
	output = append(output, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.writer.Write(output); err != nil {
		e.logger.Error("failed to write audit event", observability.Error(err))
	}
}

// EmitAuthentication records an authentication event.
func (e *emitter) EmitAuthentication(
	ctx context.Context,
	action Action,
	outcome Outcome,
	subject *Subject,
) {
	e.Emit(ctx, AuthenticationEvent(action, outcome, subject))
}

// EmitAuthorization records an authorization decision.
func (e *emitter) EmitAuthorization(
	ctx context.Context,
	outcome Outcome,
	subject *Subject,
	resource *Resource,
) {
	e.Emit(ctx, AuthorizationEvent(outcome, subject, resource))
}

// EmitRateLimit records a rate-limit rejection.
func (e *emitter) EmitRateLimit(
	ctx context.Context,
	subject *Subject,
	severity Severity,
	details map[string]interface{},
) {
	e.Emit(ctx, RateLimitEvent(subject, severity, details))
}

// EmitDataAccess records a sensitive-field access.
func (e *emitter) EmitDataAccess(
	ctx context.Context,
	subject *Subject,
	resource *Resource,
	masked bool,
) {
	e.Emit(ctx, DataAccessEvent(subject, resource, masked))
}

// Close closes the emitter.
func (e *emitter) Close() error {
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}

// extractTraceID extracts the trace ID from the OpenTelemetry span
// context. Returns an empty string when no valid trace context is
// present.
func extractTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// extractSpanID extracts the span ID from the OpenTelemetry span
// context.
func extractSpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}

// noopEmitter is a no-op audit emitter.
type noopEmitter struct{}

// NewNoopEmitter creates a new no-op audit emitter.
func NewNoopEmitter() Emitter {
	return &noopEmitter{}
}

func (e *noopEmitter) Emit(_ context.Context, _ *Event) {}

func (e *noopEmitter) EmitAuthentication(_ context.Context, _ Action, _ Outcome, _ *Subject) {}

func (e *noopEmitter) EmitAuthorization(_ context.Context, _ Outcome, _ *Subject, _ *Resource) {}

func (e *noopEmitter) EmitRateLimit(_ context.Context, _ *Subject, _ Severity, _ map[string]interface{}) {
}

func (e *noopEmitter) EmitDataAccess(_ context.Context, _ *Subject, _ *Resource, _ bool) {}

func (e *noopEmitter) Close() error { return nil }

// Ensure implementations satisfy the interface.
var (
	_ Emitter = (*emitter)(nil)
	_ Emitter = (*noopEmitter)(nil)
)
