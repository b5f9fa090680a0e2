// Package observability provides job-lifecycle tracing and Prometheus
// metrics for band (SPEC_FULL.md §4.8): a lightweight in-process span
// tracker (no external OTel SDK dependency, matching the teacher's
// posture of keeping tracing dependency-free) plus counters/histograms/
// gauges describing scheduling and execution.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Job lifecycle spans ────────────────────────────────────────────────────

// SpanKind classifies a span.
type SpanKind int

const (
	SpanInternal SpanKind = iota
	SpanServer
	SpanClient
)

// Span represents one traced operation. The engine records one span per
// job, named "job", from RequestAsync to the job's terminal status in
// EnqueueFinishedJob; the individual stages are not traced separately.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	Kind      SpanKind          `json:"kind"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// Tracer records spans for job-lifecycle stages in a fixed-size ring
// buffer, inspectable for debugging without standing up a collector.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 10_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 10_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a new span named operation (the engine uses "job").
// Returns the span (caller must call EndSpan when done).
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) *Span {
	if !t.enabled {
		return &Span{Operation: operation}
	}

	span := &Span{
		TraceID:   traceIDFromContext(ctx),
		SpanID:    generateID(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		Kind:      SpanInternal,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}

	return span
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	TracesRecorded.Inc()
	if span.Status == SpanError {
		TraceErrors.Inc()
	}

	// Ring buffer: overwrite oldest if at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the recent spans.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}

	// Return most recent spans
	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// ─── Context helpers ────────────────────────────────────────────────────────

type contextKey string

const (
	traceIDKey contextKey = "band-trace-id"
	spanIDKey  contextKey = "band-span-id"
)

// WithTraceID returns a context with the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithSpanID returns a context with the given span ID.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

func traceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return generateID()
}

func spanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

// generateID creates a unique trace/span identifier.
func generateID() string {
	return uuid.New().String()
}

// ─── Prometheus metrics ──────────────────────────────────────────────────────

// JobsEnqueued counts jobs submitted via RequestAsync/RequestSync, by model.
var JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "band",
	Subsystem: "jobs",
	Name:      "enqueued_total",
	Help:      "Total jobs enqueued, by model id.",
}, []string{"model_id"})

// JobsFinished counts jobs reaching a terminal status, by model, worker,
// and status (spec.md §3 JobStatus).
var JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "band",
	Subsystem: "jobs",
	Name:      "finished_total",
	Help:      "Total jobs reaching a terminal status, by model id, worker id, and status.",
}, []string{"model_id", "worker_id", "status"})

// JobsSLOViolated counts jobs that missed their deadline.
var JobsSLOViolated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "band",
	Subsystem: "jobs",
	Name:      "slo_violated_total",
	Help:      "Total jobs that missed their SLO deadline, by model id.",
}, []string{"model_id"})

// SubgraphLatency observes ExecuteSubgraph wall time per SubgraphKey,
// mirroring the estimator's own moving-average bookkeeping.
var SubgraphLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "band",
	Subsystem: "subgraph",
	Name:      "latency_us",
	Help:      "Observed subgraph execution latency in microseconds.",
	Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 10000, 25000, 50000, 100000},
}, []string{"subgraph_key"})

// WorkerQueueDepth mirrors domain.WorkerWaitingTime: the current queue
// drain time per worker, in microseconds.
var WorkerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "band",
	Subsystem: "worker",
	Name:      "queue_waiting_us",
	Help:      "Current queue drain time for a worker, in microseconds.",
}, []string{"worker_id"})

// TracesRecorded tracks total spans recorded.
var TracesRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "band",
	Subsystem: "traces",
	Name:      "spans_recorded_total",
	Help:      "Total trace spans recorded.",
})

// TraceErrors tracks error spans.
var TraceErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "band",
	Subsystem: "traces",
	Name:      "error_spans_total",
	Help:      "Total trace spans with error status.",
})
