package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Span names for pqlink channel operations.
const (
	SpanHandshakeInitiator = "pqlink.handshake.initiator"
	SpanHandshakeResponder = "pqlink.handshake.responder"
	SpanEncrypt            = "pqlink.frame.encrypt"
	SpanDecrypt            = "pqlink.frame.decrypt"
)

// SpanKind tells a backend which side of the exchange a span covers.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

// Span describes a channel operation about to be traced.
type Span struct {
	Name      string
	Kind      SpanKind
	ChannelID string
	Role      string
	Algorithm string
	Bytes     int // plaintext length of an outgoing frame
}

// Tracer starts spans for channel operations. The returned context carries
// the span so that spans started from it become its children.
type Tracer interface {
	StartSpan(ctx context.Context, span Span) (context.Context, SpanEnder)
}

// SpanEnder completes a span. A non-nil error marks it failed.
type SpanEnder func(err error)

// NoOpTracer discards every span.
type NoOpTracer struct{}

func (NoOpTracer) StartSpan(ctx context.Context, _ Span) (context.Context, SpanEnder) {
	return ctx, func(error) {}
}

// FinishedSpan is a completed span with its identifiers and outcome.
type FinishedSpan struct {
	Span
	TraceID  string
	SpanID   string
	ParentID string
	Start    time.Time
	Duration time.Duration
	Err      error
}

type spanContextKey struct{}

// beginSpan assigns IDs to s, joining the trace of the span in ctx if any.
func beginSpan(ctx context.Context, s Span) (context.Context, *FinishedSpan) {
	fs := &FinishedSpan{
		Span:    s,
		TraceID: uuid.NewString(),
		SpanID:  uuid.NewString(),
		Start:   time.Now(),
	}
	if parent, ok := ctx.Value(spanContextKey{}).(*FinishedSpan); ok {
		fs.TraceID = parent.TraceID
		fs.ParentID = parent.SpanID
	}
	return context.WithValue(ctx, spanContextKey{}, fs), fs
}

func (fs *FinishedSpan) fields() Fields {
	f := Fields{
		"trace_id": fs.TraceID,
		"span_id":  fs.SpanID,
		"duration": fs.Duration.String(),
	}
	if fs.ParentID != "" {
		f["parent_id"] = fs.ParentID
	}
	if fs.ChannelID != "" {
		f["channel_id"] = fs.ChannelID
	}
	if fs.Role != "" {
		f["role"] = fs.Role
	}
	if fs.Algorithm != "" {
		f["algorithm"] = fs.Algorithm
	}
	if fs.Bytes > 0 {
		f["bytes"] = fs.Bytes
	}
	if fs.Err != nil {
		f["error"] = fs.Err.Error()
	}
	return f
}

// MemoryTracer keeps finished spans in memory, dropping the oldest once it
// holds limit of them. A limit of zero keeps everything.
type MemoryTracer struct {
	mu    sync.Mutex
	limit int
	spans []FinishedSpan
}

// NewMemoryTracer creates a MemoryTracer holding at most limit spans.
func NewMemoryTracer(limit int) *MemoryTracer {
	return &MemoryTracer{limit: limit}
}

func (t *MemoryTracer) StartSpan(ctx context.Context, s Span) (context.Context, SpanEnder) {
	ctx, fs := beginSpan(ctx, s)
	return ctx, func(err error) {
		done := *fs
		done.Duration = time.Since(done.Start)
		done.Err = err

		t.mu.Lock()
		defer t.mu.Unlock()
		if t.limit > 0 && len(t.spans) == t.limit {
			copy(t.spans, t.spans[1:])
			t.spans = t.spans[:len(t.spans)-1]
		}
		t.spans = append(t.spans, done)
	}
}

// Spans returns the finished spans, oldest first.
func (t *MemoryTracer) Spans() []FinishedSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FinishedSpan, len(t.spans))
	copy(out, t.spans)
	return out
}

// LogTracer writes each finished span to a logger at debug level.
type LogTracer struct {
	logger *Logger
}

// NewLogTracer creates a LogTracer. A nil logger uses the global one.
func NewLogTracer(logger *Logger) *LogTracer {
	if logger == nil {
		logger = GetLogger()
	}
	return &LogTracer{logger: logger.Named("trace")}
}

func (t *LogTracer) StartSpan(ctx context.Context, s Span) (context.Context, SpanEnder) {
	ctx, fs := beginSpan(ctx, s)
	return ctx, func(err error) {
		done := *fs
		done.Duration = time.Since(done.Start)
		done.Err = err
		t.logger.Debug(done.Name, done.fields())
	}
}

var (
	globalTracer   Tracer = NoOpTracer{}
	globalTracerMu sync.RWMutex
)

// SetTracer sets the tracer used by observers created without one.
func SetTracer(t Tracer) {
	globalTracerMu.Lock()
	defer globalTracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer.
func GetTracer() Tracer {
	globalTracerMu.RLock()
	defer globalTracerMu.RUnlock()
	return globalTracer
}
