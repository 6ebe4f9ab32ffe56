//go:build otel

package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelTracer bridges channel spans to the global OpenTelemetry provider.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer creates a tracer named after serviceName, "pqlink" when empty.
func NewOTelTracer(serviceName string) *OTelTracer {
	if serviceName == "" {
		serviceName = "pqlink"
	}
	return &OTelTracer{tracer: otel.Tracer(serviceName)}
}

func (t *OTelTracer) StartSpan(ctx context.Context, s Span) (context.Context, SpanEnder) {
	ctx, span := t.tracer.Start(ctx, s.Name,
		trace.WithSpanKind(otelSpanKind(s.Kind)),
		trace.WithAttributes(otelAttributes(s)...),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// OTelEnabled reports whether OpenTelemetry support is built in.
func OTelEnabled() bool {
	return true
}

func otelSpanKind(kind SpanKind) trace.SpanKind {
	switch kind {
	case SpanKindServer:
		return trace.SpanKindServer
	case SpanKindClient:
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}

func otelAttributes(s Span) []attribute.KeyValue {
	var kv []attribute.KeyValue
	if s.ChannelID != "" {
		kv = append(kv, attribute.String("pqlink.channel.id", s.ChannelID))
	}
	if s.Role != "" {
		kv = append(kv, attribute.String("pqlink.channel.role", s.Role))
	}
	if s.Algorithm != "" {
		kv = append(kv, attribute.String("pqlink.kem", s.Algorithm))
	}
	if s.Bytes > 0 {
		kv = append(kv, attribute.Int("pqlink.frame.bytes", s.Bytes))
	}
	return kv
}
