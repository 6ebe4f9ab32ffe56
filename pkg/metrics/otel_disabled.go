//go:build !otel

package metrics

import "context"

// OTelTracer discards spans in builds without the otel tag.
type OTelTracer struct{}

// NewOTelTracer returns a tracer that discards spans. Build with -tags otel
// for the OpenTelemetry bridge.
func NewOTelTracer(string) *OTelTracer {
	return &OTelTracer{}
}

func (*OTelTracer) StartSpan(ctx context.Context, _ Span) (context.Context, SpanEnder) {
	return ctx, func(error) {}
}

// OTelEnabled reports whether OpenTelemetry support is built in.
func OTelEnabled() bool {
	return false
}
