package metrics

import (
	"context"
	"time"
)

// ChannelObserver records metrics, traces and logs for one secure channel.
// It satisfies the tunnel package's Observer interface.
type ChannelObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
	span      Span // channel identity copied into every span
}

// ChannelObserverConfig configures a channel observer. Nil fields fall back
// to the package globals.
type ChannelObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
	ChannelID string
	Role      string // "Initiator" or "Responder"
	Algorithm string
}

// NewChannelObserver creates a new channel observer.
func NewChannelObserver(cfg ChannelObserverConfig) *ChannelObserver {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}

	return &ChannelObserver{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger: cfg.Logger.Named("channel").With(Fields{
			"channel_id": cfg.ChannelID,
			"role":       cfg.Role,
		}),
		span: Span{
			ChannelID: cfg.ChannelID,
			Role:      cfg.Role,
			Algorithm: cfg.Algorithm,
		},
	}
}

// OnChannelStart is called when the channel begins its handshake.
func (o *ChannelObserver) OnChannelStart() {
	o.collector.ChannelStarted()
	o.logger.Debug("channel started", Fields{"algorithm": o.span.Algorithm})
}

// OnChannelEnd is called when a started channel is closed.
func (o *ChannelObserver) OnChannelEnd() {
	o.collector.ChannelEnded()
	o.logger.Info("channel closed")
}

// OnChannelFailed is called once when the channel becomes Faulted.
func (o *ChannelObserver) OnChannelFailed(err error) {
	o.collector.ChannelFailed()
	o.logger.Error("channel faulted", Fields{"error": err.Error()})
}

// OnHandshakeStart returns a context carrying the handshake span and a
// function that completes it.
func (o *ChannelObserver) OnHandshakeStart(ctx context.Context) (context.Context, func(error)) {
	span := o.span
	span.Name, span.Kind = SpanHandshakeInitiator, SpanKindClient
	if span.Role == "Responder" {
		span.Name, span.Kind = SpanHandshakeResponder, SpanKindServer
	}

	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, span)

	o.logger.Debug("handshake started")

	return ctx, func(err error) {
		duration := time.Since(start)
		o.collector.RecordHandshakeLatency(duration)

		if err != nil {
			o.logger.Error("handshake failed", Fields{
				"error":    err.Error(),
				"duration": duration.String(),
			})
		} else {
			o.logger.Info("handshake completed", Fields{
				"algorithm": o.span.Algorithm,
				"duration":  duration.String(),
			})
		}

		endSpan(err)
	}
}

// OnEncrypt traces one frame write of plaintextLen bytes.
func (o *ChannelObserver) OnEncrypt(ctx context.Context, plaintextLen int) (context.Context, func(error)) {
	span := o.span
	span.Name, span.Bytes = SpanEncrypt, plaintextLen

	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, span)

	return ctx, func(err error) {
		o.collector.RecordEncryptLatency(time.Since(start))

		if err != nil {
			o.collector.RecordEncryptError()
			o.logger.Debug("write failed", Fields{"error": err.Error()})
		} else {
			o.collector.RecordFrameSent(plaintextLen)
		}

		endSpan(err)
	}
}

// OnDecrypt traces one frame read.
func (o *ChannelObserver) OnDecrypt(ctx context.Context) (context.Context, func(int, error)) {
	span := o.span
	span.Name = SpanDecrypt

	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, span)

	return ctx, func(payloadLen int, err error) {
		o.collector.RecordDecryptLatency(time.Since(start))

		if err != nil {
			o.collector.RecordDecryptError()
			o.logger.Debug("read failed", Fields{"error": err.Error()})
		} else {
			o.collector.RecordFrameReceived(payloadLen)
		}

		endSpan(err)
	}
}

// OnIntegrityFailure records a frame rejected by its digest or tag.
func (o *ChannelObserver) OnIntegrityFailure(err error) {
	o.collector.RecordIntegrityFailure()
	o.logger.Warn("integrity check failed", Fields{"error": err.Error()})
}

// OnTransmissionError records a transport failure.
func (o *ChannelObserver) OnTransmissionError(err error) {
	o.collector.RecordTransmissionError()
	o.logger.Warn("transmission failed", Fields{"error": err.Error()})
}

// Logger returns the observer's logger for custom logging.
func (o *ChannelObserver) Logger() *Logger {
	return o.logger
}
