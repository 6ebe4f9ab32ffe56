package metrics

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestChannelObserver(role string) (*ChannelObserver, *Collector, *MemoryTracer, *bytes.Buffer) {
	collector := NewCollector(nil)
	tracer := NewMemoryTracer(0)
	var buf bytes.Buffer
	o := NewChannelObserver(ChannelObserverConfig{
		Collector: collector,
		Tracer:    tracer,
		Logger:    TestLogger(&buf),
		ChannelID: "ch-1",
		Role:      role,
		Algorithm: "ML-KEM-1024",
	})
	return o, collector, tracer, &buf
}

func TestChannelObserverLifecycle(t *testing.T) {
	o, collector, _, buf := newTestChannelObserver("Initiator")

	o.OnChannelStart()
	require.EqualValues(t, 1, collector.Snapshot().ChannelsActive)

	o.OnChannelFailed(errors.New("digest mismatch"))
	o.OnChannelEnd()

	snap := collector.Snapshot()
	require.EqualValues(t, 0, snap.ChannelsActive)
	require.EqualValues(t, 1, snap.ChannelsTotal)
	require.EqualValues(t, 1, snap.ChannelsFailed)
	require.Contains(t, buf.String(), "[channel]")
	require.Contains(t, buf.String(), "channel_id=ch-1")
	require.Contains(t, buf.String(), "channel faulted")
}

func TestChannelObserverHandshakeSpan(t *testing.T) {
	for _, tc := range []struct {
		role string
		span string
		kind SpanKind
	}{
		{"Initiator", SpanHandshakeInitiator, SpanKindClient},
		{"Responder", SpanHandshakeResponder, SpanKindServer},
	} {
		t.Run(tc.role, func(t *testing.T) {
			o, collector, tracer, _ := newTestChannelObserver(tc.role)

			_, done := o.OnHandshakeStart(context.Background())
			done(nil)

			spans := tracer.Spans()
			require.Len(t, spans, 1)
			require.Equal(t, tc.span, spans[0].Name)
			require.Equal(t, tc.kind, spans[0].Kind)
			require.Equal(t, "ch-1", spans[0].ChannelID)
			require.Equal(t, tc.role, spans[0].Role)
			require.Equal(t, "ML-KEM-1024", spans[0].Algorithm)
			require.NoError(t, spans[0].Err)
			require.EqualValues(t, 1, collector.Snapshot().HandshakeLatency.Count)
		})
	}
}

func TestChannelObserverHandshakeFailure(t *testing.T) {
	o, _, tracer, buf := newTestChannelObserver("Initiator")
	errTimeout := errors.New("handshake timeout")

	_, done := o.OnHandshakeStart(context.Background())
	done(errTimeout)

	require.ErrorIs(t, tracer.Spans()[0].Err, errTimeout)
	require.Contains(t, buf.String(), "handshake failed")
}

func TestChannelObserverFrames(t *testing.T) {
	o, collector, tracer, _ := newTestChannelObserver("Initiator")
	ctx := context.Background()

	_, sent := o.OnEncrypt(ctx, 1000)
	sent(nil)
	_, failedSend := o.OnEncrypt(ctx, 10)
	failedSend(errors.New("broken pipe"))

	_, recv := o.OnDecrypt(ctx)
	recv(1000, nil)
	_, failedRecv := o.OnDecrypt(ctx)
	failedRecv(0, errors.New("digest mismatch"))

	snap := collector.Snapshot()
	require.EqualValues(t, 1, snap.FramesSent)
	require.EqualValues(t, 1000, snap.BytesSent)
	require.EqualValues(t, 1, snap.EncryptErrors)
	require.EqualValues(t, 1, snap.FramesReceived)
	require.EqualValues(t, 1000, snap.BytesReceived)
	require.EqualValues(t, 1, snap.DecryptErrors)
	require.EqualValues(t, 2, snap.EncryptLatency.Count)
	require.EqualValues(t, 2, snap.DecryptLatency.Count)

	names := make([]string, 0, 4)
	for _, s := range tracer.Spans() {
		names = append(names, s.Name)
	}
	require.ElementsMatch(t, []string{SpanEncrypt, SpanEncrypt, SpanDecrypt, SpanDecrypt}, names)
	require.Equal(t, 1000, tracer.Spans()[0].Bytes)
}

func TestChannelObserverFrameSpansJoinHandshakeTrace(t *testing.T) {
	o, _, tracer, _ := newTestChannelObserver("Initiator")

	ctx, handshakeDone := o.OnHandshakeStart(context.Background())
	handshakeDone(nil)
	_, sent := o.OnEncrypt(ctx, 64)
	sent(nil)

	spans := tracer.Spans()
	require.Len(t, spans, 2)
	handshake, frame := spans[0], spans[1]
	require.Equal(t, SpanHandshakeInitiator, handshake.Name)
	require.Equal(t, handshake.TraceID, frame.TraceID)
	require.Equal(t, handshake.SpanID, frame.ParentID)
	require.Equal(t, "ch-1", frame.ChannelID)
}

func TestChannelObserverFailures(t *testing.T) {
	o, collector, _, buf := newTestChannelObserver("Responder")

	o.OnIntegrityFailure(errors.New("tag mismatch"))
	o.OnTransmissionError(errors.New("connection reset"))

	snap := collector.Snapshot()
	require.EqualValues(t, 1, snap.IntegrityFailures)
	require.EqualValues(t, 1, snap.TransmissionErrors)
	require.Contains(t, buf.String(), "integrity check failed")
	require.Contains(t, buf.String(), `error="connection reset"`)
}

func TestChannelObserverDefaultsToGlobals(t *testing.T) {
	original := Global()
	defer SetGlobal(original)

	c := NewCollector(nil)
	SetGlobal(c)

	o := NewChannelObserver(ChannelObserverConfig{ChannelID: "ch-2", Role: "Initiator"})
	o.OnChannelStart()

	require.EqualValues(t, 1, c.Snapshot().ChannelsTotal)
	require.NotNil(t, o.Logger())
}
