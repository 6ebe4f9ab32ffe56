package tunnel

import "context"

// Observer provides hooks for channel lifecycle, metrics, and tracing.
// Implementations should be lightweight; callbacks run on the Read and Write
// paths.
type Observer interface {
	OnChannelStart()
	OnChannelEnd()
	OnChannelFailed(err error)
	OnHandshakeStart(ctx context.Context) (context.Context, func(error))
	OnEncrypt(ctx context.Context, plaintextLen int) (context.Context, func(error))
	OnDecrypt(ctx context.Context) (context.Context, func(payloadLen int, err error))
	OnIntegrityFailure(err error)
	OnTransmissionError(err error)
}

// ObserverFactory builds a per-channel observer. It runs before the
// handshake, so the channel's ID, Role and Algorithm are already set.
type ObserverFactory func(ch *Channel) Observer

// nopObserver is used when a caller explicitly wants no observability.
type nopObserver struct{}

// NopObserver returns an Observer that ignores every event.
func NopObserver() Observer { return nopObserver{} }

func (nopObserver) OnChannelStart()           {}
func (nopObserver) OnChannelEnd()             {}
func (nopObserver) OnChannelFailed(err error) {}
func (nopObserver) OnHandshakeStart(ctx context.Context) (context.Context, func(error)) {
	return ctx, func(error) {}
}
func (nopObserver) OnEncrypt(ctx context.Context, _ int) (context.Context, func(error)) {
	return ctx, func(error) {}
}
func (nopObserver) OnDecrypt(ctx context.Context) (context.Context, func(int, error)) {
	return ctx, func(int, error) {}
}
func (nopObserver) OnIntegrityFailure(err error)  {}
func (nopObserver) OnTransmissionError(err error) {}

// RateLimitObserver receives notifications when a Listener turns a peer
// away before the handshake.
type RateLimitObserver interface {
	OnConnectionRateLimit(remoteIP string)
	OnHandshakeRateLimit(remoteIP string)
}
