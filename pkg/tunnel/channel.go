// channel.go implements the secure channel state machine.
//
// State transitions:
//
//	Unconnected --Handshake--> Handshaking --ok--> Ready
//	                                 |               |
//	                               error     integrity, transport
//	                                 |         or cipher failure
//	                                 v               v
//	                              Faulted <----------+
//
//	any state --Close--> Closed
//
// Faulted and Closed are terminal. A Faulted channel returns its original
// failure from every Read and Write without touching the transport and
// must be closed by the caller.
package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sara-star-quant/pqlink/internal/constants"
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
	"github.com/sara-star-quant/pqlink/pkg/crypto"
	"github.com/sara-star-quant/pqlink/pkg/kem"
	"github.com/sara-star-quant/pqlink/pkg/protocol"
)

// State is the lifecycle state of a Channel.
type State int

const (
	StateUnconnected State = iota
	StateHandshaking
	StateReady
	StateFaulted
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "Unconnected"
	case StateHandshaking:
		return "Handshaking"
	case StateReady:
		return "Ready"
	case StateFaulted:
		return "Faulted"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Conn is the byte stream a Channel runs over. Transports that also
// implement SetReadDeadline and SetWriteDeadline get per-operation timeouts.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Channel is one end of an encrypted, integrity-checked channel. Reads and
// Writes may be issued from different goroutines; concurrent Writes are
// serialised so frames never interleave.
type Channel struct {
	conn     Conn
	role     Role
	config   Config
	id       uuid.UUID
	observer Observer

	// Trace parent for per-frame spans, set once the handshake starts.
	traceCtx context.Context

	readMu  sync.Mutex
	writeMu sync.Mutex

	mu      sync.Mutex
	state   State
	cause   *qerrors.ChannelError
	codec   *protocol.Codec
	busy    int // frame operations holding codec
	started bool
}

// Client creates the Initiator end of a channel over conn.
func Client(conn Conn, config Config) (*Channel, error) {
	return NewChannel(conn, RoleInitiator, config)
}

// Server creates the Responder end of a channel over conn.
func Server(conn Conn, config Config) (*Channel, error) {
	return NewChannel(conn, RoleResponder, config)
}

// NewChannel creates an Unconnected channel over conn. It runs the
// cryptographic self-tests on first use; a self-test failure, an invalid
// configuration or an unknown algorithm is reported as ErrKeyGeneration.
func NewChannel(conn Conn, role Role, config Config) (*Channel, error) {
	if err := crypto.Init(); err != nil {
		return nil, qerrors.NewChannelError(qerrors.ErrKeyGeneration, "init", err)
	}
	if !role.IsValid() {
		return nil, qerrors.NewChannelError(qerrors.ErrKeyGeneration, "init",
			fmt.Errorf("%w: role %d", qerrors.ErrInvalidState, role))
	}
	if err := config.Validate(); err != nil {
		return nil, qerrors.NewChannelError(qerrors.ErrKeyGeneration, "init", err)
	}

	ch := &Channel{
		conn:     conn,
		role:     role,
		config:   config,
		id:       uuid.New(),
		traceCtx: context.Background(),
		state:    StateUnconnected,
	}
	ch.observer = ch.config.observerFor(ch)
	return ch, nil
}

// Handshake runs the key agreement. It may be called once, from the
// Unconnected state. On failure the channel is Faulted and the returned
// error matches ErrHandshake, or ErrKeyGeneration if the local key pair
// could not be generated.
func (c *Channel) Handshake(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUnconnected {
		err := c.stateErrorLocked("handshake")
		c.mu.Unlock()
		return err
	}
	c.state = StateHandshaking
	c.started = true
	c.mu.Unlock()

	c.observer.OnChannelStart()
	ctx, done := c.observer.OnHandshakeStart(ctx)
	c.traceCtx = context.WithoutCancel(ctx)

	ctx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	codec, err := c.runHandshake(ctx)
	if err != nil {
		cerr := qerrors.NewChannelError(classifyHandshakeError(err), "handshake", err)
		c.fault(cerr)
		done(cerr)
		return cerr
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		codec.Zeroize()
		err := qerrors.NewChannelError(qerrors.ErrTransmission, "handshake", qerrors.ErrChannelClosed)
		done(err)
		return err
	}
	c.state = StateReady
	c.codec = codec
	c.mu.Unlock()

	done(nil)
	return nil
}

func (c *Channel) runHandshake(ctx context.Context) (*protocol.Codec, error) {
	h, err := NewHandshake(c.role, c.config.Algorithm)
	if err != nil {
		return nil, err
	}
	defer h.Zeroize()

	if err := Run(ctx, h, c.conn); err != nil {
		return nil, err
	}

	key, err := h.SessionKey()
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(key)

	opts := []protocol.CodecOption{protocol.WithMaxFrameSize(c.config.MaxFrameSize)}
	if c.config.Authenticate {
		tagger, err := crypto.NewTagger(key)
		if err != nil {
			return nil, err
		}
		opts = append(opts, protocol.WithTagger(tagger))
	}
	return protocol.NewCodec(key, opts...)
}

// Write encrypts p and sends it as one Stream frame.
func (c *Channel) Write(p []byte) error {
	return c.send("write", &protocol.Message{Type: constants.FrameTypeStream, Payload: p})
}

// WriteFile encrypts data and sends it as one FileStream frame carrying
// name. name must be 1 to 256 bytes with no NUL.
func (c *Channel) WriteFile(name string, data []byte) error {
	return c.send("write", &protocol.Message{Type: constants.FrameTypeFileStream, Filename: name, Payload: data})
}

// Read receives the next frame and returns its payload, whatever its type.
func (c *Channel) Read() ([]byte, error) {
	msg, err := c.ReadMessage()
	if err != nil {
		return nil, err
	}
	return msg.Payload, nil
}

// ReadMessage receives and decrypts the next frame. A frame whose digest
// does not match, or that cannot be parsed, fails with ErrIntegrity; a
// transport failure, including the peer closing, fails with
// ErrTransmission. Either leaves the channel Faulted.
func (c *Channel) ReadMessage() (*protocol.Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	codec, err := c.acquire("read")
	if err != nil {
		return nil, err
	}
	defer c.release()

	if d, ok := c.conn.(interface{ SetReadDeadline(time.Time) error }); ok && c.config.ReadTimeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}

	_, done := c.observer.OnDecrypt(c.traceCtx)
	msg, err := codec.ReadFrame(c.conn)
	if err != nil {
		cerr := c.frameFailure("read", err)
		done(0, cerr)
		return nil, cerr
	}
	done(len(msg.Payload), nil)
	return msg, nil
}

// send encodes and writes one frame. Invalid arguments are rejected
// without faulting the channel.
func (c *Channel) send(op string, m *protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	codec, err := c.acquire(op)
	if err != nil {
		return err
	}
	defer c.release()

	_, done := c.observer.OnEncrypt(c.traceCtx, len(m.Payload))

	frame, err := codec.Encode(m)
	if err != nil {
		var cerr *qerrors.ChannelError
		if isInvalidArgument(err) {
			cerr = qerrors.NewChannelError(qerrors.ErrTransmission, op, err)
		} else {
			cerr = c.frameFailure(op, err)
		}
		done(cerr)
		return cerr
	}

	if d, ok := c.conn.(interface{ SetWriteDeadline(time.Time) error }); ok && c.config.WriteTimeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}

	if _, err := c.conn.Write(frame); err != nil {
		cerr := c.frameFailure(op, err)
		done(cerr)
		return cerr
	}
	done(nil)
	return nil
}

// frameFailure classifies a Read or Write failure, reports it and faults
// the channel.
func (c *Channel) frameFailure(op string, err error) *qerrors.ChannelError {
	class := classifyFrameError(err)
	cerr := qerrors.NewChannelError(class, op, err)

	if class == qerrors.ErrIntegrity {
		c.observer.OnIntegrityFailure(cerr)
	} else {
		c.observer.OnTransmissionError(cerr)
	}
	c.fault(cerr)
	return cerr
}

// fault moves the channel to Faulted and erases the session key. A Closed
// channel stays Closed.
func (c *Channel) fault(cerr *qerrors.ChannelError) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateFaulted {
		c.mu.Unlock()
		return
	}
	c.state = StateFaulted
	c.cause = cerr
	c.eraseKeyLocked()
	c.mu.Unlock()

	c.observer.OnChannelFailed(cerr)
}

// acquire returns the codec if the channel is Ready and keeps the session
// key alive until the matching release.
func (c *Channel) acquire(op string) (*protocol.Codec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil, c.stateErrorLocked(op)
	}
	c.busy++
	return c.codec, nil
}

func (c *Channel) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy--
	c.eraseKeyLocked()
}

// eraseKeyLocked zeroizes the session key once the channel has left Ready
// and no Read or Write is still using it. c.mu must be held.
func (c *Channel) eraseKeyLocked() {
	if c.state == StateReady || c.busy > 0 || c.codec == nil {
		return
	}
	c.codec.Zeroize()
	c.codec = nil
}

// stateErrorLocked returns the error for op in a state that does not allow
// it. c.mu must be held.
func (c *Channel) stateErrorLocked(op string) error {
	switch c.state {
	case StateFaulted:
		return qerrors.NewChannelError(c.cause.Class, op, fmt.Errorf("%w: %w", qerrors.ErrChannelFaulted, c.cause.Err))
	case StateClosed:
		return qerrors.NewChannelError(qerrors.ErrTransmission, op, qerrors.ErrChannelClosed)
	default:
		return qerrors.NewChannelError(qerrors.ErrHandshake, op, fmt.Errorf("%w: channel is %s", qerrors.ErrInvalidState, c.state))
	}
}

// Close closes the transport and erases the session key. A Read or Write
// in progress on another goroutine fails with ErrTransmission and the key
// is erased when it returns. The peer's next Read or Write fails with
// ErrTransmission. Close is idempotent and safe from any goroutine.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.eraseKeyLocked()
	started := c.started
	c.mu.Unlock()

	err := c.conn.Close()
	if started {
		c.observer.OnChannelEnd()
	}
	if err != nil {
		return qerrors.NewChannelError(qerrors.ErrTransmission, "close", err)
	}
	return nil
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the failure that faulted the channel, or nil.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cause == nil {
		return nil
	}
	return c.cause
}

// ID returns the channel's unique identifier, used in logs and traces.
func (c *Channel) ID() uuid.UUID {
	return c.id
}

// Role returns the local handshake role.
func (c *Channel) Role() Role {
	return c.role
}

// Algorithm returns the KEM used for the handshake.
func (c *Channel) Algorithm() kem.ID {
	return c.config.Algorithm
}

// Authenticated reports whether frames carry a keyed tag.
func (c *Channel) Authenticated() bool {
	return c.config.Authenticate
}

// LocalAddr returns the local network address, if the transport has one.
func (c *Channel) LocalAddr() net.Addr {
	if a, ok := c.conn.(interface{ LocalAddr() net.Addr }); ok {
		return a.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the remote network address, if the transport has one.
func (c *Channel) RemoteAddr() net.Addr {
	if a, ok := c.conn.(interface{ RemoteAddr() net.Addr }); ok {
		return a.RemoteAddr()
	}
	return nil
}

// isInvalidArgument reports whether an encode failure was caused by the
// caller's message rather than the channel.
func isInvalidArgument(err error) bool {
	return qerrors.Is(err, qerrors.ErrFilenameTooLong) ||
		qerrors.Is(err, qerrors.ErrInvalidMessage) ||
		qerrors.Is(err, qerrors.ErrMessageTooLarge)
}
