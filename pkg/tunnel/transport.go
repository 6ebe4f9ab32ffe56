// Package tunnel implements the pqlink secure channel.
//
// This file (transport.go) provides:
//   - Dial for establishing a channel as Initiator over TCP or any net.Conn
//   - Listen and Listener.Accept for Responders, with per-IP and global
//     handshake rate limits
package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
)

// Dial connects to address and completes the handshake as Initiator.
func Dial(ctx context.Context, network, address string, config Config) (*Channel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, qerrors.NewChannelError(qerrors.ErrTransmission, "dial", err)
	}
	return establish(ctx, conn, RoleInitiator, config)
}

// establish wraps conn in a channel and runs the handshake. conn is closed
// on failure.
func establish(ctx context.Context, conn Conn, role Role, config Config) (*Channel, error) {
	ch, err := NewChannel(conn, role, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Handshake(ctx); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

// Listener accepts incoming channels as Responder.
type Listener struct {
	listener net.Listener
	config   Config

	ipLimiter        *IPRateLimiter
	handshakeLimiter *HandshakeLimiter
}

// Listen announces on the local network address.
func Listen(network, address string, config Config) (*Listener, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return NewListener(ln, config), nil
}

// NewListener accepts channels from an existing net.Listener. config must
// already be valid.
func NewListener(ln net.Listener, config Config) *Listener {
	return &Listener{
		listener:         ln,
		config:           config,
		ipLimiter:        NewIPRateLimiter(config.RateLimit.MaxConnectionsPerIP),
		handshakeLimiter: NewHandshakeLimiter(config.RateLimit.HandshakeRateLimit, config.RateLimit.HandshakeBurst),
	}
}

// Accept waits for the next connection and completes the handshake as
// Responder. A peer refused by a rate limit or failing the handshake is
// disconnected and reported as an error; the listener stays usable.
func (l *Listener) Accept(ctx context.Context) (*Channel, error) {
	conn, err := l.accept(ctx)
	if err != nil {
		return nil, err
	}
	remoteIP := extractRemoteIP(conn.RemoteAddr())

	conn, err = l.checkIPRateLimit(conn, remoteIP)
	if err != nil {
		return nil, err
	}

	if !l.handshakeLimiter.Allow() {
		if l.config.RateLimitObserver != nil {
			l.config.RateLimitObserver.OnHandshakeRateLimit(remoteIP)
		}
		_ = conn.Close()
		return nil, qerrors.NewChannelError(qerrors.ErrHandshake, "accept",
			fmt.Errorf("%w: handshake rate exceeded", qerrors.ErrRateLimited))
	}

	return establish(ctx, conn, RoleResponder, l.config)
}

// accept is net.Listener.Accept bounded by ctx, for listeners that support
// deadlines.
func (l *Listener) accept(ctx context.Context) (net.Conn, error) {
	if d, ok := l.listener.(interface{ SetDeadline(time.Time) error }); ok {
		if deadline, ok := ctx.Deadline(); ok {
			_ = d.SetDeadline(deadline)
		}
		stop := context.AfterFunc(ctx, func() {
			_ = d.SetDeadline(time.Unix(1, 0))
		})
		defer func() {
			stop()
			_ = d.SetDeadline(time.Time{})
		}()
	}

	conn, err := l.listener.Accept()
	if err != nil {
		ctxErr := ctx.Err()
		if deadline, ok := ctx.Deadline(); ok && ctxErr == nil && !time.Now().Before(deadline) {
			ctxErr = context.DeadlineExceeded
		}
		if ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, qerrors.NewChannelError(qerrors.ErrTransmission, "accept", err)
	}
	return conn, nil
}

// extractRemoteIP extracts the IP address from a remote address.
func extractRemoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err == nil {
		return host
	}
	return addr.String()
}

// checkIPRateLimit takes a per-IP slot for conn and wraps it so the slot is
// returned on close.
func (l *Listener) checkIPRateLimit(conn net.Conn, remoteIP string) (net.Conn, error) {
	if l.config.RateLimit.MaxConnectionsPerIP <= 0 {
		return conn, nil
	}

	if !l.ipLimiter.Acquire(remoteIP) {
		if l.config.RateLimitObserver != nil {
			l.config.RateLimitObserver.OnConnectionRateLimit(remoteIP)
		}
		_ = conn.Close()
		return nil, qerrors.NewChannelError(qerrors.ErrHandshake, "accept",
			fmt.Errorf("%w: too many channels from %s", qerrors.ErrRateLimited, remoteIP))
	}

	return &rateLimitedConn{
		Conn:    conn,
		limiter: l.ipLimiter,
		ip:      remoteIP,
	}, nil
}

// Close closes the listener. Channels already accepted are unaffected.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// rateLimitedConn wraps a net.Conn to release the IP rate limit on close.
type rateLimitedConn struct {
	net.Conn
	limiter   *IPRateLimiter
	ip        string
	closeOnce sync.Once
}

// Close closes the connection and releases the IP rate limit slot.
func (c *rateLimitedConn) Close() error {
	err := c.Conn.Close()
	c.closeOnce.Do(func() {
		c.limiter.Release(c.ip)
	})
	return err
}
