package tunnel

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
)

// ALPN is the application protocol negotiated on QUIC transports.
const ALPN = "pqlink"

// quicIdleTimeout closes QUIC connections that carry no traffic.
const quicIdleTimeout = 30 * time.Second

// streamConn carries a channel over a single QUIC stream.
type streamConn struct {
	*quic.Stream
	conn *quic.Conn

	// release returns a per-IP slot, if one was taken.
	release   func()
	closeOnce sync.Once
}

func (c *streamConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *streamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the stream and the QUIC connection it belongs to.
func (c *streamConn) Close() error {
	err := c.Stream.Close()
	if cerr := c.conn.CloseWithError(0, "channel closed"); err == nil {
		err = cerr
	}
	if c.release != nil {
		c.closeOnce.Do(c.release)
	}
	return err
}

// DefaultQUICClientTLS returns the client TLS configuration for QUIC. The
// server certificate is not verified; confidentiality and integrity come
// from the channel handshake, not from TLS.
func DefaultQUICClientTLS() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{ALPN},
	}
}

// SelfSignedQUICServerTLS returns a server TLS configuration with a fresh
// self-signed ECDSA certificate.
func SelfSignedQUICServerTLS() (*tls.Config, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: ALPN},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: priv}},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{ALPN},
	}, nil
}

// DialQUIC opens a QUIC connection to addr, opens one stream and completes
// the handshake as Initiator over it. A nil tlsConfig uses
// DefaultQUICClientTLS.
func DialQUIC(ctx context.Context, addr string, tlsConfig *tls.Config, config Config) (*Channel, error) {
	if tlsConfig == nil {
		tlsConfig = DefaultQUICClientTLS()
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, &quic.Config{
		MaxIdleTimeout: quicIdleTimeout,
	})
	if err != nil {
		return nil, qerrors.NewChannelError(qerrors.ErrTransmission, "dial", err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, qerrors.NewChannelError(qerrors.ErrTransmission, "dial", err)
	}
	return establish(ctx, &streamConn{Stream: stream, conn: conn}, RoleInitiator, config)
}

// QUICListener accepts channels carried over QUIC, one per connection.
type QUICListener struct {
	listener *quic.Listener
	config   Config

	ipLimiter        *IPRateLimiter
	handshakeLimiter *HandshakeLimiter
}

// ListenQUIC listens for QUIC connections on addr. A nil tlsConfig uses a
// fresh self-signed certificate.
func ListenQUIC(addr string, tlsConfig *tls.Config, config Config) (*QUICListener, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if tlsConfig == nil {
		var err error
		if tlsConfig, err = SelfSignedQUICServerTLS(); err != nil {
			return nil, err
		}
	}
	ln, err := quic.ListenAddr(addr, tlsConfig, &quic.Config{
		MaxIdleTimeout: quicIdleTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &QUICListener{
		listener:         ln,
		config:           config,
		ipLimiter:        NewIPRateLimiter(config.RateLimit.MaxConnectionsPerIP),
		handshakeLimiter: NewHandshakeLimiter(config.RateLimit.HandshakeRateLimit, config.RateLimit.HandshakeBurst),
	}, nil
}

// Accept waits for the next QUIC connection, accepts its first stream and
// completes the handshake as Responder. Rate limits apply as for Listener.
func (l *QUICListener) Accept(ctx context.Context) (*Channel, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, qerrors.NewChannelError(qerrors.ErrTransmission, "accept", err)
	}
	remoteIP := extractRemoteIP(conn.RemoteAddr())

	var release func()
	if l.config.RateLimit.MaxConnectionsPerIP > 0 {
		if !l.ipLimiter.Acquire(remoteIP) {
			if l.config.RateLimitObserver != nil {
				l.config.RateLimitObserver.OnConnectionRateLimit(remoteIP)
			}
			_ = conn.CloseWithError(0, "rate limited")
			return nil, qerrors.NewChannelError(qerrors.ErrHandshake, "accept",
				fmt.Errorf("%w: too many channels from %s", qerrors.ErrRateLimited, remoteIP))
		}
		release = func() { l.ipLimiter.Release(remoteIP) }
	}

	if !l.handshakeLimiter.Allow() {
		if l.config.RateLimitObserver != nil {
			l.config.RateLimitObserver.OnHandshakeRateLimit(remoteIP)
		}
		_ = conn.CloseWithError(0, "rate limited")
		if release != nil {
			release()
		}
		return nil, qerrors.NewChannelError(qerrors.ErrHandshake, "accept",
			fmt.Errorf("%w: handshake rate exceeded", qerrors.ErrRateLimited))
	}

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		if release != nil {
			release()
		}
		return nil, qerrors.NewChannelError(qerrors.ErrTransmission, "accept", err)
	}
	return establish(ctx, &streamConn{Stream: stream, conn: conn, release: release}, RoleResponder, l.config)
}

// Close closes the listener.
func (l *QUICListener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *QUICListener) Addr() net.Addr {
	return l.listener.Addr()
}
