package tunnel

import (
	"errors"
	"time"

	"github.com/sara-star-quant/pqlink/internal/constants"
	"github.com/sara-star-quant/pqlink/pkg/kem"
	"github.com/sara-star-quant/pqlink/pkg/metrics"
)

var (
	_ Observer          = (*metrics.ChannelObserver)(nil)
	_ RateLimitObserver = (*metrics.RateLimitObserver)(nil)
)

// Config holds configuration for a secure channel.
type Config struct {
	// Algorithm selects the KEM. Both peers must use the same one.
	// Default: ML-KEM-1024
	Algorithm kem.ID

	// HandshakeTimeout bounds the whole handshake. It is combined with any
	// deadline on the context passed to Handshake.
	// Default: 30 seconds
	HandshakeTimeout time.Duration

	// ReadTimeout and WriteTimeout apply to each Read and Write once the
	// channel is Ready, on transports that support deadlines. 0 disables.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxFrameSize bounds the body of a single data frame, in both
	// directions.
	// Default: 64 MiB
	MaxFrameSize int

	// Authenticate replaces the plain ciphertext digest in each frame with a
	// keyed tag derived from the session key. Both peers must agree.
	Authenticate bool

	// RateLimit applies to listeners only.
	RateLimit RateLimitConfig

	// Observer is a shared observer for all channels (ignored if
	// ObserverFactory is set). When both are nil each channel logs and
	// records metrics through the metrics package globals.
	Observer Observer

	// ObserverFactory builds a per-channel observer.
	ObserverFactory ObserverFactory

	// RateLimitObserver receives notifications when rate limits are hit.
	RateLimitObserver RateLimitObserver
}

// RateLimitConfig holds configuration for listener rate limiting.
type RateLimitConfig struct {
	// MaxConnectionsPerIP is the maximum number of concurrent channels
	// accepted from a single IP. 0 means no limit.
	MaxConnectionsPerIP int

	// HandshakeRateLimit is the maximum number of handshakes per second
	// accepted globally. 0 means no limit.
	HandshakeRateLimit float64

	// HandshakeBurst is the maximum burst of handshakes allowed.
	// If 0, defaults to 1 when HandshakeRateLimit is set.
	HandshakeBurst int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Algorithm:        kem.Default,
		HandshakeTimeout: 30 * time.Second,
		ReadTimeout:      0,
		WriteTimeout:     30 * time.Second,
		MaxFrameSize:     constants.DefaultMaxFrameSize,
	}
}

// Validate checks the configuration and fills zero values with defaults.
func (c *Config) Validate() error {
	if c.Algorithm == 0 {
		c.Algorithm = kem.Default
	}
	if _, err := kem.Lookup(c.Algorithm); err != nil {
		return err
	}

	if c.HandshakeTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("tunnel: timeouts must not be negative")
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 30 * time.Second
	}

	if c.MaxFrameSize < 0 {
		return errors.New("tunnel: MaxFrameSize must not be negative")
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = constants.DefaultMaxFrameSize
	}
	if c.MaxFrameSize < constants.MinFileFrameBody {
		return errors.New("tunnel: MaxFrameSize is below the smallest file frame")
	}

	if c.RateLimit.MaxConnectionsPerIP < 0 || c.RateLimit.HandshakeRateLimit < 0 || c.RateLimit.HandshakeBurst < 0 {
		return errors.New("tunnel: rate limits must not be negative")
	}
	if c.RateLimit.HandshakeRateLimit > 0 && c.RateLimit.HandshakeBurst == 0 {
		c.RateLimit.HandshakeBurst = 1
	}
	return nil
}

// observerFor returns the observer a new channel reports to.
func (c *Config) observerFor(ch *Channel) Observer {
	if c.ObserverFactory != nil {
		if o := c.ObserverFactory(ch); o != nil {
			return o
		}
	}
	if c.Observer != nil {
		return c.Observer
	}
	return metrics.NewChannelObserver(metrics.ChannelObserverConfig{
		ChannelID: ch.ID().String(),
		Role:      ch.Role().String(),
		Algorithm: ch.Algorithm().String(),
	})
}
