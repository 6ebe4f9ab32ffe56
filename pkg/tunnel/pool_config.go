package tunnel

import (
	"errors"
	"time"
)

// PoolConfig holds configuration for a channel pool.
type PoolConfig struct {
	// MaxActive is the maximum number of channels lent out at once.
	// Default: 10
	MaxActive int

	// MaxIdle is the maximum number of Ready channels kept for reuse.
	// Released channels beyond it are closed.
	// Default: MaxActive
	MaxIdle int

	// MinIdle is the number of channels Fill establishes ahead of use.
	MinIdle int

	// IdleTimeout closes channels that have been idle this long.
	// Default: 5 minutes
	IdleTimeout time.Duration

	// MaxLifetime closes channels older than this when they next return to
	// or leave the pool, limiting how much traffic one session key carries.
	// Default: 30 minutes
	MaxLifetime time.Duration

	// PruneInterval runs Prune in the background at this interval.
	// 0 disables background pruning; Acquire still skips stale channels.
	PruneInterval time.Duration

	// WaitTimeout is how long Acquire waits when MaxActive channels are in
	// use. 0 means fail immediately with ErrPoolExhausted.
	// Default: 30 seconds
	WaitTimeout time.Duration

	// DialTimeout bounds establishing one channel, handshake included.
	// Default: 10 seconds
	DialTimeout time.Duration

	// Channel configures every channel the pool opens.
	Channel Config
}

// DefaultPoolConfig returns a PoolConfig with sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxActive:   10,
		MaxIdle:     10,
		IdleTimeout: 5 * time.Minute,
		MaxLifetime: 30 * time.Minute,
		WaitTimeout: 30 * time.Second,
		DialTimeout: 10 * time.Second,
		Channel:     DefaultConfig(),
	}
}

// Validate checks the configuration and fills zero values with defaults.
func (c *PoolConfig) Validate() error {
	if c.MaxActive < 0 || c.MaxIdle < 0 || c.MinIdle < 0 {
		return errors.New("pool: sizes cannot be negative")
	}
	if c.IdleTimeout < 0 || c.MaxLifetime < 0 || c.PruneInterval < 0 || c.WaitTimeout < 0 || c.DialTimeout < 0 {
		return errors.New("pool: durations cannot be negative")
	}

	defaults := DefaultPoolConfig()
	if c.MaxActive == 0 {
		c.MaxActive = defaults.MaxActive
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = c.MaxActive
	}
	if c.MinIdle > c.MaxIdle {
		return errors.New("pool: MinIdle cannot exceed MaxIdle")
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaults.IdleTimeout
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = defaults.MaxLifetime
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaults.DialTimeout
	}
	return c.Channel.Validate()
}
