package tunnel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
	"github.com/sara-star-quant/pqlink/pkg/protocol"
)

// DialFunc establishes one Ready Initiator channel.
type DialFunc func(ctx context.Context) (*Channel, error)

// Pool lends Ready Initiator channels to one peer and takes them back for
// reuse, so a handshake is paid once per channel rather than once per
// exchange. A lent channel belongs to one caller until it is released.
type Pool struct {
	dial   DialFunc
	config PoolConfig
	slots  *semaphore.Weighted
	stats  *PoolStats

	// Cancelled by Close to wake callers waiting for a slot.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	idle   []*pooledChannel // LIFO
	closed bool

	pruneDone chan struct{}
}

type pooledChannel struct {
	ch        *Channel
	createdAt time.Time
	lastUsed  time.Time
}

// NewPool creates a pool of TCP (or other net) channels to address.
func NewPool(network, address string, config PoolConfig) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newPool(func(ctx context.Context) (*Channel, error) {
		return Dial(ctx, network, address, config.Channel)
	}, config), nil
}

// NewPoolFunc creates a pool that opens channels with dial, for example a
// closure over DialQUIC.
func NewPoolFunc(dial DialFunc, config PoolConfig) (*Pool, error) {
	if dial == nil {
		return nil, fmt.Errorf("pool: nil dial function")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newPool(dial, config), nil
}

func newPool(dial DialFunc, config PoolConfig) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		dial:   dial,
		config: config,
		slots:  semaphore.NewWeighted(int64(config.MaxActive)),
		stats:  newPoolStats(),
		ctx:    ctx,
		cancel: cancel,
	}
	if config.PruneInterval > 0 {
		p.pruneDone = make(chan struct{})
		go p.pruneLoop()
	}
	return p
}

// Fill establishes channels until MinIdle are idle.
func (p *Pool) Fill(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return qerrors.ErrPoolClosed
		}
		need := p.config.MinIdle - len(p.idle)
		p.mu.Unlock()
		if need <= 0 {
			return nil
		}

		pc, err := p.open(ctx)
		if err != nil {
			return err
		}
		if !p.putIdle(pc) {
			p.discard(pc)
		}
	}
}

// Acquire lends a Ready channel, reusing an idle one when possible. When
// MaxActive channels are already lent it waits up to WaitTimeout, then
// fails with ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*PooledChannel, error) {
	start := time.Now()

	if p.isClosed() {
		return nil, qerrors.ErrPoolClosed
	}
	if err := p.takeSlot(ctx); err != nil {
		return nil, err
	}

	for {
		pc := p.popIdle()
		if pc == nil {
			break
		}
		if p.healthy(pc, time.Now()) {
			p.stats.recordAcquire(time.Since(start), true)
			return &PooledChannel{pool: p, pc: pc}, nil
		}
		p.discard(pc)
	}

	pc, err := p.open(ctx)
	if err != nil {
		p.slots.Release(1)
		return nil, err
	}
	if p.isClosed() {
		p.discard(pc)
		p.slots.Release(1)
		return nil, qerrors.ErrPoolClosed
	}
	p.stats.recordAcquire(time.Since(start), false)
	return &PooledChannel{pool: p, pc: pc}, nil
}

// takeSlot reserves one of MaxActive lending slots.
func (p *Pool) takeSlot(ctx context.Context) error {
	if p.slots.TryAcquire(1) {
		return nil
	}
	if p.config.WaitTimeout == 0 {
		p.stats.recordTimeout()
		return qerrors.ErrPoolExhausted
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.config.WaitTimeout)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	p.stats.waiting.Add(1)
	err := p.slots.Acquire(waitCtx, 1)
	p.stats.waiting.Add(-1)
	if err == nil {
		return nil
	}

	switch {
	case p.isClosed():
		return qerrors.ErrPoolClosed
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		p.stats.recordTimeout()
		return qerrors.ErrPoolExhausted
	}
}

func (p *Pool) open(ctx context.Context) (*pooledChannel, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.DialTimeout)
	defer cancel()

	start := time.Now()
	ch, err := p.dial(ctx)
	p.stats.recordDial(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &pooledChannel{ch: ch, createdAt: now, lastUsed: now}, nil
}

// release takes back a lent channel.
func (p *Pool) release(pc *pooledChannel) {
	defer p.slots.Release(1)
	p.stats.recordReturn()

	pc.lastUsed = time.Now()
	if !p.healthy(pc, pc.lastUsed) || !p.putIdle(pc) {
		p.discard(pc)
	}
}

// putIdle stores pc for reuse unless the pool is closed or full.
func (p *Pool) putIdle(pc *pooledChannel) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.idle) >= p.config.MaxIdle {
		return false
	}
	p.idle = append(p.idle, pc)
	p.stats.idle.Store(int64(len(p.idle)))
	return true
}

func (p *Pool) popIdle() *pooledChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	pc := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	p.stats.idle.Store(int64(len(p.idle)))
	return pc
}

func (p *Pool) discard(pc *pooledChannel) {
	p.stats.discarded.Add(1)
	_ = pc.ch.Close()
}

// healthy reports whether pc may be lent again at now.
func (p *Pool) healthy(pc *pooledChannel, now time.Time) bool {
	if pc.ch.State() != StateReady {
		return false
	}
	if now.Sub(pc.createdAt) > p.config.MaxLifetime {
		return false
	}
	return now.Sub(pc.lastUsed) <= p.config.IdleTimeout
}

// Prune closes idle channels that are no longer Ready or have outlived
// IdleTimeout or MaxLifetime. It returns how many were closed.
func (p *Pool) Prune() int {
	now := time.Now()

	p.mu.Lock()
	kept := p.idle[:0]
	var stale []*pooledChannel
	for _, pc := range p.idle {
		if p.healthy(pc, now) {
			kept = append(kept, pc)
		} else {
			stale = append(stale, pc)
		}
	}
	clear(p.idle[len(kept):])
	p.idle = kept
	p.stats.idle.Store(int64(len(p.idle)))
	p.mu.Unlock()

	for _, pc := range stale {
		p.discard(pc)
	}
	p.stats.pruned.Add(uint64(len(stale)))
	return len(stale)
}

func (p *Pool) pruneLoop() {
	defer close(p.pruneDone)

	ticker := time.NewTicker(p.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.Prune()
		}
	}
}

// Close closes every idle channel and fails further Acquires. Channels
// still lent out are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.stats.idle.Store(0)
	p.mu.Unlock()

	p.cancel()
	if p.pruneDone != nil {
		<-p.pruneDone
	}
	for _, pc := range idle {
		p.discard(pc)
	}
	return nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats returns the current pool statistics.
func (p *Pool) Stats() PoolStatsSnapshot {
	return p.stats.Snapshot()
}

// IdleCount returns the number of idle channels.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// PooledChannel is a channel lent by a Pool. After Release or Discard it
// must not be used.
type PooledChannel struct {
	pool *Pool
	pc   *pooledChannel
	done atomic.Bool
}

// Channel returns the underlying channel, or nil once returned.
func (c *PooledChannel) Channel() *Channel {
	if c.done.Load() {
		return nil
	}
	return c.pc.ch
}

// Write sends p as one Stream frame.
func (c *PooledChannel) Write(p []byte) error {
	if c.done.Load() {
		return qerrors.ErrChannelReleased
	}
	return c.pc.ch.Write(p)
}

// WriteFile sends data as one FileStream frame.
func (c *PooledChannel) WriteFile(name string, data []byte) error {
	if c.done.Load() {
		return qerrors.ErrChannelReleased
	}
	return c.pc.ch.WriteFile(name, data)
}

// Read receives the next frame's payload.
func (c *PooledChannel) Read() ([]byte, error) {
	if c.done.Load() {
		return nil, qerrors.ErrChannelReleased
	}
	return c.pc.ch.Read()
}

// ReadMessage receives the next frame.
func (c *PooledChannel) ReadMessage() (*protocol.Message, error) {
	if c.done.Load() {
		return nil, qerrors.ErrChannelReleased
	}
	return c.pc.ch.ReadMessage()
}

// CreatedAt returns when the channel was established.
func (c *PooledChannel) CreatedAt() time.Time {
	return c.pc.createdAt
}

// Release returns the channel to the pool. A channel that is no longer
// Ready is closed instead. Release is idempotent.
func (c *PooledChannel) Release() {
	if c.done.CompareAndSwap(false, true) {
		c.pool.release(c.pc)
	}
}

// Discard closes the channel and frees its slot. Use it when the exchange
// left the channel in an unknown state, such as a reply not yet read.
func (c *PooledChannel) Discard() {
	if c.done.CompareAndSwap(false, true) {
		c.pool.stats.recordReturn()
		c.pool.discard(c.pc)
		c.pool.slots.Release(1)
	}
}
