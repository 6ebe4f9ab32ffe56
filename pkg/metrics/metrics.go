package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates metrics from secure channels and listeners.
type Collector struct {
	// Channel metrics
	channelsActive   atomic.Uint64
	channelsTotal    atomic.Uint64
	channelsFailed   atomic.Uint64
	handshakeLatency *Histogram

	// Traffic metrics
	bytesSent      atomic.Uint64
	bytesReceived  atomic.Uint64
	framesSent     atomic.Uint64
	framesReceived atomic.Uint64

	// Failure metrics
	integrityFailures  atomic.Uint64
	transmissionErrors atomic.Uint64
	encryptErrors      atomic.Uint64
	decryptErrors      atomic.Uint64

	// Listener metrics
	connectionRateLimits atomic.Uint64
	handshakeRateLimits  atomic.Uint64

	// Per-frame latency
	encryptLatency *Histogram
	decryptLatency *Histogram

	createdAt time.Time
	labels    Labels
}

// Labels represents key-value pairs for metric labeling.
type Labels map[string]string

// NewCollector creates a new metrics collector.
func NewCollector(labels Labels) *Collector {
	if labels == nil {
		labels = make(Labels)
	}

	return &Collector{
		handshakeLatency: NewHistogram(HandshakeLatencyBuckets),
		encryptLatency:   NewHistogram(LatencyBuckets),
		decryptLatency:   NewHistogram(LatencyBuckets),
		createdAt:        time.Now(),
		labels:           labels,
	}
}

// Default bucket configurations for histograms.
var (
	// HandshakeLatencyBuckets for handshake duration (milliseconds).
	HandshakeLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

	// LatencyBuckets for frame encode/decode (microseconds).
	LatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 10000, 100000}
)

// --- Channel Metrics ---

// ChannelStarted increments active and total channel counters.
func (c *Collector) ChannelStarted() {
	c.channelsActive.Add(1)
	c.channelsTotal.Add(1)
}

// ChannelEnded decrements the active channel counter.
func (c *Collector) ChannelEnded() {
	for {
		current := c.channelsActive.Load()
		if current == 0 {
			return
		}
		if c.channelsActive.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// ChannelFailed records a channel that faulted.
func (c *Collector) ChannelFailed() {
	c.channelsFailed.Add(1)
}

// RecordHandshakeLatency records a handshake duration.
func (c *Collector) RecordHandshakeLatency(d time.Duration) {
	c.handshakeLatency.Observe(float64(d.Microseconds()) / 1000)
}

// --- Traffic Metrics ---

// RecordFrameSent records one frame carrying n payload bytes.
func (c *Collector) RecordFrameSent(n int) {
	c.framesSent.Add(1)
	c.bytesSent.Add(uint64(n))
}

// RecordFrameReceived records one frame carrying n payload bytes.
func (c *Collector) RecordFrameReceived(n int) {
	c.framesReceived.Add(1)
	c.bytesReceived.Add(uint64(n))
}

// --- Failure Metrics ---

// RecordIntegrityFailure increments the count of frames rejected by their
// digest or tag.
func (c *Collector) RecordIntegrityFailure() {
	c.integrityFailures.Add(1)
}

// RecordTransmissionError increments the count of transport failures.
func (c *Collector) RecordTransmissionError() {
	c.transmissionErrors.Add(1)
}

// RecordEncryptError increments the encode failure counter.
func (c *Collector) RecordEncryptError() {
	c.encryptErrors.Add(1)
}

// RecordDecryptError increments the decode failure counter.
func (c *Collector) RecordDecryptError() {
	c.decryptErrors.Add(1)
}

// RecordConnectionRateLimit records a peer refused by the per-IP limit.
func (c *Collector) RecordConnectionRateLimit() {
	c.connectionRateLimits.Add(1)
}

// RecordHandshakeRateLimit records a peer refused by the handshake rate.
func (c *Collector) RecordHandshakeRateLimit() {
	c.handshakeRateLimits.Add(1)
}

// --- Performance Metrics ---

// RecordEncryptLatency records frame encode and write latency.
func (c *Collector) RecordEncryptLatency(d time.Duration) {
	c.encryptLatency.Observe(float64(d.Microseconds()))
}

// RecordDecryptLatency records frame read and decode latency.
func (c *Collector) RecordDecryptLatency(d time.Duration) {
	c.decryptLatency.Observe(float64(d.Microseconds()))
}

// --- Snapshot ---

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	ChannelsActive uint64
	ChannelsTotal  uint64
	ChannelsFailed uint64

	BytesSent      uint64
	BytesReceived  uint64
	FramesSent     uint64
	FramesReceived uint64

	IntegrityFailures  uint64
	TransmissionErrors uint64
	EncryptErrors      uint64
	DecryptErrors      uint64

	ConnectionRateLimits uint64
	HandshakeRateLimits  uint64

	HandshakeLatency HistogramSummary
	EncryptLatency   HistogramSummary
	DecryptLatency   HistogramSummary

	Labels Labels
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:            time.Now(),
		Uptime:               time.Since(c.createdAt),
		ChannelsActive:       c.channelsActive.Load(),
		ChannelsTotal:        c.channelsTotal.Load(),
		ChannelsFailed:       c.channelsFailed.Load(),
		BytesSent:            c.bytesSent.Load(),
		BytesReceived:        c.bytesReceived.Load(),
		FramesSent:           c.framesSent.Load(),
		FramesReceived:       c.framesReceived.Load(),
		IntegrityFailures:    c.integrityFailures.Load(),
		TransmissionErrors:   c.transmissionErrors.Load(),
		EncryptErrors:        c.encryptErrors.Load(),
		DecryptErrors:        c.decryptErrors.Load(),
		ConnectionRateLimits: c.connectionRateLimits.Load(),
		HandshakeRateLimits:  c.handshakeRateLimits.Load(),
		HandshakeLatency:     c.handshakeLatency.Summary(),
		EncryptLatency:       c.encryptLatency.Summary(),
		DecryptLatency:       c.decryptLatency.Summary(),
		Labels:               c.labels,
	}
}

// Reset clears all metrics (useful for testing).
func (c *Collector) Reset() {
	for _, v := range []*atomic.Uint64{
		&c.channelsActive, &c.channelsTotal, &c.channelsFailed,
		&c.bytesSent, &c.bytesReceived, &c.framesSent, &c.framesReceived,
		&c.integrityFailures, &c.transmissionErrors, &c.encryptErrors, &c.decryptErrors,
		&c.connectionRateLimits, &c.handshakeRateLimits,
	} {
		v.Store(0)
	}
	c.handshakeLatency.Reset()
	c.encryptLatency.Reset()
	c.decryptLatency.Reset()
	c.createdAt = time.Now()
}

// --- Global Collector ---

var (
	globalCollector   *Collector
	globalCollectorMu sync.RWMutex
)

func init() {
	globalCollector = NewCollector(Labels{"instance": "default"})
}

// Global returns the global metrics collector.
func Global() *Collector {
	globalCollectorMu.RLock()
	defer globalCollectorMu.RUnlock()
	return globalCollector
}

// SetGlobal sets the global metrics collector. Channels created afterwards
// report to it.
func SetGlobal(c *Collector) {
	globalCollectorMu.Lock()
	defer globalCollectorMu.Unlock()
	globalCollector = c
}
