package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestNewCollector(t *testing.T) {
	labels := Labels{"instance": "test"}
	c := NewCollector(labels)

	if c == nil {
		t.Fatal("expected non-nil collector")
	}

	snap := c.Snapshot()
	if snap.Labels["instance"] != "test" {
		t.Errorf("expected label instance=test, got %v", snap.Labels)
	}
}

func TestCollectorChannelMetrics(t *testing.T) {
	c := NewCollector(nil)

	c.ChannelStarted()
	c.ChannelStarted()
	snap := c.Snapshot()
	if snap.ChannelsActive != 2 {
		t.Errorf("expected 2 active channels, got %d", snap.ChannelsActive)
	}
	if snap.ChannelsTotal != 2 {
		t.Errorf("expected 2 total channels, got %d", snap.ChannelsTotal)
	}

	c.ChannelEnded()
	snap = c.Snapshot()
	if snap.ChannelsActive != 1 {
		t.Errorf("expected 1 active channel, got %d", snap.ChannelsActive)
	}
	if snap.ChannelsTotal != 2 {
		t.Errorf("expected 2 total channels, got %d", snap.ChannelsTotal)
	}

	c.ChannelFailed()
	snap = c.Snapshot()
	if snap.ChannelsFailed != 1 {
		t.Errorf("expected 1 failed channel, got %d", snap.ChannelsFailed)
	}
}

func TestCollectorChannelEndedNeverUnderflows(t *testing.T) {
	c := NewCollector(nil)
	c.ChannelEnded()
	if got := c.Snapshot().ChannelsActive; got != 0 {
		t.Errorf("expected 0 active channels, got %d", got)
	}
}

func TestCollectorTrafficMetrics(t *testing.T) {
	c := NewCollector(nil)

	c.RecordFrameSent(1000)
	c.RecordFrameSent(500)
	c.RecordFrameReceived(2000)
	c.RecordFrameReceived(0)

	snap := c.Snapshot()
	if snap.BytesSent != 1500 {
		t.Errorf("expected 1500 bytes sent, got %d", snap.BytesSent)
	}
	if snap.BytesReceived != 2000 {
		t.Errorf("expected 2000 bytes received, got %d", snap.BytesReceived)
	}
	if snap.FramesSent != 2 {
		t.Errorf("expected 2 frames sent, got %d", snap.FramesSent)
	}
	if snap.FramesReceived != 2 {
		t.Errorf("expected 2 frames received, got %d", snap.FramesReceived)
	}
}

func TestCollectorFailureMetrics(t *testing.T) {
	c := NewCollector(nil)

	c.RecordIntegrityFailure()
	c.RecordTransmissionError()
	c.RecordTransmissionError()
	c.RecordEncryptError()
	c.RecordDecryptError()
	c.RecordConnectionRateLimit()
	c.RecordHandshakeRateLimit()

	snap := c.Snapshot()
	if snap.IntegrityFailures != 1 {
		t.Errorf("expected 1 integrity failure, got %d", snap.IntegrityFailures)
	}
	if snap.TransmissionErrors != 2 {
		t.Errorf("expected 2 transmission errors, got %d", snap.TransmissionErrors)
	}
	if snap.EncryptErrors != 1 || snap.DecryptErrors != 1 {
		t.Errorf("expected 1 encrypt and 1 decrypt error, got %d and %d", snap.EncryptErrors, snap.DecryptErrors)
	}
	if snap.ConnectionRateLimits != 1 || snap.HandshakeRateLimits != 1 {
		t.Errorf("expected 1 of each rate limit, got %d and %d", snap.ConnectionRateLimits, snap.HandshakeRateLimits)
	}
}

func TestCollectorLatencyMetrics(t *testing.T) {
	c := NewCollector(nil)

	c.RecordHandshakeLatency(100 * time.Millisecond)
	c.RecordHandshakeLatency(200 * time.Millisecond)
	c.RecordEncryptLatency(10 * time.Microsecond)
	c.RecordDecryptLatency(15 * time.Microsecond)

	snap := c.Snapshot()
	if snap.HandshakeLatency.Count != 2 {
		t.Errorf("expected 2 handshake latency observations, got %d", snap.HandshakeLatency.Count)
	}
	if snap.HandshakeLatency.Mean != 150 {
		t.Errorf("expected mean handshake latency 150ms, got %.2f", snap.HandshakeLatency.Mean)
	}
	if snap.EncryptLatency.Count != 1 {
		t.Errorf("expected 1 encrypt latency observation, got %d", snap.EncryptLatency.Count)
	}
	if snap.DecryptLatency.Count != 1 {
		t.Errorf("expected 1 decrypt latency observation, got %d", snap.DecryptLatency.Count)
	}
}

func TestCollectorSubMillisecondHandshake(t *testing.T) {
	c := NewCollector(nil)
	c.RecordHandshakeLatency(500 * time.Microsecond)

	if got := c.Snapshot().HandshakeLatency.Sum; got != 0.5 {
		t.Errorf("expected 0.5ms, got %v", got)
	}
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector(nil)

	c.ChannelStarted()
	c.RecordFrameSent(1000)
	c.RecordIntegrityFailure()

	snap := c.Snapshot()
	if snap.ChannelsActive != 1 || snap.BytesSent != 1000 {
		t.Fatal("metrics not recorded")
	}

	c.Reset()

	snap = c.Snapshot()
	if snap.ChannelsActive != 0 {
		t.Errorf("expected 0 active channels after reset, got %d", snap.ChannelsActive)
	}
	if snap.BytesSent != 0 {
		t.Errorf("expected 0 bytes sent after reset, got %d", snap.BytesSent)
	}
	if snap.IntegrityFailures != 0 {
		t.Errorf("expected 0 integrity failures after reset, got %d", snap.IntegrityFailures)
	}
}

func TestCollectorUptime(t *testing.T) {
	c := NewCollector(nil)
	time.Sleep(10 * time.Millisecond)

	snap := c.Snapshot()
	if snap.Uptime < 10*time.Millisecond {
		t.Errorf("expected uptime >= 10ms, got %v", snap.Uptime)
	}
}

func TestGlobalCollector(t *testing.T) {
	g := Global()
	if g == nil {
		t.Fatal("expected non-nil global collector")
	}
	if g != Global() {
		t.Error("expected same global collector instance")
	}

	custom := NewCollector(Labels{"custom": "true"})
	SetGlobal(custom)
	defer SetGlobal(g)

	if Global() != custom {
		t.Error("SetGlobal did not replace the global collector")
	}
}

func TestCollectorConcurrency(t *testing.T) {
	c := NewCollector(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.ChannelStarted()
				c.RecordFrameSent(j)
				c.RecordHandshakeLatency(time.Duration(j) * time.Millisecond)
				c.ChannelEnded()
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.ChannelsTotal != 1000 {
		t.Errorf("expected 1000 total channels, got %d", snap.ChannelsTotal)
	}
	if snap.ChannelsActive != 0 {
		t.Errorf("expected 0 active channels, got %d", snap.ChannelsActive)
	}
	if snap.FramesSent != 1000 {
		t.Errorf("expected 1000 frames sent, got %d", snap.FramesSent)
	}
}
