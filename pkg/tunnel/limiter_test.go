package tunnel

import (
	"sync"
	"testing"
)

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(2)

	if !l.Acquire("10.0.0.1") || !l.Acquire("10.0.0.1") {
		t.Fatal("first two channels should be allowed")
	}
	if l.Acquire("10.0.0.1") {
		t.Error("third channel from the same IP should be refused")
	}
	if !l.Acquire("10.0.0.2") {
		t.Error("other IPs should be unaffected")
	}
	if got := l.Active("10.0.0.1"); got != 2 {
		t.Errorf("expected 2 active, got %d", got)
	}

	l.Release("10.0.0.1")
	if !l.Acquire("10.0.0.1") {
		t.Error("a released slot should be reusable")
	}
}

func TestIPRateLimiterReleaseNeverUnderflows(t *testing.T) {
	l := NewIPRateLimiter(1)
	l.Release("10.0.0.1")

	if got := l.Active("10.0.0.1"); got != 0 {
		t.Errorf("expected 0 active, got %d", got)
	}
	if !l.Acquire("10.0.0.1") {
		t.Error("spurious Release should not grant extra slots")
	}
	if l.Acquire("10.0.0.1") {
		t.Error("limit should still apply")
	}
}

func TestIPRateLimiterDisabled(t *testing.T) {
	l := NewIPRateLimiter(0)
	for i := 0; i < 100; i++ {
		if !l.Acquire("10.0.0.1") {
			t.Fatal("a zero limit should allow everything")
		}
	}
	if got := l.Active("10.0.0.1"); got != 0 {
		t.Errorf("disabled limiter should not count, got %d", got)
	}
}

func TestIPRateLimiterConcurrent(t *testing.T) {
	l := NewIPRateLimiter(10)

	var mu sync.Mutex
	granted := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire("10.0.0.1") {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 10 {
		t.Errorf("expected exactly 10 grants, got %d", granted)
	}
}

func TestHandshakeLimiter(t *testing.T) {
	l := NewHandshakeLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("handshake %d within burst should be allowed", i)
		}
	}
	if l.Allow() {
		t.Error("handshake beyond burst should be refused")
	}
}

func TestHandshakeLimiterDisabled(t *testing.T) {
	var l *HandshakeLimiter
	if !l.Allow() {
		t.Error("nil limiter should allow everything")
	}
	if NewHandshakeLimiter(0, 5) != nil {
		t.Error("zero rate should disable the limiter")
	}
}

func TestHandshakeLimiterMinimumBurst(t *testing.T) {
	l := NewHandshakeLimiter(0.001, 0)
	if !l.Allow() {
		t.Error("burst should be at least one")
	}
	if l.Allow() {
		t.Error("second handshake should wait for a token")
	}
}
