package tunnel

import (
	"sync"

	"golang.org/x/time/rate"
)

// IPRateLimiter tracks and limits the number of concurrent channels per IP.
type IPRateLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	maxPerIP    int
}

// NewIPRateLimiter creates a new IPRateLimiter. maxPerIP <= 0 disables it.
func NewIPRateLimiter(maxPerIP int) *IPRateLimiter {
	return &IPRateLimiter{
		connections: make(map[string]int),
		maxPerIP:    maxPerIP,
	}
}

// Acquire reports whether ip may open another channel. If so the count for
// ip is incremented and must be returned with Release.
func (l *IPRateLimiter) Acquire(ip string) bool {
	if l.maxPerIP <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connections[ip] >= l.maxPerIP {
		return false
	}
	l.connections[ip]++
	return true
}

// Release returns a slot taken by Acquire.
func (l *IPRateLimiter) Release(ip string) {
	if l.maxPerIP <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connections[ip] > 0 {
		l.connections[ip]--
		if l.connections[ip] == 0 {
			delete(l.connections, ip)
		}
	}
}

// Active returns the number of channels currently held by ip.
func (l *IPRateLimiter) Active(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connections[ip]
}

// HandshakeLimiter bounds the global rate of accepted handshakes with a
// token bucket. A nil *HandshakeLimiter allows everything.
type HandshakeLimiter struct {
	bucket *rate.Limiter
}

// NewHandshakeLimiter creates a limiter admitting perSecond handshakes with
// the given burst. It returns nil when perSecond <= 0.
func NewHandshakeLimiter(perSecond float64, burst int) *HandshakeLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &HandshakeLimiter{bucket: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow consumes one token if available.
func (l *HandshakeLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.bucket.Allow()
}
