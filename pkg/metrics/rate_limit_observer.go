package metrics

// RateLimitObserver records listener rate limit events. It satisfies
// tunnel.RateLimitObserver.
type RateLimitObserver struct {
	collector *Collector
	logger    *Logger
}

// NewRateLimitObserver creates a rate limit observer that records metrics and
// logs each refused peer.
func NewRateLimitObserver(collector *Collector, logger *Logger) *RateLimitObserver {
	if collector == nil {
		collector = Global()
	}
	if logger == nil {
		logger = GetLogger()
	}

	return &RateLimitObserver{
		collector: collector,
		logger:    logger.Named("rate_limit"),
	}
}

// OnConnectionRateLimit records a connection rate limit event.
func (o *RateLimitObserver) OnConnectionRateLimit(remoteIP string) {
	o.collector.RecordConnectionRateLimit()
	o.logger.Warn("per-IP channel limit reached", peerFields(remoteIP))
}

// OnHandshakeRateLimit records a handshake rate limit event.
func (o *RateLimitObserver) OnHandshakeRateLimit(remoteIP string) {
	o.collector.RecordHandshakeRateLimit()
	o.logger.Warn("handshake rate limit reached", peerFields(remoteIP))
}

func peerFields(remoteIP string) Fields {
	if remoteIP == "" {
		return nil
	}
	return Fields{"remote_ip": remoteIP}
}
