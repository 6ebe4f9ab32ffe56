package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sara-star-quant/pqlink/pkg/metrics"
	"github.com/sara-star-quant/pqlink/pkg/tunnel"
)

// observability holds the process-wide logger and collector and knows how to
// attach them to channels.
type observability struct {
	logger    *metrics.Logger
	collector *metrics.Collector
}

func setupObservability(cfg cliConfig) (*observability, error) {
	level, err := metrics.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	format, err := metrics.ParseFormat(cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	logger := metrics.NewLogger(
		metrics.WithOutput(os.Stderr),
		metrics.WithLevel(level),
		metrics.WithFormat(format),
		metrics.WithFields(metrics.Fields{"app": "pqlink"}),
	)
	metrics.SetLogger(logger)

	switch strings.ToLower(cfg.Tracing) {
	case "", "none":
		metrics.SetTracer(metrics.NoOpTracer{})
	case "log":
		metrics.SetTracer(metrics.NewLogTracer(logger))
	case "otel":
		if !metrics.OTelEnabled() {
			return nil, fmt.Errorf("otel tracing not enabled (build with -tags otel)")
		}
		metrics.SetTracer(metrics.NewOTelTracer("pqlink"))
	default:
		return nil, fmt.Errorf("invalid tracing mode: %s (use none, log, or otel)", cfg.Tracing)
	}

	collector := metrics.NewCollector(metrics.Labels{
		"service":   "pqlink",
		"transport": cfg.Transport,
	})
	metrics.SetGlobal(collector)

	return &observability{logger: logger, collector: collector}, nil
}

// attach wires channel and rate limit observers into cfg.
func (o *observability) attach(cfg *tunnel.Config) {
	cfg.ObserverFactory = func(ch *tunnel.Channel) tunnel.Observer {
		return metrics.NewChannelObserver(metrics.ChannelObserverConfig{
			Collector: o.collector,
			Logger:    o.logger,
			ChannelID: ch.ID().String(),
			Role:      ch.Role().String(),
			Algorithm: ch.Algorithm().String(),
		})
	}
	cfg.RateLimitObserver = metrics.NewRateLimitObserver(o.collector, o.logger)
}

// serveMetrics runs the Prometheus and health endpoints on addr until ctx is
// done.
func (o *observability) serveMetrics(ctx context.Context, addr string) error {
	server := metrics.NewServer(metrics.ServerConfig{
		Collector:        o.collector,
		Version:          getVersion(),
		Namespace:        "pqlink",
		EnablePrometheus: true,
		EnableHealth:     true,
	})
	server.AddHealthCheck("memory", metrics.MemoryCheck(1<<30))

	o.logger.Info("observability server listening", metrics.Fields{
		"addr":      addr,
		"endpoints": "/metrics /health /healthz /readyz",
	})
	return server.Serve(ctx, addr)
}
