// Package metrics provides observability for pqlink channels and listeners.
//
// # Overview
//
//   - Collector: channel, traffic and failure counters plus latency histograms
//   - PrometheusExporter: a prometheus.Collector over a Collector snapshot
//   - ChannelObserver and RateLimitObserver: tunnel hooks that feed the above
//   - Tracer: spans for handshakes and frames, with an OpenTelemetry adapter
//   - Logger: levelled structured logging in text or JSON
//   - HealthCheck and Server: /health, /healthz, /readyz and /metrics
//
// # Metrics Collection
//
// Channels report to the global collector unless their config names another:
//
//	collector := metrics.NewCollector(metrics.Labels{"instance": "node-1"})
//	metrics.SetGlobal(collector)
//
//	snap := collector.Snapshot()
//	fmt.Println(snap.ChannelsActive, snap.IntegrityFailures)
//
// # Prometheus Export
//
//	exporter := metrics.NewPrometheusExporter(collector, "pqlink")
//	http.Handle("/metrics", exporter.Handler())
//
// Handler serves the exporter together with the Go runtime and process
// collectors from client_golang.
//
// # Tracing
//
//	metrics.SetTracer(metrics.NewOTelTracer("pqlink"))
//
// Channel observers start one span per handshake and one per frame; frame
// spans are children of the handshake span. NewLogTracer writes finished
// spans to a Logger and NewMemoryTracer keeps them for inspection. The
// OpenTelemetry adapter is compiled in with -tags otel and uses the global
// provider. Without the tag NewOTelTracer returns a no-op tracer.
//
// # Logging
//
//	logger := metrics.NewLogger(
//		metrics.WithLevel(metrics.LevelDebug),
//		metrics.WithFormat(metrics.FormatJSON),
//	)
//	logger.Named("channel").Info("handshake complete", metrics.Fields{
//		"channel_id": id,
//		"kem":        "ML-KEM-1024",
//	})
//
// # Observability Server
//
//	server := metrics.NewServer(metrics.ServerConfig{
//		Collector:        collector,
//		Version:          version.Version,
//		EnablePrometheus: true,
//		EnableHealth:     true,
//	})
//	server.AddHealthCheck("memory", metrics.MemoryCheck(512<<20))
//	go server.Serve(ctx, ":9090")
package metrics
