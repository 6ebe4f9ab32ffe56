package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every exported metric name.
const DefaultNamespace = "pqlink"

// PrometheusExporter exposes a Collector as a prometheus.Collector. Values
// are read from a fresh Snapshot on every scrape.
type PrometheusExporter struct {
	collector *Collector

	channelsActive       *prometheus.Desc
	channelsTotal        *prometheus.Desc
	channelsFailed       *prometheus.Desc
	bytesSent            *prometheus.Desc
	bytesReceived        *prometheus.Desc
	framesSent           *prometheus.Desc
	framesReceived       *prometheus.Desc
	integrityFailures    *prometheus.Desc
	transmissionErrors   *prometheus.Desc
	encryptErrors        *prometheus.Desc
	decryptErrors        *prometheus.Desc
	connectionRateLimits *prometheus.Desc
	handshakeRateLimits  *prometheus.Desc
	uptime               *prometheus.Desc
	handshakeDuration    *prometheus.Desc
	encryptDuration      *prometheus.Desc
	decryptDuration      *prometheus.Desc
}

var _ prometheus.Collector = (*PrometheusExporter)(nil)

// NewPrometheusExporter creates an exporter for c. The namespace is
// prepended to all metric names and the collector's labels become constant
// labels.
func NewPrometheusExporter(c *Collector, namespace string) *PrometheusExporter {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	constLabels := prometheus.Labels(c.labels)
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, constLabels)
	}

	return &PrometheusExporter{
		collector:            c,
		channelsActive:       desc("channels_active", "Number of channels currently open"),
		channelsTotal:        desc("channels_total", "Total number of channels started"),
		channelsFailed:       desc("channels_failed_total", "Total number of channels that faulted"),
		bytesSent:            desc("bytes_sent_total", "Total plaintext bytes sent"),
		bytesReceived:        desc("bytes_received_total", "Total plaintext bytes received"),
		framesSent:           desc("frames_sent_total", "Total data frames sent"),
		framesReceived:       desc("frames_received_total", "Total data frames received"),
		integrityFailures:    desc("integrity_failures_total", "Total frames rejected by their digest or tag"),
		transmissionErrors:   desc("transmission_errors_total", "Total transport read or write failures"),
		encryptErrors:        desc("encrypt_errors_total", "Total frame encode failures"),
		decryptErrors:        desc("decrypt_errors_total", "Total frame decode failures"),
		connectionRateLimits: desc("connection_rate_limited_total", "Total peers refused by the per-IP limit"),
		handshakeRateLimits:  desc("handshake_rate_limited_total", "Total peers refused by the handshake rate limit"),
		uptime:               desc("uptime_seconds", "Time since the collector was created"),
		handshakeDuration:    desc("handshake_duration_milliseconds", "Handshake duration in milliseconds"),
		encryptDuration:      desc("encrypt_duration_microseconds", "Frame encode and write duration in microseconds"),
		decryptDuration:      desc("decrypt_duration_microseconds", "Frame read and decode duration in microseconds"),
	}
}

// Describe implements prometheus.Collector.
func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		e.channelsActive, e.channelsTotal, e.channelsFailed,
		e.bytesSent, e.bytesReceived, e.framesSent, e.framesReceived,
		e.integrityFailures, e.transmissionErrors, e.encryptErrors, e.decryptErrors,
		e.connectionRateLimits, e.handshakeRateLimits, e.uptime,
		e.handshakeDuration, e.encryptDuration, e.decryptDuration,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.collector.Snapshot()

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	histogram := func(d *prometheus.Desc, h HistogramSummary) {
		ch <- prometheus.MustNewConstHistogram(d, h.Count, h.Sum, h.Cumulative())
	}

	gauge(e.channelsActive, float64(snap.ChannelsActive))
	counter(e.channelsTotal, snap.ChannelsTotal)
	counter(e.channelsFailed, snap.ChannelsFailed)
	counter(e.bytesSent, snap.BytesSent)
	counter(e.bytesReceived, snap.BytesReceived)
	counter(e.framesSent, snap.FramesSent)
	counter(e.framesReceived, snap.FramesReceived)
	counter(e.integrityFailures, snap.IntegrityFailures)
	counter(e.transmissionErrors, snap.TransmissionErrors)
	counter(e.encryptErrors, snap.EncryptErrors)
	counter(e.decryptErrors, snap.DecryptErrors)
	counter(e.connectionRateLimits, snap.ConnectionRateLimits)
	counter(e.handshakeRateLimits, snap.HandshakeRateLimits)
	gauge(e.uptime, snap.Uptime.Seconds())
	histogram(e.handshakeDuration, snap.HandshakeLatency)
	histogram(e.encryptDuration, snap.EncryptLatency)
	histogram(e.decryptDuration, snap.DecryptLatency)
}

// Registry returns a new registry holding the exporter plus the Go runtime
// and process collectors.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		e,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns an http.Handler that serves the exporter's metrics.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.Registry(), promhttp.HandlerOpts{})
}
