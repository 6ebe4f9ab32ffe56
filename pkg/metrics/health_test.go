package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthCheckBasic(t *testing.T) {
	c := NewCollector(nil)
	h := NewHealthCheck(c, "1.0.0")

	response := h.Check()

	if response.Status != HealthStatusHealthy {
		t.Errorf("expected healthy status, got %s", response.Status)
	}
	if response.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", response.Version)
	}
	if response.Uptime == "" {
		t.Error("expected non-empty uptime")
	}
}

func TestHealthCheckWithChecks(t *testing.T) {
	c := NewCollector(nil)
	h := NewHealthCheck(c, "1.0.0")

	// Add passing check
	h.AddCheck("passing", func() error {
		return nil
	})

	response := h.Check()

	if response.Status != HealthStatusHealthy {
		t.Errorf("expected healthy status, got %s", response.Status)
	}
	if len(response.Checks) != 1 {
		t.Fatalf("expected 1 check, got %d", len(response.Checks))
	}
	if response.Checks["passing"].Status != HealthStatusHealthy {
		t.Errorf("expected passing check to be healthy")
	}
}

func TestHealthCheckWithFailingCheck(t *testing.T) {
	c := NewCollector(nil)
	h := NewHealthCheck(c, "1.0.0")

	h.AddCheck("failing", func() error {
		return errors.New("something went wrong")
	})

	response := h.Check()

	if response.Status != HealthStatusUnhealthy {
		t.Errorf("expected unhealthy status, got %s", response.Status)
	}
	if response.Checks["failing"].Status != HealthStatusUnhealthy {
		t.Error("expected failing check to be unhealthy")
	}
	if response.Checks["failing"].Message != "something went wrong" {
		t.Errorf("expected error message, got %s", response.Checks["failing"].Message)
	}
}

func TestHealthCheckWithMetrics(t *testing.T) {
	c := NewCollector(nil)
	c.ChannelStarted()
	c.RecordFrameSent(1000)

	h := NewHealthCheck(c, "1.0.0")

	response := h.Check()

	if response.Metrics == nil {
		t.Fatal("expected metrics in response")
	}
	if response.Metrics.ChannelsActive != 1 {
		t.Errorf("expected 1 active channel, got %d", response.Metrics.ChannelsActive)
	}
	if response.Metrics.BytesSent != 1000 {
		t.Errorf("expected 1000 bytes sent, got %d", response.Metrics.BytesSent)
	}
}

func TestHealthCheckRemoveCheck(t *testing.T) {
	c := NewCollector(nil)
	h := NewHealthCheck(c, "1.0.0")

	h.AddCheck("temp", func() error {
		return errors.New("fail")
	})

	response := h.Check()
	if response.Status != HealthStatusUnhealthy {
		t.Error("expected unhealthy with failing check")
	}

	h.RemoveCheck("temp")

	response = h.Check()
	if response.Status != HealthStatusHealthy {
		t.Error("expected healthy after removing check")
	}
}

func TestHealthCheckHandler(t *testing.T) {
	c := NewCollector(nil)
	h := NewHealthCheck(c, "1.0.0")

	handler := h.Handler()
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var response HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != HealthStatusHealthy {
		t.Errorf("expected healthy status, got %s", response.Status)
	}
}

func TestHealthCheckHandlerUnhealthy(t *testing.T) {
	c := NewCollector(nil)
	h := NewHealthCheck(c, "1.0.0")
	h.AddCheck("failing", func() error {
		return errors.New("fail")
	})

	handler := h.Handler()
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", resp.StatusCode)
	}
}

func TestLivenessHandler(t *testing.T) {
	c := NewCollector(nil)
	h := NewHealthCheck(c, "1.0.0")

	// Even with failing checks, liveness should return OK
	h.AddCheck("failing", func() error {
		return errors.New("fail")
	})

	handler := h.LivenessHandler()
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200 for liveness, got %d", resp.StatusCode)
	}
}

func TestReadinessHandler(t *testing.T) {
	c := NewCollector(nil)
	h := NewHealthCheck(c, "1.0.0")

	// Healthy case
	handler := h.ReadinessHandler()
	req := httptest.NewRequest("GET", "/readyz", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200 for readiness, got %d", resp.StatusCode)
	}

	// Unhealthy case
	h.AddCheck("failing", func() error {
		return errors.New("fail")
	})

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp = w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 for unhealthy readiness, got %d", resp.StatusCode)
	}
}

func TestHealthCheckErrorRate(t *testing.T) {
	c := NewCollector(nil)
	h := NewHealthCheck(c, "1.0.0")

	for i := 0; i < 100; i++ {
		c.RecordFrameSent(16)
	}

	response := h.Check()
	if response.Metrics.ErrorRate != 0 {
		t.Errorf("expected 0 error rate, got %f", response.Metrics.ErrorRate)
	}

	// Add some errors (>1% threshold for degraded)
	for i := 0; i < 10; i++ {
		c.RecordEncryptError()
	}

	response = h.Check()
	if response.Status != HealthStatusDegraded {
		t.Errorf("expected degraded status with high error rate, got %s", response.Status)
	}
}

func TestServerHandler(t *testing.T) {
	c := NewCollector(nil)

	server := NewServer(ServerConfig{
		Collector:        c,
		Version:          "1.0.0",
		Namespace:        "test",
		EnablePrometheus: true,
		EnableHealth:     true,
	})

	// Test metrics endpoint
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Error("expected /metrics to return 200")
	}

	// Test health endpoint
	req = httptest.NewRequest("GET", "/health", nil)
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Error("expected /health to return 200")
	}

	// Test healthz endpoint
	req = httptest.NewRequest("GET", "/healthz", nil)
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Error("expected /healthz to return 200")
	}

	// Test readyz endpoint
	req = httptest.NewRequest("GET", "/readyz", nil)
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Error("expected /readyz to return 200")
	}
}

func TestServerAddHealthCheck(t *testing.T) {
	server := NewServer(ServerConfig{
		EnableHealth: true,
	})

	server.AddHealthCheck("test", func() error {
		return errors.New("fail")
	})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Error("expected /health to return 503 with failing check")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{10*time.Second + 300*time.Millisecond, "10s"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "26h3m4s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMemoryCheck(t *testing.T) {
	if err := MemoryCheck(1 << 40)(); err != nil {
		t.Errorf("expected a 1 TiB threshold to pass, got %v", err)
	}
	if err := MemoryCheck(1)(); err == nil {
		t.Error("expected a 1 byte threshold to fail")
	}
}

func TestConnectivityCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()

	if err := ConnectivityCheck(addr, time.Second)(); err != nil {
		t.Errorf("expected listener to be reachable: %v", err)
	}

	ln.Close()
	if err := ConnectivityCheck(addr, time.Second)(); err == nil {
		t.Error("expected closed listener to be unreachable")
	}
}

func TestServerServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := NewServer(ServerConfig{Collector: NewCollector(nil), EnablePrometheus: true, EnableHealth: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, addr) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /healthz, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
