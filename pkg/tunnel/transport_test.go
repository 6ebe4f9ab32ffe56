package tunnel

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sara-star-quant/pqlink/pkg/metrics"
)

// recordingRateLimitObserver counts rate limit notifications.
type recordingRateLimitObserver struct {
	mu         sync.Mutex
	connection []string
	handshake  []string
}

func (o *recordingRateLimitObserver) OnConnectionRateLimit(remoteIP string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connection = append(o.connection, remoteIP)
}

func (o *recordingRateLimitObserver) OnHandshakeRateLimit(remoteIP string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handshake = append(o.handshake, remoteIP)
}

type acceptResult struct {
	ch  *Channel
	err error
}

// acceptAsync runs one Accept in the background.
func acceptAsync(ctx context.Context, ln *Listener) <-chan acceptResult {
	res := make(chan acceptResult, 1)
	go func() {
		ch, err := ln.Accept(ctx)
		res <- acceptResult{ch, err}
	}()
	return res
}

func listen(t *testing.T, cfg Config) *Listener {
	t.Helper()
	ln, err := Listen("tcp", "127.0.0.1:0", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func TestDialAndAccept(t *testing.T) {
	ln := listen(t, testConfig())
	accepted := acceptAsync(context.Background(), ln)

	client, err := Dial(context.Background(), "tcp", ln.Addr().String(), testConfig())
	require.NoError(t, err)
	defer client.Close()

	res := <-accepted
	require.NoError(t, res.err)
	server := res.ch
	defer server.Close()

	require.Equal(t, RoleInitiator, client.Role())
	require.Equal(t, RoleResponder, server.Role())
	require.Equal(t, client.LocalAddr().String(), server.RemoteAddr().String())

	require.NoError(t, client.WriteFile("hello.txt", []byte("hello")))
	msg, err := server.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "hello.txt", msg.Filename)
	require.Equal(t, "hello", string(msg.Payload))

	require.NoError(t, server.Write([]byte("world")))
	got, err := client.Read()
	require.NoError(t, err)
	require.Equal(t, "world", string(got))
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), "tcp", addr, testConfig())
	require.ErrorIs(t, err, ErrTransmission)
}

func TestDialInvalidConfig(t *testing.T) {
	ln := listen(t, testConfig())
	go func() { _, _ = ln.Accept(context.Background()) }()

	cfg := testConfig()
	cfg.MaxFrameSize = 10
	_, err := Dial(context.Background(), "tcp", ln.Addr().String(), cfg)
	require.ErrorIs(t, err, ErrKeyGeneration)
}

func TestListenInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeTimeout = -time.Second
	_, err := Listen("tcp", "127.0.0.1:0", cfg)
	require.Error(t, err)
}

func TestListenerPerIPLimit(t *testing.T) {
	obs := &recordingRateLimitObserver{}
	cfg := testConfig()
	cfg.RateLimit.MaxConnectionsPerIP = 1
	cfg.RateLimitObserver = obs
	ln := listen(t, cfg)

	accepted := acceptAsync(context.Background(), ln)
	client, err := Dial(context.Background(), "tcp", ln.Addr().String(), testConfig())
	require.NoError(t, err)
	defer client.Close()
	first := <-accepted
	require.NoError(t, first.err)
	require.Equal(t, 1, ln.ipLimiter.Active("127.0.0.1"))

	accepted = acceptAsync(context.Background(), ln)
	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer raw.Close()

	refused := <-accepted
	require.ErrorIs(t, refused.err, ErrRateLimited)
	require.ErrorIs(t, refused.err, ErrHandshake)

	// The refused peer is disconnected before any handshake traffic.
	_ = raw.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = raw.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)

	obs.mu.Lock()
	require.Equal(t, []string{"127.0.0.1"}, obs.connection)
	obs.mu.Unlock()

	// Closing the accepted channel frees the slot.
	require.NoError(t, first.ch.Close())
	require.Equal(t, 0, ln.ipLimiter.Active("127.0.0.1"))

	accepted = acceptAsync(context.Background(), ln)
	again, err := Dial(context.Background(), "tcp", ln.Addr().String(), testConfig())
	require.NoError(t, err)
	defer again.Close()
	res := <-accepted
	require.NoError(t, res.err)
	res.ch.Close()
}

func TestListenerHandshakeRateLimit(t *testing.T) {
	collector := metrics.NewCollector(nil)
	cfg := testConfig()
	cfg.RateLimit.HandshakeRateLimit = 0.001
	cfg.RateLimit.HandshakeBurst = 1
	cfg.RateLimitObserver = metrics.NewRateLimitObserver(collector, metrics.NullLogger())
	ln := listen(t, cfg)

	accepted := acceptAsync(context.Background(), ln)
	client, err := Dial(context.Background(), "tcp", ln.Addr().String(), testConfig())
	require.NoError(t, err)
	defer client.Close()
	first := <-accepted
	require.NoError(t, first.err)
	defer first.ch.Close()

	accepted = acceptAsync(context.Background(), ln)
	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer raw.Close()

	refused := <-accepted
	require.ErrorIs(t, refused.err, ErrRateLimited)
	require.ErrorIs(t, refused.err, ErrHandshake)
	require.EqualValues(t, 1, collector.Snapshot().HandshakeRateLimits)
}

func TestListenerAcceptContext(t *testing.T) {
	ln := listen(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ln.Accept(ctx)
	require.ErrorIs(t, err, ErrTransmission)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	ctx, cancel = context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err = ln.Accept(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The listener keeps working after an abandoned Accept.
	accepted := acceptAsync(context.Background(), ln)
	client, err := Dial(context.Background(), "tcp", ln.Addr().String(), testConfig())
	require.NoError(t, err)
	defer client.Close()
	res := <-accepted
	require.NoError(t, res.err)
	res.ch.Close()
}

func TestListenerSurvivesFailedHandshake(t *testing.T) {
	ln := listen(t, testConfig())

	accepted := acceptAsync(context.Background(), ln)
	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	_, err = raw.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	res := <-accepted
	require.ErrorIs(t, res.err, ErrHandshake)

	accepted = acceptAsync(context.Background(), ln)
	client, err := Dial(context.Background(), "tcp", ln.Addr().String(), testConfig())
	require.NoError(t, err)
	defer client.Close()
	res = <-accepted
	require.NoError(t, res.err)
	res.ch.Close()
}

func TestExtractRemoteIP(t *testing.T) {
	require.Equal(t, "", extractRemoteIP(nil))
	require.Equal(t, "10.1.2.3", extractRemoteIP(&net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 9000}))
	require.Equal(t, "::1", extractRemoteIP(&net.UDPAddr{IP: net.ParseIP("::1"), Port: 9000}))
}

func TestQUICChannel(t *testing.T) {
	ln, err := ListenQUIC("127.0.0.1:0", nil, testConfig())
	require.NoError(t, err)
	defer ln.Close()

	serverErr := make(chan error, 1)
	go func() {
		ch, err := ln.Accept(context.Background())
		if err != nil {
			serverErr <- err
			return
		}
		defer ch.Close()

		msg, err := ch.ReadMessage()
		if err != nil {
			serverErr <- err
			return
		}
		if err := ch.WriteFile(msg.Filename, append([]byte("echo: "), msg.Payload...)); err != nil {
			serverErr <- err
			return
		}
		// Wait for the client to hang up before closing the connection.
		_, err = ch.Read()
		if err == nil {
			err = io.ErrUnexpectedEOF
		} else {
			err = nil
		}
		serverErr <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := DialQUIC(ctx, ln.Addr().String(), nil, testConfig())
	require.NoError(t, err)
	require.NotNil(t, client.RemoteAddr())

	require.NoError(t, client.WriteFile("ping.bin", make([]byte, 1000)))
	msg, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "ping.bin", msg.Filename)
	require.Len(t, msg.Payload, len("echo: ")+1000)

	require.NoError(t, client.Close())
	require.NoError(t, <-serverErr)
}

func TestQUICPerIPLimit(t *testing.T) {
	obs := &recordingRateLimitObserver{}
	cfg := testConfig()
	cfg.RateLimit.MaxConnectionsPerIP = 1
	cfg.RateLimitObserver = obs

	ln, err := ListenQUIC("127.0.0.1:0", nil, cfg)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := make(chan acceptResult, 3)
	go func() {
		for i := 0; i < 3; i++ {
			ch, err := ln.Accept(ctx)
			results <- acceptResult{ch, err}
		}
	}()

	first, err := DialQUIC(ctx, ln.Addr().String(), nil, testConfig())
	require.NoError(t, err)
	defer first.Close()
	res := <-results
	require.NoError(t, res.err)
	require.Equal(t, 1, ln.ipLimiter.Active("127.0.0.1"))

	go func() {
		if ch, err := DialQUIC(ctx, ln.Addr().String(), nil, testConfig()); err == nil {
			ch.Close()
		}
	}()
	refused := <-results
	require.ErrorIs(t, refused.err, ErrRateLimited)
	require.ErrorIs(t, refused.err, ErrHandshake)

	obs.mu.Lock()
	require.Equal(t, []string{"127.0.0.1"}, obs.connection)
	obs.mu.Unlock()

	// Closing the accepted channel frees the slot.
	require.NoError(t, res.ch.Close())
	require.Equal(t, 0, ln.ipLimiter.Active("127.0.0.1"))

	again, err := DialQUIC(ctx, ln.Addr().String(), nil, testConfig())
	require.NoError(t, err)
	defer again.Close()
	res = <-results
	require.NoError(t, res.err)
	res.ch.Close()
}

func TestQUICHandshakeRateLimit(t *testing.T) {
	obs := &recordingRateLimitObserver{}
	cfg := testConfig()
	cfg.RateLimit.HandshakeRateLimit = 0.001
	cfg.RateLimit.HandshakeBurst = 1
	cfg.RateLimitObserver = obs

	ln, err := ListenQUIC("127.0.0.1:0", nil, cfg)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := make(chan acceptResult, 2)
	go func() {
		for i := 0; i < 2; i++ {
			ch, err := ln.Accept(ctx)
			results <- acceptResult{ch, err}
		}
	}()

	first, err := DialQUIC(ctx, ln.Addr().String(), nil, testConfig())
	require.NoError(t, err)
	defer first.Close()
	res := <-results
	require.NoError(t, res.err)
	defer res.ch.Close()

	// The refused client sees its connection closed; only the server side
	// error is asserted.
	go func() {
		if ch, err := DialQUIC(ctx, ln.Addr().String(), nil, testConfig()); err == nil {
			ch.Close()
		}
	}()
	res = <-results
	require.ErrorIs(t, res.err, ErrRateLimited)

	obs.mu.Lock()
	require.Len(t, obs.handshake, 1)
	obs.mu.Unlock()
}
