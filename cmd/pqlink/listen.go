package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/sara-star-quant/pqlink/internal/constants"
	"github.com/sara-star-quant/pqlink/pkg/digest"
	"github.com/sara-star-quant/pqlink/pkg/metrics"
	"github.com/sara-star-quant/pqlink/pkg/protocol"
	"github.com/sara-star-quant/pqlink/pkg/tunnel"
)

// receiptPrefix starts every receipt the listener sends back for a frame.
const receiptPrefix = "sha3-256:"

// channelListener is satisfied by both the TCP and the QUIC listener.
type channelListener interface {
	Accept(ctx context.Context) (*tunnel.Channel, error)
	Close() error
	Addr() net.Addr
}

func listenCommand(args []string) error {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	configPath := registerConfigFlags(fs)
	fs.String("out", ".", "Directory for received files")
	fs.String("metrics-addr", "", "Serve Prometheus metrics and health checks here (empty disables)")
	fs.Int("max-per-ip", 0, "Concurrent channels allowed per peer IP (0 = unlimited)")
	fs.Float64("handshake-rate", 0, "Handshakes accepted per second (0 = unlimited)")
	fs.Int("handshake-burst", 0, "Handshake burst size")
	once := fs.Bool("once", false, "Exit after the first channel ends")

	fs.Usage = func() {
		fmt.Println(`USAGE: pqlink listen [options]

Accept channels as Responder. Text messages are printed to stdout, files are
saved under --out. Every frame is answered with a receipt carrying the
SHA3-256 digest of what was received.

OPTIONS:`)
		fs.PrintDefaults()
		fmt.Println(`
EXAMPLES:
    # Receive files into ./inbox, exposing metrics on :9090
    pqlink listen --addr :8443 --out ./inbox --metrics-addr :9090

    # QUIC, at most 2 channels per IP and 5 handshakes per second
    pqlink listen --transport quic --max-per-ip 2 --handshake-rate 5`)
	}

	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath, fs)
	if err != nil {
		return err
	}
	obs, err := setupObservability(cfg)
	if err != nil {
		return err
	}
	tcfg, err := cfg.tunnelConfig()
	if err != nil {
		return err
	}
	obs.attach(&tcfg)

	if err := os.MkdirAll(cfg.OutDir, 0o750); err != nil {
		return err
	}

	ln, err := listenChannels(cfg, tcfg)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Listening on %s/%s (%s)\n", ln.Addr(), cfg.Transport, tcfg.Algorithm)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return obs.serveMetrics(ctx, cfg.MetricsAddr) })
	}
	g.Go(func() error {
		r := &receiver{outDir: cfg.OutDir, out: os.Stdout, logger: obs.logger}
		err := r.acceptLoop(ctx, ln, *once)
		stop()
		return err
	})
	return g.Wait()
}

func listenChannels(cfg cliConfig, tcfg tunnel.Config) (channelListener, error) {
	if cfg.Transport == "quic" {
		return tunnel.ListenQUIC(cfg.Addr, nil, tcfg)
	}
	return tunnel.Listen("tcp", cfg.Addr, tcfg)
}

// receiver serves accepted channels.
type receiver struct {
	outDir string
	logger *metrics.Logger

	mu  sync.Mutex // serialises writes to out
	out io.Writer
}

// acceptLoop accepts channels until ctx is done. Failed handshakes and rate
// limited peers are logged and skipped.
func (r *receiver) acceptLoop(ctx context.Context, ln channelListener, once bool) error {
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		ch, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warn("accept failed", metrics.Fields{"error": err})
			continue
		}

		if once {
			return r.serve(ctx, ch)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.serve(ctx, ch); err != nil {
				r.logger.Error("channel failed", metrics.Fields{"channel_id": ch.ID().String(), "error": err})
			}
		}()
	}
}

// serve reads frames from ch until the peer goes away, answering each with a
// receipt. A peer closing the channel is not an error.
func (r *receiver) serve(ctx context.Context, ch *tunnel.Channel) error {
	defer ch.Close()
	stop := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer stop()

	log := r.logger.Named("listen").With(metrics.Fields{
		"channel_id": ch.ID().String(),
		"peer":       addrString(ch.RemoteAddr()),
	})
	log.Info("channel ready", metrics.Fields{"algorithm": ch.Algorithm().String()})

	for {
		msg, err := ch.ReadMessage()
		if err != nil {
			if ch.State() == tunnel.StateClosed || errors.Is(err, io.EOF) {
				log.Info("peer disconnected")
				return nil
			}
			if errors.Is(err, tunnel.ErrTransmission) {
				log.Info("channel closed", metrics.Fields{"error": err})
				return nil
			}
			return err
		}

		sum, err := r.handle(msg)
		if err != nil {
			return err
		}
		if err := ch.Write([]byte(receiptFor(sum))); err != nil {
			return err
		}
	}
}

// handle prints or stores one message and returns the digest of what was
// received.
func (r *receiver) handle(msg *protocol.Message) (digest.Digest, error) {
	stamp := time.Now().Format("15:04:05")

	if msg.Type != constants.FrameTypeFileStream {
		sum := digest.Sum(msg.Payload)
		r.mu.Lock()
		defer r.mu.Unlock()
		if utf8.Valid(msg.Payload) {
			fmt.Fprintf(r.out, "[%s] ← %q (%d bytes)\n", stamp, msg.Payload, len(msg.Payload))
		} else {
			fmt.Fprintf(r.out, "[%s] ← %d bytes of binary data\n", stamp, len(msg.Payload))
		}
		return sum, nil
	}

	name, err := sanitizeFilename(msg.Filename)
	if err != nil {
		return digest.Digest{}, err
	}
	path := filepath.Join(r.outDir, name)
	if err := os.WriteFile(path, msg.Payload, 0o600); err != nil {
		return digest.Digest{}, err
	}

	// Digest what landed on disk, not what was decrypted.
	sum, err := digest.SumFile(path)
	if err != nil {
		return digest.Digest{}, err
	}
	if want := digest.Sum(msg.Payload); !digest.Equal(sum[:], want[:]) {
		return digest.Digest{}, fmt.Errorf("%s: stored file does not match received data", path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "[%s] ← file %s (%d bytes) saved to %s\n", stamp, msg.Filename, len(msg.Payload), path)
	return sum, nil
}

// sanitizeFilename reduces a peer-supplied name to a single path element.
func sanitizeFilename(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || base == "" {
		return "", fmt.Errorf("unusable filename %q", name)
	}
	return base, nil
}

func receiptFor(sum digest.Digest) string {
	return receiptPrefix + hex.EncodeToString(sum[:])
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
