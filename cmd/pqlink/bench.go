package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sara-star-quant/pqlink/pkg/kem"
	"github.com/sara-star-quant/pqlink/pkg/tunnel"
)

func benchCommand(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	handshakes := fs.Int("handshakes", 0, "Number of handshakes to run per algorithm")
	throughput := fs.Bool("throughput", false, "Measure bulk transfer over one channel")
	sizeStr := fs.String("size", "64MB", "Total bytes to transfer for --throughput")
	chunkStr := fs.String("chunk", "64KB", "Payload size of each frame for --throughput")
	algorithm := fs.String("algorithm", "", "Benchmark a single algorithm (default: all)")
	authenticate := fs.Bool("authenticate", false, "Tag frames with the session key")

	fs.Usage = func() {
		fmt.Println(`USAGE: pqlink bench [options]

Run handshakes and bulk transfers against a loopback listener.

OPTIONS:`)
		fs.PrintDefaults()
		fmt.Println(`
EXAMPLES:
    pqlink bench --handshakes 100
    pqlink bench --throughput --size 256MB --algorithm ML-KEM-768`)
	}

	_ = fs.Parse(args)

	if *handshakes == 0 && !*throughput {
		fs.Usage()
		return fmt.Errorf("no benchmarks specified, use --handshakes or --throughput")
	}

	algs := []kem.ID{}
	if *algorithm != "" {
		id, err := kem.ParseID(*algorithm)
		if err != nil {
			return err
		}
		algs = append(algs, id)
	} else {
		for _, s := range kem.Schemes() {
			algs = append(algs, s.ID())
		}
	}

	cfg := tunnel.DefaultConfig()
	cfg.Observer = tunnel.NopObserver()
	cfg.Authenticate = *authenticate

	if *handshakes > 0 {
		for _, id := range algs {
			cfg.Algorithm = id
			res, err := benchHandshakes(cfg, *handshakes)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			res.print(os.Stdout, id)
		}
	}

	if *throughput {
		total, err := parseSize(*sizeStr)
		if err != nil {
			return err
		}
		chunk, err := parseSize(*chunkStr)
		if err != nil {
			return err
		}
		cfg.Algorithm = algs[0]
		res, err := benchThroughput(cfg, total, int(chunk))
		if err != nil {
			return err
		}
		res.print(os.Stdout)
	}
	return nil
}

type handshakeResult struct {
	count         int
	total         time.Duration
	min, max, avg time.Duration
}

// benchHandshakes establishes count channels one after another over
// loopback TCP and records how long each Dial took.
func benchHandshakes(cfg tunnel.Config, count int) (handshakeResult, error) {
	ln, err := tunnel.Listen("tcp", "127.0.0.1:0", cfg)
	if err != nil {
		return handshakeResult{}, err
	}
	defer ln.Close()

	ctx := context.Background()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for range count {
			ch, err := ln.Accept(gctx)
			if err != nil {
				return err
			}
			_ = ch.Close()
		}
		return nil
	})

	res := handshakeResult{count: count, min: time.Hour}
	start := time.Now()
	for range count {
		dialStart := time.Now()
		ch, err := tunnel.Dial(gctx, "tcp", ln.Addr().String(), cfg)
		if err != nil {
			_ = ln.Close()
			_ = g.Wait()
			return handshakeResult{}, err
		}
		d := time.Since(dialStart)
		_ = ch.Close()

		res.min = min(res.min, d)
		res.max = max(res.max, d)
	}
	res.total = time.Since(start)
	res.avg = res.total / time.Duration(count)

	if err := g.Wait(); err != nil {
		return handshakeResult{}, err
	}
	return res, nil
}

func (r handshakeResult) print(w io.Writer, id kem.ID) {
	fmt.Fprintf(w, "Handshakes (%s)\n", id)
	fmt.Fprintln(w, strings.Repeat("─", 60))
	fmt.Fprintf(w, "  Count:      %d\n", r.count)
	fmt.Fprintf(w, "  Total time: %v\n", r.total.Round(time.Microsecond))
	fmt.Fprintf(w, "  Average:    %v\n", r.avg.Round(time.Microsecond))
	fmt.Fprintf(w, "  Minimum:    %v\n", r.min.Round(time.Microsecond))
	fmt.Fprintf(w, "  Maximum:    %v\n", r.max.Round(time.Microsecond))
	fmt.Fprintf(w, "  Rate:       %.2f handshakes/sec\n\n", float64(r.count)/r.total.Seconds())
}

type throughputResult struct {
	sent, received int64
	frames         int
	duration       time.Duration
}

// benchThroughput pushes total bytes through one channel in frames of
// chunk bytes. The clock stops when the receiver has seen every byte.
func benchThroughput(cfg tunnel.Config, total int64, chunk int) (throughputResult, error) {
	if chunk <= 0 || chunk > cfg.MaxFrameSize/2 {
		return throughputResult{}, fmt.Errorf("chunk size must be between 1 and %d bytes", cfg.MaxFrameSize/2)
	}

	ln, err := tunnel.Listen("tcp", "127.0.0.1:0", cfg)
	if err != nil {
		return throughputResult{}, err
	}
	defer ln.Close()

	ctx := context.Background()
	var res throughputResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ch, err := ln.Accept(gctx)
		if err != nil {
			return err
		}
		defer ch.Close()
		for res.received < total {
			data, err := ch.Read()
			if err != nil {
				return err
			}
			res.received += int64(len(data))
		}
		return nil
	})

	client, err := tunnel.Dial(gctx, "tcp", ln.Addr().String(), cfg)
	if err != nil {
		_ = ln.Close()
		_ = g.Wait()
		return throughputResult{}, err
	}
	defer client.Close()

	payload := make([]byte, chunk)
	for i := range payload {
		payload[i] = byte(i)
	}

	start := time.Now()
	for res.sent < total {
		p := payload
		if rest := total - res.sent; rest < int64(len(p)) {
			p = p[:rest]
		}
		if err := client.Write(p); err != nil {
			_ = client.Close()
			_ = g.Wait()
			return throughputResult{}, err
		}
		res.sent += int64(len(p))
		res.frames++
	}
	if err := g.Wait(); err != nil {
		return throughputResult{}, err
	}
	res.duration = time.Since(start)
	return res, nil
}

func (r throughputResult) print(w io.Writer) {
	fmt.Fprintln(w, "Throughput")
	fmt.Fprintln(w, strings.Repeat("─", 60))
	fmt.Fprintf(w, "  Sent:     %s in %d frames\n", formatSize(r.sent), r.frames)
	fmt.Fprintf(w, "  Received: %s\n", formatSize(r.received))
	fmt.Fprintf(w, "  Duration: %v\n", r.duration.Round(time.Millisecond))
	if r.duration > 0 {
		mbps := float64(r.received) / r.duration.Seconds() / 1024 / 1024
		fmt.Fprintf(w, "  Rate:     %.2f MB/s (%.2f Mbps)\n", mbps, mbps*8)
	}
}

// parseSize reads sizes such as "512", "64KB" or "1G".
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	digits, unit := s, ""
	if i >= 0 {
		digits, unit = s[:i], strings.ToUpper(s[i:])
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	switch unit {
	case "", "B":
		return value, nil
	case "K", "KB":
		return value << 10, nil
	case "M", "MB":
		return value << 20, nil
	case "G", "GB":
		return value << 30, nil
	default:
		return 0, fmt.Errorf("invalid size unit %q", unit)
	}
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.2f %s", float64(bytes)/float64(div), units[exp])
}
