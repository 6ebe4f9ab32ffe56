package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sara-star-quant/pqlink/pkg/digest"
	"github.com/sara-star-quant/pqlink/pkg/tunnel"
)

func sendCommand(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	configPath := registerConfigFlags(fs)
	message := fs.String("message", "Hello from pqlink!", "Message to send; - sends each line of stdin")

	fs.Usage = func() {
		fmt.Println(`USAGE: pqlink send [options]

Open a channel as Initiator, send text messages and wait for each receipt.

OPTIONS:`)
		fs.PrintDefaults()
		fmt.Println(`
EXAMPLES:
    pqlink send --addr localhost:8443 --message "Test message"

    # One frame per line
    printf 'one\ntwo\n' | pqlink send --message -`)
	}

	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := openChannel(ctx, *configPath, fs)
	if err != nil {
		return err
	}
	defer ch.Close()

	if *message != "-" {
		return sendMessage(ch, []byte(*message))
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := sendMessage(ch, scanner.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func sendFileCommand(args []string) error {
	fs := flag.NewFlagSet("sendfile", flag.ExitOnError)
	configPath := registerConfigFlags(fs)

	fs.Usage = func() {
		fmt.Println(`USAGE: pqlink sendfile [options] FILE...

Open a channel as Initiator and send each file as one file frame carrying its
base name. Each file must fit in a single frame.

OPTIONS:`)
		fs.PrintDefaults()
		fmt.Println(`
EXAMPLES:
    pqlink sendfile --addr localhost:8443 report.pdf data.csv`)
	}

	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("no files given")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := openChannel(ctx, *configPath, fs)
	if err != nil {
		return err
	}
	defer ch.Close()

	for _, path := range fs.Args() {
		if err := sendFile(ch, path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

// openChannel loads configuration and dials the configured peer.
func openChannel(ctx context.Context, configPath string, fs *flag.FlagSet) (*tunnel.Channel, error) {
	cfg, err := loadConfig(configPath, fs)
	if err != nil {
		return nil, err
	}
	obs, err := setupObservability(cfg)
	if err != nil {
		return nil, err
	}
	tcfg, err := cfg.tunnelConfig()
	if err != nil {
		return nil, err
	}
	obs.attach(&tcfg)

	start := time.Now()
	var ch *tunnel.Channel
	if cfg.Transport == "quic" {
		ch, err = tunnel.DialQUIC(ctx, cfg.Addr, nil, tcfg)
	} else {
		ch, err = tunnel.Dial(ctx, "tcp", cfg.Addr, tcfg)
	}
	if err != nil {
		return nil, err
	}

	fmt.Printf("✓ Connected to %s (%s, handshake %v)\n", cfg.Addr, ch.Algorithm(), time.Since(start).Round(time.Millisecond))
	return ch, nil
}

func sendMessage(ch *tunnel.Channel, payload []byte) error {
	if err := exchange(ch, payload, func() error { return ch.Write(payload) }); err != nil {
		return err
	}
	fmt.Printf("✓ Sent %d bytes\n", len(payload))
	return nil
}

func sendFile(ch *tunnel.Channel, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)

	if err := exchange(ch, data, func() error { return ch.WriteFile(name, data) }); err != nil {
		return err
	}
	sum := digest.Sum(data)
	fmt.Printf("✓ Sent %s (%d bytes, sha3-256 %s)\n", name, len(data), hex.EncodeToString(sum[:]))
	return nil
}

// exchange runs write, then waits for the peer's receipt and checks it
// against payload.
func exchange(ch *tunnel.Channel, payload []byte, write func() error) error {
	if err := write(); err != nil {
		return err
	}
	receipt, err := ch.Read()
	if err != nil {
		return fmt.Errorf("waiting for receipt: %w", err)
	}
	if want := receiptFor(digest.Sum(payload)); string(receipt) != want {
		return fmt.Errorf("receipt mismatch: peer reported %q, want %q", receipt, want)
	}
	return nil
}
