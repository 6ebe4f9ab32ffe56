package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sara-star-quant/pqlink/internal/constants"
	"github.com/sara-star-quant/pqlink/pkg/kem"
	"github.com/sara-star-quant/pqlink/pkg/tunnel"
)

// envPrefix namespaces environment overrides: PQLINK_ADDR, PQLINK_LOG_LEVEL.
const envPrefix = "PQLINK"

// cliConfig is the command-line configuration, merged from defaults, a YAML
// file, the environment and flags.
type cliConfig struct {
	Addr             string          `mapstructure:"addr" yaml:"addr"`
	Transport        string          `mapstructure:"transport" yaml:"transport"`
	Algorithm        string          `mapstructure:"algorithm" yaml:"algorithm"`
	Authenticate     bool            `mapstructure:"authenticate" yaml:"authenticate"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	ReadTimeout      time.Duration   `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout     time.Duration   `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxFrameSize     int             `mapstructure:"max_frame_size" yaml:"max_frame_size"`
	OutDir           string          `mapstructure:"out_dir" yaml:"out_dir"`
	MetricsAddr      string          `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	Tracing          string          `mapstructure:"tracing" yaml:"tracing"`
	Log              logConfig       `mapstructure:"log" yaml:"log"`
	RateLimit        rateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

type logConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type rateLimitConfig struct {
	MaxConnectionsPerIP int     `mapstructure:"max_connections_per_ip" yaml:"max_connections_per_ip"`
	HandshakeRate       float64 `mapstructure:"handshake_rate" yaml:"handshake_rate"`
	HandshakeBurst      int     `mapstructure:"handshake_burst" yaml:"handshake_burst"`
}

func defaultCLIConfig() cliConfig {
	defaults := tunnel.DefaultConfig()
	return cliConfig{
		Addr:             "localhost:8443",
		Transport:        "tcp",
		Algorithm:        defaults.Algorithm.String(),
		HandshakeTimeout: defaults.HandshakeTimeout,
		ReadTimeout:      defaults.ReadTimeout,
		WriteTimeout:     defaults.WriteTimeout,
		MaxFrameSize:     defaults.MaxFrameSize,
		OutDir:           ".",
		Tracing:          "none",
		Log:              logConfig{Level: "info", Format: "text"},
	}
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"addr":              "addr",
	"transport":         "transport",
	"algorithm":         "algorithm",
	"authenticate":      "authenticate",
	"handshake-timeout": "handshake_timeout",
	"read-timeout":      "read_timeout",
	"write-timeout":     "write_timeout",
	"max-frame-size":    "max_frame_size",
	"out":               "out_dir",
	"metrics-addr":      "metrics_addr",
	"tracing":           "tracing",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"max-per-ip":        "rate_limit.max_connections_per_ip",
	"handshake-rate":    "rate_limit.handshake_rate",
	"handshake-burst":   "rate_limit.handshake_burst",
}

// registerConfigFlags adds the flags shared by every networked command and
// returns the --config flag. Flag defaults are informational only; unset
// flags never override the file or the environment.
func registerConfigFlags(fs *flag.FlagSet) *string {
	d := defaultCLIConfig()

	path := fs.String("config", "", "YAML configuration file")
	fs.String("addr", d.Addr, "Address to listen on or connect to")
	fs.String("transport", d.Transport, "Transport: tcp or quic")
	fs.String("algorithm", d.Algorithm, "KEM: see 'pqlink algorithms'")
	fs.Bool("authenticate", d.Authenticate, "Use keyed frame tags instead of plain digests")
	fs.Duration("handshake-timeout", d.HandshakeTimeout, "Handshake deadline")
	fs.Duration("read-timeout", d.ReadTimeout, "Per-frame read deadline (0 disables)")
	fs.Duration("write-timeout", d.WriteTimeout, "Per-frame write deadline (0 disables)")
	fs.Int("max-frame-size", d.MaxFrameSize, "Largest accepted frame body in bytes")
	fs.String("log-level", d.Log.Level, "Log level: debug, info, warn, error, silent")
	fs.String("log-format", d.Log.Format, "Log format: text or json")
	fs.String("tracing", d.Tracing, "Tracing mode: none, log, otel (requires -tags otel)")
	return path
}

// loadConfig merges defaults, the YAML file at path (if any), PQLINK_*
// environment variables and the flags set on fs, in increasing precedence.
func loadConfig(path string, fs *flag.FlagSet) (cliConfig, error) {
	v := viper.New()
	setDefaults(v, defaultCLIConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cliConfig{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if fs != nil {
		fs.Visit(func(f *flag.Flag) {
			if key, ok := flagKeys[f.Name]; ok {
				v.Set(key, f.Value.String())
			}
		})
	}

	var cfg cliConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cliConfig{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, cfg.validate()
}

func setDefaults(v *viper.Viper, d cliConfig) {
	v.SetDefault("addr", d.Addr)
	v.SetDefault("transport", d.Transport)
	v.SetDefault("algorithm", d.Algorithm)
	v.SetDefault("authenticate", d.Authenticate)
	v.SetDefault("handshake_timeout", d.HandshakeTimeout)
	v.SetDefault("read_timeout", d.ReadTimeout)
	v.SetDefault("write_timeout", d.WriteTimeout)
	v.SetDefault("max_frame_size", d.MaxFrameSize)
	v.SetDefault("out_dir", d.OutDir)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("tracing", d.Tracing)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("rate_limit.max_connections_per_ip", d.RateLimit.MaxConnectionsPerIP)
	v.SetDefault("rate_limit.handshake_rate", d.RateLimit.HandshakeRate)
	v.SetDefault("rate_limit.handshake_burst", d.RateLimit.HandshakeBurst)
}

func (c cliConfig) validate() error {
	switch c.Transport {
	case "tcp", "quic":
	default:
		return fmt.Errorf("invalid transport: %s (use tcp or quic)", c.Transport)
	}
	if _, err := kem.ParseID(c.Algorithm); err != nil {
		return err
	}
	if c.MaxFrameSize != 0 && c.MaxFrameSize < constants.MinFileFrameBody {
		return fmt.Errorf("max_frame_size must be at least %d", constants.MinFileFrameBody)
	}
	return nil
}

// tunnelConfig builds the channel configuration. Observers are attached by
// the caller.
func (c cliConfig) tunnelConfig() (tunnel.Config, error) {
	alg, err := kem.ParseID(c.Algorithm)
	if err != nil {
		return tunnel.Config{}, err
	}

	cfg := tunnel.DefaultConfig()
	cfg.Algorithm = alg
	cfg.Authenticate = c.Authenticate
	cfg.HandshakeTimeout = c.HandshakeTimeout
	cfg.ReadTimeout = c.ReadTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.MaxFrameSize = c.MaxFrameSize
	cfg.RateLimit = tunnel.RateLimitConfig{
		MaxConnectionsPerIP: c.RateLimit.MaxConnectionsPerIP,
		HandshakeRateLimit:  c.RateLimit.HandshakeRate,
		HandshakeBurst:      c.RateLimit.HandshakeBurst,
	}
	return cfg, cfg.Validate()
}

// marshalConfig renders cfg as a commented YAML document.
func marshalConfig(cfg cliConfig) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# pqlink configuration\n")
	buf.WriteString("# Every key may be overridden by a PQLINK_* environment variable,\n")
	buf.WriteString("# e.g. PQLINK_LOG_LEVEL=debug or PQLINK_RATE_LIMIT_HANDSHAKE_RATE=10.\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func genConfigCommand(args []string) error {
	fs := flag.NewFlagSet("genconfig", flag.ExitOnError)
	output := fs.String("o", "", "Write to this file instead of stdout")
	force := fs.Bool("force", false, "Overwrite an existing file")

	fs.Usage = func() {
		fmt.Println(`USAGE: pqlink genconfig [options]

Write the default configuration as YAML.

OPTIONS:`)
		fs.PrintDefaults()
	}

	_ = fs.Parse(args)

	data, err := marshalConfig(defaultCLIConfig())
	if err != nil {
		return err
	}

	if *output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if *force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(*output, flags, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("✓ Wrote %s\n", *output)
	return nil
}
