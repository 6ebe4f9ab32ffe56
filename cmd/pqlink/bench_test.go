package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sara-star-quant/pqlink/pkg/kem"
	"github.com/sara-star-quant/pqlink/pkg/tunnel"
)

func TestBenchHandshakes(t *testing.T) {
	cfg := quietConfig()
	cfg.Algorithm = kem.MLKEM768

	res, err := benchHandshakes(cfg, 3)
	require.NoError(t, err)
	require.Equal(t, 3, res.count)
	require.LessOrEqual(t, res.min, res.max)
	require.Positive(t, res.avg)

	var out bytes.Buffer
	res.print(&out, cfg.Algorithm)
	require.Contains(t, out.String(), "Handshakes (ML-KEM-768)")
}

func TestBenchThroughput(t *testing.T) {
	res, err := benchThroughput(quietConfig(), 100_000, 4096)
	require.NoError(t, err)
	require.EqualValues(t, 100_000, res.sent)
	require.EqualValues(t, 100_000, res.received)
	require.Equal(t, 25, res.frames)

	_, err = benchThroughput(quietConfig(), 10, 0)
	require.Error(t, err)
	_, err = benchThroughput(tunnel.DefaultConfig(), 10, tunnel.DefaultConfig().MaxFrameSize)
	require.Error(t, err)
}

func TestParseSize(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int64
	}{
		{"512", 512},
		{"12B", 12},
		{"64KB", 64 << 10},
		{"64kb", 64 << 10},
		{"3M", 3 << 20},
		{"1GB", 1 << 30},
	} {
		got, err := parseSize(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}

	for _, in := range []string{"", "MB", "10XB", "-1"} {
		_, err := parseSize(in)
		require.Error(t, err, in)
	}

	require.Equal(t, "512 B", formatSize(512))
	require.Equal(t, "1.50 KB", formatSize(1536))
	require.Equal(t, "2.00 MB", formatSize(2<<20))
}
