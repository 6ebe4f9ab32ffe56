// Package pqlink provides a point-to-point secure channel keyed by a
// post-quantum key encapsulation handshake.
//
// Two peers agree on a session key with ML-KEM (or a hybrid of ML-KEM and
// X25519), then exchange frames encrypted with AES-256-CBC. Every frame
// carries the SHA3-256 digest of its plaintext inside the ciphertext and the
// digest of the ciphertext in its header, so a single flipped bit is detected
// and the channel is faulted instead of returning corrupt data.
//
// # Quick Start
//
//	import "github.com/sara-star-quant/pqlink/pkg/tunnel"
//
//	// Responder
//	ln, _ := tunnel.Listen("tcp", ":8443", tunnel.DefaultConfig())
//	ch, _ := ln.Accept(ctx)
//	msg, _ := ch.ReadMessage()
//
//	// Initiator
//	ch, _ := tunnel.Dial(ctx, "tcp", "localhost:8443", tunnel.DefaultConfig())
//	_ = ch.WriteFile("report.pdf", data)
//
// Key encapsulation can be used on its own:
//
//	import "github.com/sara-star-quant/pqlink/pkg/kem"
//
//	scheme, _ := kem.Lookup(kem.MLKEM1024)
//	kp, _ := scheme.GenerateKeyPair()
//	ciphertext, secret, _ := scheme.Encapsulate(kp.PublicKey())
//	recovered, _ := kp.Decapsulate(ciphertext)
//
// # Package Structure
//
//   - pkg/kem: KEM schemes (ML-KEM-1024, ML-KEM-768, Kyber1024, X25519-ML-KEM-1024)
//   - pkg/digest: SHA3-256 digests of buffers, readers and files
//   - pkg/crypto: AES-256-CBC with PKCS#7 padding, key derivation, ML-KEM and X25519 primitives
//   - pkg/protocol: frame and handshake message encoding
//   - pkg/tunnel: channel state machine, TCP and QUIC transports, listener rate limits, channel pool
//   - pkg/metrics: structured logging, counters, Prometheus export, tracing and health checks
//   - internal/constants: sizes and protocol constants
//   - internal/errors: error classes shared by every package
//
// # Errors
//
// Every failure is classified as one of ErrKeyGeneration, ErrHandshake,
// ErrTransmission, ErrIntegrity or ErrCrypto and can be tested with
// errors.Is. Integrity and crypto failures move the channel to Faulted.
//
// # Command Line
//
// cmd/pqlink listens for channels, sends messages and files, and benchmarks
// handshakes:
//
//	pqlink listen --addr :8443 --out ./inbox
//	pqlink sendfile --addr localhost:8443 report.pdf
package pqlink
