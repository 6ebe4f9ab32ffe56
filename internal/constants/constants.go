// Package constants defines security parameters and wire-format constants for the
// pqlink secure channel.
//
// Security Level: NIST Category 5 for the default KEM (ML-KEM-1024) and AES-256 for
// the symmetric layer.
package constants

// Protocol version and identification
const (
	// ProtocolName is used for domain separation in key derivation
	ProtocolName = "pqlink-v1"

	// HandshakeMagic opens every Hello message
	HandshakeMagic = "PQL1"
)

// ML-KEM-1024 Parameters (NIST FIPS 203)
// These parameters provide NIST Category 5 security (~256-bit post-quantum security)
const (
	// MLKEMPublicKeySize is the size of ML-KEM-1024 encapsulation key in bytes
	MLKEMPublicKeySize = 1568

	// MLKEMPrivateKeySize is the size of ML-KEM-1024 decapsulation key in bytes
	MLKEMPrivateKeySize = 3168

	// MLKEMCiphertextSize is the size of ML-KEM-1024 ciphertext in bytes
	MLKEMCiphertextSize = 1568

	// MLKEMSharedSecretSize is the size of the shared secret from ML-KEM in bytes
	MLKEMSharedSecretSize = 32
)

// ML-KEM-768 Parameters (NIST FIPS 203, Category 3)
const (
	MLKEM768PublicKeySize  = 1184
	MLKEM768CiphertextSize = 1088
)

// X25519 Parameters (RFC 7748)
const (
	// X25519PublicKeySize is the size of X25519 public key in bytes
	X25519PublicKeySize = 32

	// X25519PrivateKeySize is the size of X25519 private key in bytes
	X25519PrivateKeySize = 32

	// X25519SharedSecretSize is the size of the X25519 shared secret in bytes
	X25519SharedSecretSize = 32
)

// Hybrid X25519 + ML-KEM-1024 sizes
const (
	HybridPublicKeySize  = X25519PublicKeySize + MLKEMPublicKeySize
	HybridCiphertextSize = X25519PublicKeySize + MLKEMCiphertextSize
)

// Symmetric Encryption Parameters (AES-256-CBC)
const (
	// SessionKeySize is the size of the channel session key (AES-256)
	SessionKeySize = 32

	// IVSize is the CBC initialization vector size
	IVSize = 16

	// BlockSize is the AES block size
	BlockSize = 16
)

// Digest Parameters (SHA3-256)
const (
	// DigestSize is the size of a SHA3-256 digest and of the keyed frame tag
	DigestSize = 32

	// DigestChunkSize is the read size used when hashing streams
	DigestChunkSize = 4096
)

// Key Derivation Parameters (SHAKE-256)
const (
	// KDFOutputSize is the default output size for key derivation in bytes
	KDFOutputSize = 32

	// TranscriptHashSize is the size of the handshake transcript hash in bytes
	TranscriptHashSize = 32

	// DomainSeparatorHybrid is used in hybrid KEM secret combination
	DomainSeparatorHybrid = "pqlink-v1-hybrid-secret"

	// DomainSeparatorSession is used to derive the session key
	DomainSeparatorSession = "pqlink-v1-session"

	// DomainSeparatorConfirm is used for the responder's key confirmation
	DomainSeparatorConfirm = "pqlink-v1-confirm"

	// DomainSeparatorTag is the HKDF info for the keyed frame tag
	DomainSeparatorTag = "pqlink-v1-frame-tag"
)

// Frame layout
//
//	+--------+------+-------------+--------+------+------------+
//	| Length | Type | [Filename]  | Digest | IV   | Ciphertext |
//	| 8B BE  | 1B   | 256B (file) | 32B    | 16B  | variable   |
//	+--------+------+-------------+--------+------+------------+
const (
	// LengthPrefixSize is the size of the frame and record length prefix
	LengthPrefixSize = 8

	// TypeTagSize is the size of the frame type tag
	TypeTagSize = 1

	// FilenameSize is the fixed, NUL-padded filename field of file frames
	FilenameSize = 256

	// MinCiphertextSize is the smallest CBC output: an empty plaintext plus its
	// digest plus one full padding block
	MinCiphertextSize = DigestSize + BlockSize

	// MinStreamFrameBody is the smallest valid body of a Stream frame
	MinStreamFrameBody = TypeTagSize + DigestSize + IVSize + MinCiphertextSize

	// MinFileFrameBody is the smallest valid body of a FileStream frame
	MinFileFrameBody = MinStreamFrameBody + FilenameSize
)

// Message Size Limits
const (
	// DefaultMaxFrameSize bounds the declared body length of a data frame
	DefaultMaxFrameSize = 64 << 20

	// MaxRecordSize bounds handshake records
	MaxRecordSize = 16 << 10
)

// FrameType identifies the kind of data frame.
type FrameType uint8

const (
	// FrameTypeStream carries an application message
	FrameTypeStream FrameType = 1

	// FrameTypeFileStream carries file contents plus a filename
	FrameTypeFileStream FrameType = 2
)

// String returns a human-readable name for the frame type
func (ft FrameType) String() string {
	switch ft {
	case FrameTypeStream:
		return "Stream"
	case FrameTypeFileStream:
		return "FileStream"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the frame type is known
func (ft FrameType) IsValid() bool {
	return ft == FrameTypeStream || ft == FrameTypeFileStream
}

// MinBodySize returns the minimum body length for the frame type, or 0 if unknown.
func (ft FrameType) MinBodySize() int {
	switch ft {
	case FrameTypeStream:
		return MinStreamFrameBody
	case FrameTypeFileStream:
		return MinFileFrameBody
	default:
		return 0
	}
}
