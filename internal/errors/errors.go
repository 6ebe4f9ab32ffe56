// Package errors defines the error taxonomy of the pqlink secure channel.
//
// Errors are organised in two layers. Class sentinels (ErrKeyGeneration,
// ErrHandshake, ErrTransmission, ErrIntegrity, ErrCrypto) answer "what kind of
// failure was this" and are what callers usually test with errors.Is. Detail
// sentinels (ErrIntegrityMismatch, ErrPaddingInvalid, ...) identify the precise
// cause. The wrapping structs below carry both at once, so that
//
//	errors.Is(err, ErrIntegrity) && errors.Is(err, ErrIntegrityMismatch)
//
// can both hold for the same value. Error messages never include key material
// or plaintext.
package errors

import (
	"errors"
	"fmt"
)

// Error classes
var (
	// ErrKeyGeneration indicates the KEM backend could not produce key material
	ErrKeyGeneration = errors.New("pqlink: key generation error")

	// ErrHandshake indicates a protocol-step failure during key agreement
	ErrHandshake = errors.New("pqlink: handshake error")

	// ErrTransmission indicates a transport read or write failure
	ErrTransmission = errors.New("pqlink: transmission error")

	// ErrIntegrity indicates a received frame failed its digest check
	ErrIntegrity = errors.New("pqlink: integrity error")

	// ErrCrypto indicates a symmetric cipher failure
	ErrCrypto = errors.New("pqlink: crypto error")
)

// Sentinel errors for cryptographic operations
var (
	// ErrIntegrityMismatch indicates a digest or tag did not match its data
	ErrIntegrityMismatch = errors.New("crypto: integrity mismatch")

	// ErrPaddingInvalid indicates PKCS#7 padding could not be removed
	ErrPaddingInvalid = errors.New("crypto: invalid padding")

	// ErrKeyMaterialInvalid indicates a key or IV has an incorrect size
	ErrKeyMaterialInvalid = errors.New("crypto: invalid key material")

	// ErrSelfTestFailed indicates a known-answer self-test did not match
	ErrSelfTestFailed = errors.New("crypto: self-test failed")
)

// Sentinel errors for KEM operations
var (
	// ErrUnsupportedAlgorithm indicates an unknown or disagreeing KEM algorithm
	ErrUnsupportedAlgorithm = errors.New("kem: unsupported algorithm")

	// ErrInvalidPublicKey indicates that a public key is invalid
	ErrInvalidPublicKey = errors.New("kem: invalid public key")

	// ErrInvalidCiphertext indicates that a KEM ciphertext is malformed
	ErrInvalidCiphertext = errors.New("kem: invalid ciphertext")
)

// Sentinel errors for protocol operations
var (
	// ErrMalformedFrame indicates a frame or record could not be parsed
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrInvalidMessage indicates a handshake message is malformed
	ErrInvalidMessage = errors.New("protocol: invalid message")

	// ErrUnsupportedVersion indicates an unsupported protocol version
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")

	// ErrMessageTooLarge indicates a frame exceeds the configured maximum size
	ErrMessageTooLarge = errors.New("protocol: message too large")

	// ErrFilenameTooLong indicates a filename does not fit the filename field
	ErrFilenameTooLong = errors.New("protocol: filename too long")

	// ErrRoleMismatch indicates both peers claimed the same handshake role
	ErrRoleMismatch = errors.New("protocol: role mismatch")

	// ErrInvalidState indicates an operation was called in the wrong state
	ErrInvalidState = errors.New("protocol: invalid state")
)

// Sentinel errors for channel operations
var (
	// ErrChannelFaulted indicates the channel previously failed and is unusable
	ErrChannelFaulted = errors.New("channel: faulted")

	// ErrChannelClosed indicates the channel has been closed
	ErrChannelClosed = errors.New("channel: closed")

	// ErrRateLimited indicates a listener refused a peer because of a rate limit
	ErrRateLimited = errors.New("channel: rate limited")
)

// Sentinel errors for channel pools
var (
	// ErrPoolClosed indicates the pool has been closed
	ErrPoolClosed = errors.New("pool: closed")

	// ErrPoolExhausted indicates every channel the pool may lend is in use
	ErrPoolExhausted = errors.New("pool: exhausted")

	// ErrChannelReleased indicates a pooled channel was used after Release
	ErrChannelReleased = errors.New("pool: channel already released")
)

// CryptoError wraps a cryptographic error with additional context.
// It matches ErrCrypto, and also ErrIntegrity when the cause is an integrity
// mismatch.
type CryptoError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// Is reports whether the error belongs to the crypto class.
func (e *CryptoError) Is(target error) bool {
	if target == ErrCrypto {
		return true
	}
	return target == ErrIntegrity && errors.Is(e.Err, ErrIntegrityMismatch)
}

// NewCryptoError creates a new CryptoError
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// ParseError reports a frame that could not be decoded. Its cause is either
// ErrIntegrityMismatch, in which case it also matches ErrIntegrity, or a
// malformed-frame sentinel.
type ParseError struct {
	Op  string // Decoding step that failed
	Err error  // Underlying error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is reports whether a digest mismatch should be treated as an integrity error.
func (e *ParseError) Is(target error) bool {
	return target == ErrIntegrity && errors.Is(e.Err, ErrIntegrityMismatch)
}

// IsMalformed reports whether the frame was structurally invalid.
func (e *ParseError) IsMalformed() bool {
	return !errors.Is(e.Err, ErrIntegrityMismatch)
}

// NewParseError creates a new ParseError
func NewParseError(op string, err error) *ParseError {
	return &ParseError{Op: op, Err: err}
}

// ChannelError is returned by channel operations. Class is one of the class
// sentinels and Err the underlying cause; errors.Is matches either.
type ChannelError struct {
	Class error  // Error class sentinel
	Op    string // Channel operation (e.g., "handshake", "read")
	Err   error  // Underlying error
}

func (e *ChannelError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Class, e.Err)
}

func (e *ChannelError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Err}
}

// NewChannelError creates a new ChannelError
func NewChannelError(class error, op string, err error) *ChannelError {
	return &ChannelError{Class: class, Op: op, Err: err}
}

// Classify returns the class sentinel that err belongs to, or nil if it
// carries none. Integrity is checked before crypto because a decrypted
// digest mismatch belongs to both.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, class := range []error{ErrIntegrity, ErrKeyGeneration, ErrHandshake, ErrTransmission, ErrCrypto} {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
