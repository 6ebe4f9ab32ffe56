// Package crypto provides the cryptographic primitives of the pqlink secure
// channel: the AES-256-CBC cipher engine, the keyed frame tag, SHAKE-256 key
// derivation, the ML-KEM-1024 and X25519 wrappers used by the KEM providers,
// and the process-wide self-test run by Init.
//
// Security Note: all randomness is read from Reader, which defaults to
// crypto/rand and sources entropy from the operating system's CSPRNG.
package crypto

import (
	"crypto/rand"
	"io"

	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
)

// Reader is the source of every IV, KEM seed and ephemeral key generated by
// this package and the KEM providers.
var Reader io.Reader = rand.Reader

// SecureRandom fills b with bytes from Reader.
//
// This function will only return an error if the system's random number generator
// fails, which should be treated as a critical system failure.
func SecureRandom(b []byte) error {
	if _, err := io.ReadFull(Reader, b); err != nil {
		return qerrors.NewCryptoError("SecureRandom", err)
	}
	return nil
}

// SecureRandomBytes returns n cryptographically secure random bytes.
func SecureRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := SecureRandom(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Zeroize overwrites b with zeros.
//
// Note: The Go runtime may have already copied the data. Zeroize limits the
// lifetime of the copies this package controls.
func Zeroize(b []byte) {
	clear(b)
}

// ZeroizeMultiple securely erases multiple byte slices.
func ZeroizeMultiple(slices ...[]byte) {
	for _, s := range slices {
		Zeroize(s)
	}
}
