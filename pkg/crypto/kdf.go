// kdf.go implements key derivation using SHAKE-256 (SHA-3 XOF).
//
// SHAKE-256 (FIPS 202) is an extendable-output function based on the Keccak
// sponge construction. Every input is length-prefixed with a 4-byte big-endian
// integer so that concatenations can never be parsed two ways.
//
// Usage in pqlink:
//
//	session_key = SHAKE-256("pqlink-v1-session" || secret || transcript_hash, 256)
//	confirm     = SHAKE-256("pqlink-v1-confirm" || session_key || transcript_hash, 256)
//	hybrid      = SHAKE-256("pqlink-v1-hybrid-secret" || K_x25519 || K_mlkem || transcript_hash, 256)
package crypto

import (
	"encoding/binary"
	"io"

	"golang.org/x/crypto/sha3"

	"github.com/sara-star-quant/pqlink/internal/constants"
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
)

// maxDerivedOutput caps a single derivation at 1 MiB.
const maxDerivedOutput = 1 << 20

// DeriveKey derives a key using SHAKE-256 with domain separation.
//
// The derivation follows the construction:
//
//	output = SHAKE-256(
//	    domain_separator_length || domain_separator ||
//	    input_length || input,
//	    output_length
//	)
func DeriveKey(domain string, input []byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 || outputLen > maxDerivedOutput {
		return nil, qerrors.NewCryptoError("DeriveKey", qerrors.ErrKeyMaterialInvalid)
	}

	h := sha3.NewShake256()
	writePrefixed(h, []byte(domain))
	writePrefixed(h, input)

	output := make([]byte, outputLen)
	_, _ = h.Read(output) // SHAKE256.Read never fails

	return output, nil
}

// DeriveKeyMultiple derives a key from multiple inputs with domain separation.
// The number of inputs is absorbed before the inputs themselves.
func DeriveKeyMultiple(domain string, inputs [][]byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 || outputLen > maxDerivedOutput {
		return nil, qerrors.NewCryptoError("DeriveKeyMultiple", qerrors.ErrKeyMaterialInvalid)
	}

	h := sha3.NewShake256()
	writePrefixed(h, []byte(domain))

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(inputs)))
	h.Write(lenBuf[:])

	for _, input := range inputs {
		writePrefixed(h, input)
	}

	output := make([]byte, outputLen)
	_, _ = h.Read(output) // SHAKE256.Read never fails

	return output, nil
}

// TranscriptHash computes a SHA3-256 hash over the ordered handshake
// transcript. Changing, reordering or re-splitting any component changes the
// hash.
func TranscriptHash(components ...[]byte) []byte {
	h := sha3.New256()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(components)))
	h.Write(lenBuf[:])

	for _, component := range components {
		writePrefixed(h, component)
	}

	return h.Sum(nil)
}

// DeriveSessionKey derives the 32-byte channel session key from a KEM shared
// secret and the handshake transcript hash. Both peers compute the same value
// from the same inputs.
func DeriveSessionKey(secret, transcriptHash []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, qerrors.NewCryptoError("DeriveSessionKey", qerrors.ErrKeyMaterialInvalid)
	}
	if len(transcriptHash) != constants.TranscriptHashSize {
		return nil, qerrors.NewCryptoError("DeriveSessionKey", qerrors.ErrKeyMaterialInvalid)
	}

	return DeriveKeyMultiple(
		constants.DomainSeparatorSession,
		[][]byte{secret, transcriptHash},
		constants.SessionKeySize,
	)
}

// DeriveConfirmation derives the key-confirmation value the Responder sends
// once it holds the session key.
func DeriveConfirmation(sessionKey, transcriptHash []byte) ([]byte, error) {
	if len(sessionKey) != constants.SessionKeySize {
		return nil, qerrors.NewCryptoError("DeriveConfirmation", qerrors.ErrKeyMaterialInvalid)
	}

	return DeriveKeyMultiple(
		constants.DomainSeparatorConfirm,
		[][]byte{sessionKey, transcriptHash},
		constants.KDFOutputSize,
	)
}

// DeriveHybridSecret combines an X25519 and an ML-KEM shared secret into one.
//
// If EITHER input secret is unknown to an attacker the output is
// indistinguishable from random (random oracle model for SHAKE-256).
func DeriveHybridSecret(x25519Secret, mlkemSecret, transcriptHash []byte) ([]byte, error) {
	if len(x25519Secret) != constants.X25519SharedSecretSize {
		return nil, qerrors.NewCryptoError("DeriveHybridSecret", qerrors.ErrKeyMaterialInvalid)
	}
	if len(mlkemSecret) != constants.MLKEMSharedSecretSize {
		return nil, qerrors.NewCryptoError("DeriveHybridSecret", qerrors.ErrKeyMaterialInvalid)
	}
	if len(transcriptHash) != constants.TranscriptHashSize {
		return nil, qerrors.NewCryptoError("DeriveHybridSecret", qerrors.ErrKeyMaterialInvalid)
	}

	return DeriveKeyMultiple(
		constants.DomainSeparatorHybrid,
		[][]byte{x25519Secret, mlkemSecret, transcriptHash},
		constants.KDFOutputSize,
	)
}

func writePrefixed(w io.Writer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	w.Write(lenBuf[:])
	w.Write(b)
}
