// mlkem.go wraps ML-KEM-1024 (NIST FIPS 203) from CIRCL.
//
// The security of ML-KEM rests on the Module Learning With Errors problem over
// R_q = Z_q[X]/(X^256 + 1), q = 3329, module rank k = 4 for ML-KEM-1024.
//
// Security Level: NIST Category 5
//
// Randomness is never drawn inside CIRCL. Key generation and encapsulation use
// the seeded entry points with seeds read from Reader.
//
// A private key is kept as its 64-byte seed and expanded only for the
// duration of a decapsulation, so Zeroize can overwrite everything the key
// pair owns.
package crypto

import (
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"

	"github.com/sara-star-quant/pqlink/internal/constants"
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
)

// MLKEMSeedSize is the size of the seed accepted by NewMLKEMKeyPairFromSeed.
const MLKEMSeedSize = mlkem1024.KeySeedSize

// MLKEMPublicKey wraps an ML-KEM-1024 encapsulation key
type MLKEMPublicKey struct {
	key *mlkem1024.PublicKey
}

// MLKEMPrivateKey holds the seed of an ML-KEM-1024 decapsulation key.
type MLKEMPrivateKey struct {
	seed []byte
}

// MLKEMKeyPair represents an ML-KEM-1024 key pair.
type MLKEMKeyPair struct {
	// EncapsulationKey is the public key sent to the peer
	EncapsulationKey *MLKEMPublicKey

	// DecapsulationKey is the private key used to recover secrets
	DecapsulationKey *MLKEMPrivateKey
}

// GenerateMLKEMKeyPair generates a new ML-KEM-1024 key pair from a fresh
// 64-byte seed.
func GenerateMLKEMKeyPair() (*MLKEMKeyPair, error) {
	seed, err := SecureRandomBytes(MLKEMSeedSize)
	if err != nil {
		return nil, qerrors.NewCryptoError("MLKEMKeyPair.Generate", err)
	}
	defer Zeroize(seed)

	return NewMLKEMKeyPairFromSeed(seed)
}

// NewMLKEMKeyPairFromSeed derives an ML-KEM-1024 key pair from a 64-byte seed.
// The same seed always produces the same key pair.
func NewMLKEMKeyPairFromSeed(seed []byte) (*MLKEMKeyPair, error) {
	if len(seed) != MLKEMSeedSize {
		return nil, qerrors.NewCryptoError("MLKEMKeyPair.FromSeed", qerrors.ErrKeyMaterialInvalid)
	}

	pk, _ := mlkem1024.NewKeyFromSeed(seed)

	return &MLKEMKeyPair{
		EncapsulationKey: &MLKEMPublicKey{key: pk},
		DecapsulationKey: &MLKEMPrivateKey{seed: append([]byte(nil), seed...)},
	}, nil
}

// MLKEMEncapsulate encapsulates a fresh shared secret to ek.
//
// Returns the 1568-byte ciphertext and the 32-byte shared secret.
func MLKEMEncapsulate(ek *MLKEMPublicKey) (ciphertext, sharedSecret []byte, err error) {
	if ek == nil || ek.key == nil {
		return nil, nil, qerrors.ErrInvalidPublicKey
	}

	seed, err := SecureRandomBytes(mlkem1024.EncapsulationSeedSize)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("MLKEMEncapsulate", err)
	}
	defer Zeroize(seed)

	ct := make([]byte, mlkem1024.CiphertextSize)
	ss := make([]byte, mlkem1024.SharedKeySize)
	ek.key.EncapsulateTo(ct, ss, seed)

	return ct, ss, nil
}

// MLKEMDecapsulate recovers the shared secret from a ciphertext.
//
// ML-KEM uses implicit rejection: a well-sized but tampered ciphertext yields
// a pseudorandom secret rather than an error, so tampering surfaces later as a
// key mismatch.
func MLKEMDecapsulate(dk *MLKEMPrivateKey, ciphertext []byte) ([]byte, error) {
	if dk == nil || len(dk.seed) != MLKEMSeedSize {
		return nil, qerrors.NewCryptoError("MLKEMDecapsulate", qerrors.ErrKeyMaterialInvalid)
	}
	if len(ciphertext) != constants.MLKEMCiphertextSize {
		return nil, qerrors.ErrInvalidCiphertext
	}

	_, sk := mlkem1024.NewKeyFromSeed(dk.seed)
	ss := make([]byte, mlkem1024.SharedKeySize)
	sk.DecapsulateTo(ss, ciphertext)

	return ss, nil
}

// Bytes returns the encoded bytes of the public key.
func (pk *MLKEMPublicKey) Bytes() []byte {
	if pk == nil || pk.key == nil {
		return nil
	}
	buf := make([]byte, mlkem1024.PublicKeySize)
	pk.key.Pack(buf)
	return buf
}

// PublicKeyBytes returns the encoded bytes of the encapsulation key.
func (kp *MLKEMKeyPair) PublicKeyBytes() []byte {
	return kp.EncapsulationKey.Bytes()
}

// ParseMLKEMPublicKey parses an ML-KEM-1024 public key from its encoded form.
func ParseMLKEMPublicKey(data []byte) (*MLKEMPublicKey, error) {
	if len(data) != constants.MLKEMPublicKeySize {
		return nil, qerrors.ErrInvalidPublicKey
	}

	pk := new(mlkem1024.PublicKey)
	if err := pk.Unpack(data); err != nil {
		return nil, qerrors.NewCryptoError("ParseMLKEMPublicKey", qerrors.ErrInvalidPublicKey)
	}

	return &MLKEMPublicKey{key: pk}, nil
}

// Zeroize overwrites the private key seed. Decapsulation with this key
// fails afterwards.
func (dk *MLKEMPrivateKey) Zeroize() {
	if dk == nil {
		return
	}
	Zeroize(dk.seed)
	dk.seed = nil
}

// Zeroize erases the private key and drops the public key.
func (kp *MLKEMKeyPair) Zeroize() {
	kp.DecapsulationKey.Zeroize()
	kp.DecapsulationKey = nil
	kp.EncapsulationKey = nil
}
