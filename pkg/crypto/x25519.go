// x25519.go implements the X25519 (RFC 7748) half of the hybrid KEM.
//
// X25519 is NOT quantum-resistant. In the hybrid provider it keeps the channel
// secure against classical attackers should ML-KEM ever be broken.
package crypto

import (
	"crypto/ecdh"

	"github.com/sara-star-quant/pqlink/internal/constants"
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
)

// X25519KeyPair represents an X25519 key pair for classical ECDH.
type X25519KeyPair struct {
	PublicKey  *ecdh.PublicKey
	PrivateKey *ecdh.PrivateKey
}

// GenerateX25519KeyPair generates a new X25519 key pair from Reader.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	privateKey, err := ecdh.X25519().GenerateKey(Reader)
	if err != nil {
		return nil, qerrors.NewCryptoError("X25519KeyPair.Generate", err)
	}

	return &X25519KeyPair{
		PublicKey:  privateKey.PublicKey(),
		PrivateKey: privateKey,
	}, nil
}

// X25519 computes the Diffie-Hellman shared secret. The result must only be
// used as KDF input.
func X25519(privateKey *ecdh.PrivateKey, peerPublic *ecdh.PublicKey) ([]byte, error) {
	if privateKey == nil {
		return nil, qerrors.NewCryptoError("X25519", qerrors.ErrKeyMaterialInvalid)
	}
	if peerPublic == nil {
		return nil, qerrors.ErrInvalidPublicKey
	}

	sharedSecret, err := privateKey.ECDH(peerPublic)
	if err != nil {
		// Low-order points produce an all-zero secret and are rejected here.
		return nil, qerrors.NewCryptoError("X25519", qerrors.ErrInvalidPublicKey)
	}

	return sharedSecret, nil
}

// PublicKeyBytes returns the encoded bytes of the public key.
func (kp *X25519KeyPair) PublicKeyBytes() []byte {
	return kp.PublicKey.Bytes()
}

// ParseX25519PublicKey parses an X25519 public key from its encoded form.
func ParseX25519PublicKey(data []byte) (*ecdh.PublicKey, error) {
	if len(data) != constants.X25519PublicKeySize {
		return nil, qerrors.ErrInvalidPublicKey
	}

	publicKey, err := ecdh.X25519().NewPublicKey(data)
	if err != nil {
		return nil, qerrors.NewCryptoError("ParseX25519PublicKey", qerrors.ErrInvalidPublicKey)
	}

	return publicKey, nil
}

// Zeroize drops the key pair's references to its key material. This is
// best effort: ecdh.PrivateKey keeps its scalar in a buffer that cannot be
// reached for overwriting, so it is left to the garbage collector.
func (kp *X25519KeyPair) Zeroize() {
	kp.PrivateKey = nil
	kp.PublicKey = nil
}
