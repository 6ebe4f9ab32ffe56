package kem

import (
	"filippo.io/mlkem768"

	"github.com/sara-star-quant/pqlink/internal/constants"
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
	"github.com/sara-star-quant/pqlink/pkg/crypto"
)

// mlkem768Scheme is ML-KEM-768 (NIST category 3) through filippo.io/mlkem768.
// Key pairs derive from a seed read from crypto.Reader; encapsulation
// randomness is drawn by the library from crypto/rand.
type mlkem768Scheme struct{}

func (mlkem768Scheme) ID() ID              { return MLKEM768 }
func (mlkem768Scheme) Name() string        { return "ML-KEM-768" }
func (mlkem768Scheme) PublicKeySize() int  { return constants.MLKEM768PublicKeySize }
func (mlkem768Scheme) CiphertextSize() int { return constants.MLKEM768CiphertextSize }

func (s mlkem768Scheme) GenerateKeyPair() (KeyPair, error) {
	seed, err := crypto.SecureRandomBytes(mlkem768.SeedSize)
	if err != nil {
		return nil, keyGenError(s.Name(), err)
	}

	dk, err := mlkem768.NewKeyFromSeed(seed)
	if err != nil {
		crypto.Zeroize(seed)
		return nil, keyGenError(s.Name(), err)
	}
	return &mlkem768KeyPair{seed: seed, public: dk.EncapsulationKey()}, nil
}

func (mlkem768Scheme) Encapsulate(publicKey []byte) ([]byte, []byte, error) {
	if err := checkSize(len(publicKey), constants.MLKEM768PublicKeySize, qerrors.ErrInvalidPublicKey); err != nil {
		return nil, nil, err
	}

	ct, ss, err := mlkem768.Encapsulate(publicKey)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("ML-KEM-768.Encapsulate", qerrors.ErrInvalidPublicKey)
	}
	return ct, ss, nil
}

// mlkem768KeyPair keeps the private key as its seed and expands it only
// while decapsulating.
type mlkem768KeyPair struct {
	seed   []byte
	public []byte
}

func (k *mlkem768KeyPair) PublicKey() []byte { return k.public }

func (k *mlkem768KeyPair) Decapsulate(ciphertext []byte) ([]byte, error) {
	if k.seed == nil {
		return nil, qerrors.NewCryptoError("ML-KEM-768.Decapsulate", qerrors.ErrKeyMaterialInvalid)
	}
	if err := checkSize(len(ciphertext), constants.MLKEM768CiphertextSize, qerrors.ErrInvalidCiphertext); err != nil {
		return nil, err
	}

	dk, err := mlkem768.NewKeyFromSeed(k.seed)
	if err != nil {
		return nil, qerrors.NewCryptoError("ML-KEM-768.Decapsulate", err)
	}
	ss, err := mlkem768.Decapsulate(dk, ciphertext)
	if err != nil {
		return nil, qerrors.NewCryptoError("ML-KEM-768.Decapsulate", err)
	}
	return ss, nil
}

func (k *mlkem768KeyPair) Zeroize() {
	crypto.Zeroize(k.seed)
	k.seed = nil
}
