package kem

import (
	"github.com/cloudflare/circl/kem/kyber/kyber1024"

	"github.com/sara-star-quant/pqlink/internal/constants"
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
	"github.com/sara-star-quant/pqlink/pkg/crypto"
)

// kyber1024Scheme is round-3 Kyber1024 through CIRCL's generic kem.Scheme.
// It interoperates with peers that predate FIPS 203. Seeds come from
// crypto.Reader so CIRCL never reads randomness on its own.
type kyber1024Scheme struct{}

func (kyber1024Scheme) ID() ID              { return Kyber1024 }
func (kyber1024Scheme) Name() string        { return "Kyber1024" }
func (kyber1024Scheme) PublicKeySize() int  { return constants.MLKEMPublicKeySize }
func (kyber1024Scheme) CiphertextSize() int { return constants.MLKEMCiphertextSize }

func (s kyber1024Scheme) GenerateKeyPair() (KeyPair, error) {
	scheme := kyber1024.Scheme()

	seed, err := crypto.SecureRandomBytes(scheme.SeedSize())
	if err != nil {
		return nil, keyGenError(s.Name(), err)
	}

	pk, _ := scheme.DeriveKeyPair(seed)
	public, err := pk.MarshalBinary()
	if err != nil {
		crypto.Zeroize(seed)
		return nil, keyGenError(s.Name(), err)
	}
	return &kyber1024KeyPair{seed: seed, public: public}, nil
}

func (kyber1024Scheme) Encapsulate(publicKey []byte) ([]byte, []byte, error) {
	scheme := kyber1024.Scheme()
	if err := checkSize(len(publicKey), scheme.PublicKeySize(), qerrors.ErrInvalidPublicKey); err != nil {
		return nil, nil, err
	}

	pk, err := scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("Kyber1024.Encapsulate", qerrors.ErrInvalidPublicKey)
	}

	seed, err := crypto.SecureRandomBytes(scheme.EncapsulationSeedSize())
	if err != nil {
		return nil, nil, err
	}
	defer crypto.Zeroize(seed)

	ct, ss, err := scheme.EncapsulateDeterministically(pk, seed)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("Kyber1024.Encapsulate", err)
	}
	return ct, ss, nil
}

// kyber1024KeyPair keeps the private key as its derivation seed and expands
// it only while decapsulating.
type kyber1024KeyPair struct {
	seed   []byte
	public []byte
}

func (k *kyber1024KeyPair) PublicKey() []byte { return k.public }

func (k *kyber1024KeyPair) Decapsulate(ciphertext []byte) ([]byte, error) {
	if k.seed == nil {
		return nil, qerrors.NewCryptoError("Kyber1024.Decapsulate", qerrors.ErrKeyMaterialInvalid)
	}
	if err := checkSize(len(ciphertext), constants.MLKEMCiphertextSize, qerrors.ErrInvalidCiphertext); err != nil {
		return nil, err
	}

	scheme := kyber1024.Scheme()
	_, sk := scheme.DeriveKeyPair(k.seed)
	ss, err := scheme.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, qerrors.NewCryptoError("Kyber1024.Decapsulate", err)
	}
	return ss, nil
}

func (k *kyber1024KeyPair) Zeroize() {
	crypto.Zeroize(k.seed)
	k.seed = nil
}
