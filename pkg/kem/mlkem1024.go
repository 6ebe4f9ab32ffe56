package kem

import (
	"github.com/sara-star-quant/pqlink/internal/constants"
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
	"github.com/sara-star-quant/pqlink/pkg/crypto"
)

// mlkem1024Scheme is ML-KEM-1024 (FIPS 203) through the crypto package's CIRCL
// wrapper.
type mlkem1024Scheme struct{}

func (mlkem1024Scheme) ID() ID              { return MLKEM1024 }
func (mlkem1024Scheme) Name() string        { return "ML-KEM-1024" }
func (mlkem1024Scheme) PublicKeySize() int  { return constants.MLKEMPublicKeySize }
func (mlkem1024Scheme) CiphertextSize() int { return constants.MLKEMCiphertextSize }

func (s mlkem1024Scheme) GenerateKeyPair() (KeyPair, error) {
	kp, err := crypto.GenerateMLKEMKeyPair()
	if err != nil {
		return nil, keyGenError(s.Name(), err)
	}
	return &mlkem1024KeyPair{kp: kp, public: kp.PublicKeyBytes()}, nil
}

func (mlkem1024Scheme) Encapsulate(publicKey []byte) ([]byte, []byte, error) {
	if err := checkSize(len(publicKey), constants.MLKEMPublicKeySize, qerrors.ErrInvalidPublicKey); err != nil {
		return nil, nil, err
	}
	pk, err := crypto.ParseMLKEMPublicKey(publicKey)
	if err != nil {
		return nil, nil, err
	}
	return crypto.MLKEMEncapsulate(pk)
}

type mlkem1024KeyPair struct {
	kp     *crypto.MLKEMKeyPair
	public []byte
}

func (k *mlkem1024KeyPair) PublicKey() []byte { return k.public }

func (k *mlkem1024KeyPair) Decapsulate(ciphertext []byte) ([]byte, error) {
	if k.kp == nil {
		return nil, qerrors.NewCryptoError("ML-KEM-1024.Decapsulate", qerrors.ErrKeyMaterialInvalid)
	}
	if err := checkSize(len(ciphertext), constants.MLKEMCiphertextSize, qerrors.ErrInvalidCiphertext); err != nil {
		return nil, err
	}
	return crypto.MLKEMDecapsulate(k.kp.DecapsulationKey, ciphertext)
}

func (k *mlkem1024KeyPair) Zeroize() {
	if k.kp != nil {
		k.kp.Zeroize()
		k.kp = nil
	}
}
