package kem

// hybrid.go implements X25519-ML-KEM-1024, a cascaded hybrid KEM.
//
// The shared secret stays secret if EITHER X25519 OR ML-KEM-1024 is secure,
// under the random oracle model for SHAKE-256.
//
// Key Generation:
//
//	(sk_x, pk_x) ← X25519.KeyGen()
//	(sk_m, pk_m) ← ML-KEM-1024.KeyGen()
//	pk = pk_x || pk_m
//
// Encapsulation:
//
//	(ct_m, K_m) ← ML-KEM-1024.Encaps(pk_m)
//	(sk_e, pk_e) ← X25519.KeyGen()
//	K_x ← X25519.DH(sk_e, pk_x)
//	ct = pk_e || ct_m
//	transcript ← SHA3-256(pk_x || pk_m || pk_e || ct_m)
//	K ← SHAKE-256("pqlink-v1-hybrid-secret" || K_x || K_m || transcript, 256)
//
// Decapsulation recomputes K_x with sk_x and pk_e, K_m with sk_m and ct_m, and
// derives K the same way.

import (
	"crypto/ecdh"

	"github.com/sara-star-quant/pqlink/internal/constants"
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
	"github.com/sara-star-quant/pqlink/pkg/crypto"
)

type hybridScheme struct{}

func (hybridScheme) ID() ID              { return XMLKEM1024 }
func (hybridScheme) Name() string        { return "X25519-ML-KEM-1024" }
func (hybridScheme) PublicKeySize() int  { return constants.HybridPublicKeySize }
func (hybridScheme) CiphertextSize() int { return constants.HybridCiphertextSize }

func (s hybridScheme) GenerateKeyPair() (KeyPair, error) {
	kp, err := generateHybridKeyPair()
	if err != nil {
		return nil, keyGenError(s.Name(), err)
	}
	return kp, nil
}

func (hybridScheme) Encapsulate(publicKey []byte) ([]byte, []byte, error) {
	pk, err := parseHybridPublicKey(publicKey)
	if err != nil {
		return nil, nil, err
	}
	ct, ss, err := hybridEncapsulate(pk)
	if err != nil {
		return nil, nil, err
	}
	return ct.Bytes(), ss, nil
}

// hybridKeyPair combines an X25519 and an ML-KEM-1024 key pair.
type hybridKeyPair struct {
	x25519Public  *ecdh.PublicKey
	x25519Private *ecdh.PrivateKey

	mlkemPublic  *crypto.MLKEMPublicKey
	mlkemPrivate *crypto.MLKEMPrivateKey
}

// hybridPublicKey is the encapsulation key: pk_x || pk_m.
type hybridPublicKey struct {
	x25519 *ecdh.PublicKey
	mlkem  *crypto.MLKEMPublicKey
}

// hybridCiphertext is pk_e || ct_m.
type hybridCiphertext struct {
	x25519Ephemeral []byte
	mlkemCiphertext []byte
}

func generateHybridKeyPair() (*hybridKeyPair, error) {
	x25519KP, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, err
	}

	mlkemKP, err := crypto.GenerateMLKEMKeyPair()
	if err != nil {
		return nil, err
	}

	return &hybridKeyPair{
		x25519Public:  x25519KP.PublicKey,
		x25519Private: x25519KP.PrivateKey,
		mlkemPublic:   mlkemKP.EncapsulationKey,
		mlkemPrivate:  mlkemKP.DecapsulationKey,
	}, nil
}

func (kp *hybridKeyPair) publicKey() *hybridPublicKey {
	return &hybridPublicKey{x25519: kp.x25519Public, mlkem: kp.mlkemPublic}
}

// PublicKey returns pk_x || pk_m.
func (kp *hybridKeyPair) PublicKey() []byte {
	if kp.x25519Public == nil || kp.mlkemPublic == nil {
		return nil
	}
	return kp.publicKey().Bytes()
}

func hybridEncapsulate(recipient *hybridPublicKey) (*hybridCiphertext, []byte, error) {
	if recipient == nil || recipient.x25519 == nil || recipient.mlkem == nil {
		return nil, nil, qerrors.ErrInvalidPublicKey
	}

	ephemeral, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("Hybrid.Encapsulate", err)
	}
	defer ephemeral.Zeroize()

	x25519Secret, err := crypto.X25519(ephemeral.PrivateKey, recipient.x25519)
	if err != nil {
		return nil, nil, err
	}

	mlkemCiphertext, mlkemSecret, err := crypto.MLKEMEncapsulate(recipient.mlkem)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("Hybrid.Encapsulate", err)
	}

	ct := &hybridCiphertext{
		x25519Ephemeral: ephemeral.PublicKeyBytes(),
		mlkemCiphertext: mlkemCiphertext,
	}

	transcriptHash := crypto.TranscriptHash(
		recipient.x25519.Bytes(),
		recipient.mlkem.Bytes(),
		ct.x25519Ephemeral,
		ct.mlkemCiphertext,
	)

	sharedSecret, err := crypto.DeriveHybridSecret(x25519Secret, mlkemSecret, transcriptHash)
	crypto.ZeroizeMultiple(x25519Secret, mlkemSecret)
	if err != nil {
		return nil, nil, err
	}

	return ct, sharedSecret, nil
}

// Decapsulate recovers the hybrid shared secret from pk_e || ct_m.
func (kp *hybridKeyPair) Decapsulate(ciphertext []byte) ([]byte, error) {
	if kp.x25519Private == nil || kp.mlkemPrivate == nil {
		return nil, qerrors.NewCryptoError("Hybrid.Decapsulate", qerrors.ErrKeyMaterialInvalid)
	}

	ct, err := parseHybridCiphertext(ciphertext)
	if err != nil {
		return nil, err
	}

	ephemeralPublic, err := crypto.ParseX25519PublicKey(ct.x25519Ephemeral)
	if err != nil {
		return nil, err
	}

	x25519Secret, err := crypto.X25519(kp.x25519Private, ephemeralPublic)
	if err != nil {
		return nil, err
	}

	mlkemSecret, err := crypto.MLKEMDecapsulate(kp.mlkemPrivate, ct.mlkemCiphertext)
	if err != nil {
		crypto.Zeroize(x25519Secret)
		return nil, err
	}

	transcriptHash := crypto.TranscriptHash(
		kp.x25519Public.Bytes(),
		kp.mlkemPublic.Bytes(),
		ct.x25519Ephemeral,
		ct.mlkemCiphertext,
	)

	sharedSecret, err := crypto.DeriveHybridSecret(x25519Secret, mlkemSecret, transcriptHash)
	crypto.ZeroizeMultiple(x25519Secret, mlkemSecret)
	if err != nil {
		return nil, err
	}

	return sharedSecret, nil
}

// Zeroize erases the ML-KEM seed and drops the X25519 private key, which
// crypto/ecdh gives no way to overwrite.
func (kp *hybridKeyPair) Zeroize() {
	kp.mlkemPrivate.Zeroize()
	kp.x25519Private = nil
	kp.x25519Public = nil
	kp.mlkemPrivate = nil
	kp.mlkemPublic = nil
}

// Bytes serializes the public key.
//
// Format: x25519_public (32 bytes) || mlkem_public (1568 bytes)
func (pk *hybridPublicKey) Bytes() []byte {
	result := make([]byte, constants.HybridPublicKeySize)
	copy(result[:constants.X25519PublicKeySize], pk.x25519.Bytes())
	copy(result[constants.X25519PublicKeySize:], pk.mlkem.Bytes())
	return result
}

func parseHybridPublicKey(data []byte) (*hybridPublicKey, error) {
	if err := checkSize(len(data), constants.HybridPublicKeySize, qerrors.ErrInvalidPublicKey); err != nil {
		return nil, err
	}

	x25519Public, err := crypto.ParseX25519PublicKey(data[:constants.X25519PublicKeySize])
	if err != nil {
		return nil, err
	}

	mlkemPublic, err := crypto.ParseMLKEMPublicKey(data[constants.X25519PublicKeySize:])
	if err != nil {
		return nil, err
	}

	return &hybridPublicKey{x25519: x25519Public, mlkem: mlkemPublic}, nil
}

// Bytes serializes the ciphertext.
//
// Format: x25519_ephemeral (32 bytes) || mlkem_ciphertext (1568 bytes)
func (ct *hybridCiphertext) Bytes() []byte {
	result := make([]byte, constants.HybridCiphertextSize)
	copy(result[:constants.X25519PublicKeySize], ct.x25519Ephemeral)
	copy(result[constants.X25519PublicKeySize:], ct.mlkemCiphertext)
	return result
}

func parseHybridCiphertext(data []byte) (*hybridCiphertext, error) {
	if err := checkSize(len(data), constants.HybridCiphertextSize, qerrors.ErrInvalidCiphertext); err != nil {
		return nil, err
	}

	return &hybridCiphertext{
		x25519Ephemeral: data[:constants.X25519PublicKeySize],
		mlkemCiphertext: data[constants.X25519PublicKeySize:],
	}, nil
}
