package kem

import (
	"bytes"
	"testing"

	"github.com/sara-star-quant/pqlink/internal/constants"
)

func TestHybridEncapsulationDecapsulation(t *testing.T) {
	kp, err := generateHybridKeyPair()
	if err != nil {
		t.Fatalf("generateHybridKeyPair failed: %v", err)
	}

	ct, ssEnc, err := hybridEncapsulate(kp.publicKey())
	if err != nil {
		t.Fatalf("hybridEncapsulate failed: %v", err)
	}

	if len(ct.Bytes()) != constants.HybridCiphertextSize {
		t.Errorf("Ciphertext size: got %d, want %d", len(ct.Bytes()), constants.HybridCiphertextSize)
	}

	ssDec, err := kp.Decapsulate(ct.Bytes())
	if err != nil {
		t.Fatalf("Decapsulate failed: %v", err)
	}

	if !bytes.Equal(ssEnc, ssDec) {
		t.Error("hybrid shared secrets do not match")
	}
}

func TestHybridPublicKeySerialization(t *testing.T) {
	kp, err := generateHybridKeyPair()
	if err != nil {
		t.Fatalf("generateHybridKeyPair failed: %v", err)
	}

	pkBytes := kp.PublicKey()
	if len(pkBytes) != constants.HybridPublicKeySize {
		t.Fatalf("Public key size: got %d, want %d", len(pkBytes), constants.HybridPublicKeySize)
	}

	parsed, err := parseHybridPublicKey(pkBytes)
	if err != nil {
		t.Fatalf("parseHybridPublicKey failed: %v", err)
	}
	if !bytes.Equal(parsed.Bytes(), pkBytes) {
		t.Error("parsed public key differs from original")
	}
}

func TestHybridCiphertextSerialization(t *testing.T) {
	data := make([]byte, constants.HybridCiphertextSize)
	for i := range data {
		data[i] = byte(i)
	}

	ct, err := parseHybridCiphertext(data)
	if err != nil {
		t.Fatalf("parseHybridCiphertext failed: %v", err)
	}
	if !bytes.Equal(ct.Bytes(), data) {
		t.Error("serialized ciphertext differs from input")
	}

	if _, err := parseHybridCiphertext(data[:100]); err == nil {
		t.Error("expected error for short ciphertext")
	}
}

// TestHybridBindsBothComponents checks that replacing either half of the
// ciphertext changes the recovered secret.
func TestHybridBindsBothComponents(t *testing.T) {
	kp, err := generateHybridKeyPair()
	if err != nil {
		t.Fatalf("generateHybridKeyPair failed: %v", err)
	}

	ct, ss, err := hybridEncapsulate(kp.publicKey())
	if err != nil {
		t.Fatalf("hybridEncapsulate failed: %v", err)
	}

	// Swap in a different, valid ephemeral X25519 key.
	other, _, err := hybridEncapsulate(kp.publicKey())
	if err != nil {
		t.Fatalf("hybridEncapsulate failed: %v", err)
	}
	mixed := ct.Bytes()
	copy(mixed[:constants.X25519PublicKeySize], other.Bytes()[:constants.X25519PublicKeySize])

	got, err := kp.Decapsulate(mixed)
	if err != nil {
		t.Fatalf("Decapsulate failed: %v", err)
	}
	if bytes.Equal(got, ss) {
		t.Error("changing the X25519 component must change the secret")
	}

	// Flip a bit in the ML-KEM ciphertext; implicit rejection yields a
	// different secret rather than an error.
	tampered := ct.Bytes()
	tampered[len(tampered)-1] ^= 0x01
	got, err = kp.Decapsulate(tampered)
	if err != nil {
		t.Fatalf("Decapsulate failed: %v", err)
	}
	if bytes.Equal(got, ss) {
		t.Error("changing the ML-KEM component must change the secret")
	}
}

func TestHybridEncapsulateNilPublicKey(t *testing.T) {
	if _, _, err := hybridEncapsulate(nil); err == nil {
		t.Error("expected error for nil public key")
	}
	if _, _, err := hybridEncapsulate(&hybridPublicKey{}); err == nil {
		t.Error("expected error for empty public key")
	}
}

func TestHybridZeroize(t *testing.T) {
	kp, err := generateHybridKeyPair()
	if err != nil {
		t.Fatalf("generateHybridKeyPair failed: %v", err)
	}

	kp.Zeroize()

	if kp.x25519Private != nil || kp.mlkemPrivate != nil {
		t.Error("Zeroize should clear private keys")
	}
	if kp.PublicKey() != nil {
		t.Error("PublicKey should be nil after Zeroize")
	}
}

func TestKeyPairZeroizeErasesSeed(t *testing.T) {
	for _, s := range []Scheme{kyber1024Scheme{}, mlkem768Scheme{}} {
		kp, err := s.GenerateKeyPair()
		if err != nil {
			t.Fatalf("%s: GenerateKeyPair failed: %v", s.Name(), err)
		}

		var seed []byte
		switch k := kp.(type) {
		case *kyber1024KeyPair:
			seed = k.seed
		case *mlkem768KeyPair:
			seed = k.seed
		}
		if len(seed) == 0 {
			t.Fatalf("%s: key pair holds no seed", s.Name())
		}

		kp.Zeroize()
		if !bytes.Equal(seed, make([]byte, len(seed))) {
			t.Errorf("%s: seed not overwritten by Zeroize", s.Name())
		}
	}
}
