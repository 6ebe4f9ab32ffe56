package kem_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
	"github.com/sara-star-quant/pqlink/pkg/crypto"
	"github.com/sara-star-quant/pqlink/pkg/kem"
)

func TestSchemesRoundTrip(t *testing.T) {
	for _, s := range kem.Schemes() {
		t.Run(s.Name(), func(t *testing.T) {
			kp, err := s.GenerateKeyPair()
			require.NoError(t, err)
			defer kp.Zeroize()

			require.Len(t, kp.PublicKey(), s.PublicKeySize())

			ct, ss, err := s.Encapsulate(kp.PublicKey())
			require.NoError(t, err)
			require.Len(t, ct, s.CiphertextSize())
			require.Len(t, ss, 32)

			got, err := kp.Decapsulate(ct)
			require.NoError(t, err)
			require.Equal(t, ss, got)

			ct2, ss2, err := s.Encapsulate(kp.PublicKey())
			require.NoError(t, err)
			require.NotEqual(t, ct, ct2, "encapsulations must be randomized")
			require.NotEqual(t, ss, ss2)
		})
	}
}

func TestZeroizedKeyPairCannotDecapsulate(t *testing.T) {
	for _, s := range kem.Schemes() {
		t.Run(s.Name(), func(t *testing.T) {
			kp, err := s.GenerateKeyPair()
			require.NoError(t, err)
			ct, _, err := s.Encapsulate(kp.PublicKey())
			require.NoError(t, err)

			kp.Zeroize()
			_, err = kp.Decapsulate(ct)
			require.ErrorIs(t, err, qerrors.ErrKeyMaterialInvalid)
		})
	}
}

func TestSchemesRejectWrongSizes(t *testing.T) {
	for _, s := range kem.Schemes() {
		t.Run(s.Name(), func(t *testing.T) {
			_, _, err := s.Encapsulate(make([]byte, s.PublicKeySize()-1))
			require.ErrorIs(t, err, qerrors.ErrInvalidPublicKey)

			kp, err := s.GenerateKeyPair()
			require.NoError(t, err)

			_, err = kp.Decapsulate(make([]byte, s.CiphertextSize()+1))
			require.ErrorIs(t, err, qerrors.ErrInvalidCiphertext)

			kp.Zeroize()
			_, err = kp.Decapsulate(make([]byte, s.CiphertextSize()))
			require.Error(t, err, "decapsulating with a zeroized key pair must fail")
		})
	}
}

func TestCrossSchemeSecretsDiffer(t *testing.T) {
	// ML-KEM-1024 and Kyber1024 share sizes but not key schedules; a key pair
	// from one must not agree with an encapsulation from the other.
	mlkem, err := kem.Lookup(kem.MLKEM1024)
	require.NoError(t, err)
	kyber, err := kem.Lookup(kem.Kyber1024)
	require.NoError(t, err)

	kp, err := mlkem.GenerateKeyPair()
	require.NoError(t, err)

	ct, ss, err := kyber.Encapsulate(kp.PublicKey())
	require.NoError(t, err)

	got, err := kp.Decapsulate(ct)
	require.NoError(t, err)
	require.False(t, bytes.Equal(ss, got))
}

func TestLookup(t *testing.T) {
	s, err := kem.Lookup(kem.Default)
	require.NoError(t, err)
	require.Equal(t, kem.MLKEM1024, s.ID())
	require.Equal(t, "ML-KEM-1024", kem.Default.String())

	_, err = kem.Lookup(kem.ID(0x7777))
	require.ErrorIs(t, err, qerrors.ErrUnsupportedAlgorithm)
	require.Contains(t, kem.ID(0x7777).String(), "0x7777")
}

func TestSchemesOrdered(t *testing.T) {
	schemes := kem.Schemes()
	require.Len(t, schemes, 4)
	for i := 1; i < len(schemes); i++ {
		require.Less(t, uint16(schemes[i-1].ID()), uint16(schemes[i].ID()))
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name string
		want kem.ID
	}{
		{"ML-KEM-1024", kem.MLKEM1024},
		{"ml-kem-1024", kem.MLKEM1024},
		{"Kyber1024", kem.Kyber1024},
		{"ML-KEM-768", kem.MLKEM768},
		{"x25519-ml-kem-1024", kem.XMLKEM1024},
	}
	for _, tt := range tests {
		id, err := kem.ParseID(tt.name)
		require.NoError(t, err, tt.name)
		require.Equal(t, tt.want, id)
	}

	_, err := kem.ParseID("rsa-2048")
	require.ErrorIs(t, err, qerrors.ErrUnsupportedAlgorithm)
}

func TestGenerateKeyPairFailure(t *testing.T) {
	old := crypto.Reader
	crypto.Reader = bytes.NewReader(nil)
	t.Cleanup(func() { crypto.Reader = old })

	for _, id := range []kem.ID{kem.MLKEM1024, kem.Kyber1024, kem.MLKEM768, kem.XMLKEM1024} {
		s, err := kem.Lookup(id)
		require.NoError(t, err)

		_, err = s.GenerateKeyPair()
		require.Error(t, err, s.Name())
		require.True(t, errors.Is(err, qerrors.ErrKeyGeneration), "%s: %v", s.Name(), err)
	}
}
