// Package kem provides the key encapsulation mechanisms a pqlink handshake can
// negotiate, behind one byte-oriented interface.
//
// Each Scheme is identified on the wire by a 16-bit ID. The registry is built
// once at package initialization and never changes afterwards, so Lookup is
// safe for concurrent use.
//
//	ID      Name                 Backend                 Level
//	0x0001  ML-KEM-1024          CIRCL                   NIST 5 (default)
//	0x0002  Kyber1024            CIRCL (round 3)         NIST 5
//	0x0003  ML-KEM-768           filippo.io/mlkem768     NIST 3
//	0x0004  X25519-ML-KEM-1024   X25519 + CIRCL hybrid   NIST 5 + classical
package kem

import (
	"fmt"
	"slices"
	"strings"

	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
)

// ID identifies a KEM on the wire.
type ID uint16

// Registered scheme identifiers
const (
	MLKEM1024  ID = 0x0001
	Kyber1024  ID = 0x0002
	MLKEM768   ID = 0x0003
	XMLKEM1024 ID = 0x0004
)

// Default is the scheme used when none is configured.
const Default = MLKEM1024

// String returns the scheme name, or a hex form for unknown IDs.
func (id ID) String() string {
	if s, ok := registry[id]; ok {
		return s.Name()
	}
	return fmt.Sprintf("Unknown(0x%04x)", uint16(id))
}

// KeyPair is an ephemeral key pair owned by the party that generated it.
type KeyPair interface {
	// PublicKey returns the encoded public key sent to the peer.
	PublicKey() []byte

	// Decapsulate recovers the shared secret from a peer's ciphertext.
	Decapsulate(ciphertext []byte) ([]byte, error)

	// Zeroize overwrites the private key material the key pair owns.
	// Decapsulate fails afterwards. Expanded key state that a KEM library
	// builds internally during Decapsulate is not reachable for erasure.
	Zeroize()
}

// Scheme is a key encapsulation mechanism.
type Scheme interface {
	ID() ID
	Name() string

	// PublicKeySize and CiphertextSize are the exact encoded sizes.
	PublicKeySize() int
	CiphertextSize() int

	// GenerateKeyPair creates a fresh key pair. Failures match
	// qerrors.ErrKeyGeneration.
	GenerateKeyPair() (KeyPair, error)

	// Encapsulate creates a shared secret for the holder of publicKey and
	// returns it together with the ciphertext to send.
	Encapsulate(publicKey []byte) (ciphertext, secret []byte, err error)
}

var registry = map[ID]Scheme{}

func register(s Scheme) {
	registry[s.ID()] = s
}

func init() {
	register(mlkem1024Scheme{})
	register(kyber1024Scheme{})
	register(mlkem768Scheme{})
	register(hybridScheme{})
}

// Lookup returns the scheme registered under id.
func Lookup(id ID) (Scheme, error) {
	s, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", qerrors.ErrUnsupportedAlgorithm, id)
	}
	return s, nil
}

// Schemes returns every registered scheme ordered by ID.
func Schemes() []Scheme {
	out := make([]Scheme, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Scheme) int { return int(a.ID()) - int(b.ID()) })
	return out
}

// ParseID resolves a scheme name (case-insensitive) to its ID.
func ParseID(name string) (ID, error) {
	for id, s := range registry {
		if strings.EqualFold(s.Name(), name) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", qerrors.ErrUnsupportedAlgorithm, name)
}

func keyGenError(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", qerrors.ErrKeyGeneration, name, err)
}

func checkSize(got, want int, sentinel error) error {
	if got != want {
		return fmt.Errorf("%w: got %d bytes, want %d", sentinel, got, want)
	}
	return nil
}
