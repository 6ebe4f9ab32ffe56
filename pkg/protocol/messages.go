// messages.go defines the KEM handshake messages.
//
// Roles are explicit: exactly one side is the Initiator and exactly one the
// Responder. The Initiator writes first; the Responder reads first.
//
//	Initiator                              Responder
//	    |                                      |
//	    | -------- Hello --------------------> |  role, algorithm
//	    |                                      |  generate key pair
//	    | <------- KeyShare ------------------ |  public key
//	    |  encapsulate                         |
//	    | -------- Encapsulation ------------> |  ciphertext, digest(ciphertext)
//	    |                                      |  decapsulate
//	    | <------- Confirm ------------------- |  key confirmation
//	    |                                      |
//	    |    === Channel Ready ===             |
//
// Each message is carried in one handshake record and starts with a 1-byte
// message type.
//
// Hello:         | Type 1B | Magic "PQL1" | Version 2B | Role 1B | Algorithm 2B |
// KeyShare:      | Type 1B | Role 1B | Algorithm 2B | KeyLen 4B | PublicKey |
// Encapsulation: | Type 1B | CtLen 4B | Ciphertext | Digest 32B |
// Confirm:       | Type 1B | Verify 32B |
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/sara-star-quant/pqlink/internal/constants"
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
	"github.com/sara-star-quant/pqlink/pkg/digest"
	"github.com/sara-star-quant/pqlink/pkg/kem"
)

// MessageType identifies the type of handshake message.
type MessageType uint8

// Handshake message types.
const (
	// MessageTypeHello opens the handshake from the Initiator.
	MessageTypeHello MessageType = 0x01
	// MessageTypeKeyShare carries the Responder's ephemeral public key.
	MessageTypeKeyShare MessageType = 0x02
	// MessageTypeEncapsulation carries the Initiator's KEM ciphertext.
	MessageTypeEncapsulation MessageType = 0x03
	// MessageTypeConfirm proves the Responder derived the same session key.
	MessageTypeConfirm MessageType = 0x04
)

// String returns a human-readable name for the message type.
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeHello:
		return "Hello"
	case MessageTypeKeyShare:
		return "KeyShare"
	case MessageTypeEncapsulation:
		return "Encapsulation"
	case MessageTypeConfirm:
		return "Confirm"
	default:
		return "Unknown"
	}
}

// Role is a party's fixed position in the handshake.
type Role uint8

// Handshake roles.
const (
	RoleInitiator Role = 0x01
	RoleResponder Role = 0x02
)

// String returns a human-readable name for the role.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "Initiator"
	case RoleResponder:
		return "Responder"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the role is Initiator or Responder.
func (r Role) IsValid() bool {
	return r == RoleInitiator || r == RoleResponder
}

// Hello is sent by the Initiator to begin the handshake.
type Hello struct {
	Version   Version
	Role      Role
	Algorithm kem.ID
}

// KeyShare is the Responder's reply carrying its ephemeral public key.
type KeyShare struct {
	Role      Role
	Algorithm kem.ID
	PublicKey []byte
}

// Encapsulation carries the KEM ciphertext and its digest.
type Encapsulation struct {
	Ciphertext []byte
	Digest     digest.Digest
}

// Confirm carries the Responder's key-confirmation value.
type Confirm struct {
	Verify []byte
}

const (
	helloSize    = 1 + len(constants.HandshakeMagic) + 2 + 1 + 2
	keyShareHead = 1 + 1 + 2 + 4
	encapHead    = 1 + 4
	confirmSize  = 1 + constants.KDFOutputSize
)

// PeekType returns the message type of a handshake record body.
func PeekType(body []byte) (MessageType, error) {
	if len(body) < 1 {
		return 0, qerrors.ErrInvalidMessage
	}
	return MessageType(body[0]), nil
}

// EncodeHello serializes a Hello message.
func EncodeHello(m *Hello) []byte {
	buf := make([]byte, helloSize)
	buf[0] = byte(MessageTypeHello)
	off := 1 + copy(buf[1:], constants.HandshakeMagic)
	buf[off] = m.Version.Major
	buf[off+1] = m.Version.Minor
	buf[off+2] = byte(m.Role)
	binary.BigEndian.PutUint16(buf[off+3:], uint16(m.Algorithm))
	return buf
}

// DecodeHello deserializes a Hello message. The role is returned as sent so
// the caller can detect a peer claiming the wrong one.
func DecodeHello(body []byte) (*Hello, error) {
	if err := expectType(body, MessageTypeHello); err != nil {
		return nil, err
	}
	if len(body) != helloSize {
		return nil, fmt.Errorf("%w: Hello of %d bytes", qerrors.ErrInvalidMessage, len(body))
	}

	off := 1 + len(constants.HandshakeMagic)
	if string(body[1:off]) != constants.HandshakeMagic {
		return nil, fmt.Errorf("%w: bad magic", qerrors.ErrInvalidMessage)
	}

	m := &Hello{
		Version:   ParseVersion(body[off : off+2]),
		Role:      Role(body[off+2]),
		Algorithm: kem.ID(binary.BigEndian.Uint16(body[off+3:])),
	}
	if !m.Version.IsCompatible(Current) {
		return nil, fmt.Errorf("%w: %s", qerrors.ErrUnsupportedVersion, m.Version)
	}
	if !m.Role.IsValid() {
		return nil, fmt.Errorf("%w: role 0x%02x", qerrors.ErrInvalidMessage, byte(m.Role))
	}
	return m, nil
}

// EncodeKeyShare serializes a KeyShare message.
func EncodeKeyShare(m *KeyShare) []byte {
	buf := make([]byte, keyShareHead+len(m.PublicKey))
	buf[0] = byte(MessageTypeKeyShare)
	buf[1] = byte(m.Role)
	binary.BigEndian.PutUint16(buf[2:], uint16(m.Algorithm))
	binary.BigEndian.PutUint32(buf[4:], uint32(len(m.PublicKey)))
	copy(buf[keyShareHead:], m.PublicKey)
	return buf
}

// DecodeKeyShare deserializes a KeyShare message.
func DecodeKeyShare(body []byte) (*KeyShare, error) {
	if err := expectType(body, MessageTypeKeyShare); err != nil {
		return nil, err
	}
	if len(body) < keyShareHead {
		return nil, fmt.Errorf("%w: short KeyShare", qerrors.ErrInvalidMessage)
	}

	n := binary.BigEndian.Uint32(body[4:])
	if uint64(len(body)-keyShareHead) != uint64(n) || n == 0 {
		return nil, fmt.Errorf("%w: KeyShare key length %d", qerrors.ErrInvalidMessage, n)
	}

	m := &KeyShare{
		Role:      Role(body[1]),
		Algorithm: kem.ID(binary.BigEndian.Uint16(body[2:])),
		PublicKey: make([]byte, n),
	}
	copy(m.PublicKey, body[keyShareHead:])
	if !m.Role.IsValid() {
		return nil, fmt.Errorf("%w: role 0x%02x", qerrors.ErrInvalidMessage, byte(m.Role))
	}
	return m, nil
}

// NewEncapsulation builds an Encapsulation message, computing the digest of
// the ciphertext.
func NewEncapsulation(ciphertext []byte) *Encapsulation {
	return &Encapsulation{Ciphertext: ciphertext, Digest: digest.Sum(ciphertext)}
}

// EncodeEncapsulation serializes an Encapsulation message.
func EncodeEncapsulation(m *Encapsulation) []byte {
	buf := make([]byte, encapHead+len(m.Ciphertext)+digest.Size)
	buf[0] = byte(MessageTypeEncapsulation)
	binary.BigEndian.PutUint32(buf[1:], uint32(len(m.Ciphertext)))
	off := encapHead + copy(buf[encapHead:], m.Ciphertext)
	copy(buf[off:], m.Digest[:])
	return buf
}

// DecodeEncapsulation deserializes an Encapsulation message. The digest is
// returned unchecked; see Encapsulation.Verify.
func DecodeEncapsulation(body []byte) (*Encapsulation, error) {
	if err := expectType(body, MessageTypeEncapsulation); err != nil {
		return nil, err
	}
	if len(body) < encapHead+digest.Size {
		return nil, fmt.Errorf("%w: short Encapsulation", qerrors.ErrInvalidMessage)
	}

	n := binary.BigEndian.Uint32(body[1:])
	if uint64(len(body)-encapHead-digest.Size) != uint64(n) || n == 0 {
		return nil, fmt.Errorf("%w: Encapsulation ciphertext length %d", qerrors.ErrInvalidMessage, n)
	}

	m := &Encapsulation{Ciphertext: make([]byte, n)}
	copy(m.Ciphertext, body[encapHead:encapHead+int(n)])
	copy(m.Digest[:], body[encapHead+int(n):])
	return m, nil
}

// Verify reports whether the embedded digest matches the ciphertext.
func (m *Encapsulation) Verify() bool {
	return m.Digest.Verify(m.Ciphertext)
}

// EncodeConfirm serializes a Confirm message.
func EncodeConfirm(m *Confirm) ([]byte, error) {
	if len(m.Verify) != constants.KDFOutputSize {
		return nil, fmt.Errorf("%w: Confirm of %d bytes", qerrors.ErrInvalidMessage, len(m.Verify))
	}
	buf := make([]byte, confirmSize)
	buf[0] = byte(MessageTypeConfirm)
	copy(buf[1:], m.Verify)
	return buf, nil
}

// DecodeConfirm deserializes a Confirm message.
func DecodeConfirm(body []byte) (*Confirm, error) {
	if err := expectType(body, MessageTypeConfirm); err != nil {
		return nil, err
	}
	if len(body) != confirmSize {
		return nil, fmt.Errorf("%w: Confirm of %d bytes", qerrors.ErrInvalidMessage, len(body))
	}
	m := &Confirm{Verify: make([]byte, constants.KDFOutputSize)}
	copy(m.Verify, body[1:])
	return m, nil
}

func expectType(body []byte, want MessageType) error {
	got, err := PeekType(body)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: got %s, want %s", qerrors.ErrInvalidMessage, got, want)
	}
	return nil
}
