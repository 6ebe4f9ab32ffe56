// handshake.go implements the KEM handshake state machine.
//
// Handshake Protocol:
//
//	Initiator                              Responder
//	    |                                      |
//	    | -------- Hello --------------------> |
//	    |   - version, role, algorithm         |
//	    |                                      |  [generate ephemeral key pair]
//	    | <------- KeyShare ------------------ |
//	    |   - role, algorithm, public key      |
//	    |                                      |
//	    |  [encapsulate]                       |
//	    | -------- Encapsulation ------------> |
//	    |   - ciphertext, digest(ciphertext)   |
//	    |                                      |  [check digest, decapsulate]
//	    | <------- Confirm ------------------- |
//	    |   - key confirmation                 |
//	    |                                      |
//	    |    === Channel Ready ===             |
//
// Both sides derive
//
//	transcript  = SHA3-256(Hello || KeyShare || Encapsulation)
//	session_key = SHAKE-256("pqlink-v1-session" || secret || transcript)
//	confirm     = SHAKE-256("pqlink-v1-confirm" || session_key || transcript)
//
// Security Properties:
//   - Forward secrecy: the Responder's key pair is ephemeral and erased once
//     the secret is recovered
//   - Quantum resistance: the key agreement is a lattice KEM
//   - Key confirmation: the Initiator learns that the Responder holds the
//     same session key before any data frame is sent
//   - No peer authentication: possession of a valid key pair is not identity
//
// Roles are fixed at construction. A peer that announces the same role, or
// that sends the message the local role would send, fails the handshake with
// ErrRoleMismatch.
package tunnel

import (
	"context"
	"fmt"
	"io"
	"time"

	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
	"github.com/sara-star-quant/pqlink/pkg/crypto"
	"github.com/sara-star-quant/pqlink/pkg/digest"
	"github.com/sara-star-quant/pqlink/pkg/kem"
	"github.com/sara-star-quant/pqlink/pkg/protocol"
)

// Role is re-exported from protocol so callers need not import it.
type Role = protocol.Role

// Handshake roles.
const (
	RoleInitiator = protocol.RoleInitiator
	RoleResponder = protocol.RoleResponder
)

// HandshakeState represents the current state of the handshake.
type HandshakeState int

const (
	HandshakeStateInitial HandshakeState = iota
	HandshakeStateHelloSent
	HandshakeStateHelloReceived
	HandshakeStateKeyShareSent
	HandshakeStateEncapsulationSent
	HandshakeStateEncapsulationReceived
	HandshakeStateComplete
	HandshakeStateFailed
)

// String returns a human-readable name for the state.
func (s HandshakeState) String() string {
	switch s {
	case HandshakeStateInitial:
		return "Initial"
	case HandshakeStateHelloSent:
		return "HelloSent"
	case HandshakeStateHelloReceived:
		return "HelloReceived"
	case HandshakeStateKeyShareSent:
		return "KeyShareSent"
	case HandshakeStateEncapsulationSent:
		return "EncapsulationSent"
	case HandshakeStateEncapsulationReceived:
		return "EncapsulationReceived"
	case HandshakeStateComplete:
		return "Complete"
	case HandshakeStateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Handshake runs one side of the KEM handshake. It performs no I/O: each
// Create/Process method consumes or produces one handshake record body.
type Handshake struct {
	role   Role
	scheme kem.Scheme
	state  HandshakeState

	// Responder only; erased once the secret is recovered.
	keyPair kem.KeyPair

	sharedSecret []byte
	sessionKey   []byte
	confirm      []byte

	// Record bodies, in order, for the transcript hash.
	transcript [][]byte
}

// NewInitiatorHandshake creates the Initiator side of a handshake for alg.
func NewInitiatorHandshake(alg kem.ID) (*Handshake, error) {
	return newHandshake(RoleInitiator, alg)
}

// NewResponderHandshake creates the Responder side of a handshake for alg.
func NewResponderHandshake(alg kem.ID) (*Handshake, error) {
	return newHandshake(RoleResponder, alg)
}

// NewHandshake creates a handshake for the given role.
func NewHandshake(role Role, alg kem.ID) (*Handshake, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: role %d", qerrors.ErrInvalidState, role)
	}
	return newHandshake(role, alg)
}

func newHandshake(role Role, alg kem.ID) (*Handshake, error) {
	scheme, err := kem.Lookup(alg)
	if err != nil {
		return nil, err
	}
	return &Handshake{
		role:   role,
		scheme: scheme,
		state:  HandshakeStateInitial,
	}, nil
}

// --- Initiator Functions ---

// CreateHello generates the Hello message.
func (h *Handshake) CreateHello() ([]byte, error) {
	if err := h.expect(RoleInitiator, HandshakeStateInitial); err != nil {
		return nil, err
	}

	data := protocol.EncodeHello(&protocol.Hello{
		Version:   protocol.Current,
		Role:      h.role,
		Algorithm: h.scheme.ID(),
	})

	h.transcript = append(h.transcript, data)
	h.state = HandshakeStateHelloSent
	return data, nil
}

// ProcessKeyShare processes the Responder's KeyShare, encapsulates against
// its public key and returns the Encapsulation message.
func (h *Handshake) ProcessKeyShare(data []byte) ([]byte, error) {
	if err := h.expect(RoleInitiator, HandshakeStateHelloSent); err != nil {
		return nil, err
	}

	if mt, _ := protocol.PeekType(data); mt == protocol.MessageTypeHello {
		return nil, h.fail(fmt.Errorf("%w: peer sent Hello, it is also an Initiator", qerrors.ErrRoleMismatch))
	}

	msg, err := protocol.DecodeKeyShare(data)
	if err != nil {
		return nil, h.fail(err)
	}
	if msg.Role != RoleResponder {
		return nil, h.fail(fmt.Errorf("%w: peer announced %s", qerrors.ErrRoleMismatch, msg.Role))
	}
	if msg.Algorithm != h.scheme.ID() {
		return nil, h.fail(fmt.Errorf("%w: peer chose %s, want %s", qerrors.ErrUnsupportedAlgorithm, msg.Algorithm, h.scheme.ID()))
	}

	ciphertext, secret, err := h.scheme.Encapsulate(msg.PublicKey)
	if err != nil {
		return nil, h.fail(err)
	}
	h.sharedSecret = secret

	out := protocol.EncodeEncapsulation(protocol.NewEncapsulation(ciphertext))
	h.transcript = append(h.transcript, data, out)

	if err := h.deriveKeys(); err != nil {
		return nil, h.fail(err)
	}

	h.state = HandshakeStateEncapsulationSent
	return out, nil
}

// ProcessConfirm checks the Responder's key confirmation and completes the
// handshake.
func (h *Handshake) ProcessConfirm(data []byte) error {
	if err := h.expect(RoleInitiator, HandshakeStateEncapsulationSent); err != nil {
		return err
	}

	msg, err := protocol.DecodeConfirm(data)
	if err != nil {
		return h.fail(err)
	}
	if !digest.Equal(msg.Verify, h.confirm) {
		return h.fail(fmt.Errorf("%w: key confirmation mismatch", qerrors.ErrHandshake))
	}

	h.complete()
	return nil
}

// --- Responder Functions ---

// ProcessHello processes the Initiator's Hello.
func (h *Handshake) ProcessHello(data []byte) error {
	if err := h.expect(RoleResponder, HandshakeStateInitial); err != nil {
		return err
	}

	if mt, _ := protocol.PeekType(data); mt == protocol.MessageTypeKeyShare {
		return h.fail(fmt.Errorf("%w: peer sent KeyShare, it is also a Responder", qerrors.ErrRoleMismatch))
	}

	msg, err := protocol.DecodeHello(data)
	if err != nil {
		return h.fail(err)
	}
	if msg.Role != RoleInitiator {
		return h.fail(fmt.Errorf("%w: peer announced %s", qerrors.ErrRoleMismatch, msg.Role))
	}
	if msg.Algorithm != h.scheme.ID() {
		return h.fail(fmt.Errorf("%w: peer offered %s, want %s", qerrors.ErrUnsupportedAlgorithm, msg.Algorithm, h.scheme.ID()))
	}

	h.transcript = append(h.transcript, data)
	h.state = HandshakeStateHelloReceived
	return nil
}

// CreateKeyShare generates the ephemeral key pair and the KeyShare message.
// A key generation failure matches ErrKeyGeneration.
func (h *Handshake) CreateKeyShare() ([]byte, error) {
	if err := h.expect(RoleResponder, HandshakeStateHelloReceived); err != nil {
		return nil, err
	}

	kp, err := h.scheme.GenerateKeyPair()
	if err != nil {
		return nil, h.fail(err)
	}
	h.keyPair = kp

	data := protocol.EncodeKeyShare(&protocol.KeyShare{
		Role:      h.role,
		Algorithm: h.scheme.ID(),
		PublicKey: kp.PublicKey(),
	})

	h.transcript = append(h.transcript, data)
	h.state = HandshakeStateKeyShareSent
	return data, nil
}

// ProcessEncapsulation verifies the ciphertext digest and recovers the
// shared secret. The key pair is erased whether or not this succeeds.
func (h *Handshake) ProcessEncapsulation(data []byte) error {
	if err := h.expect(RoleResponder, HandshakeStateKeyShareSent); err != nil {
		return err
	}
	defer h.eraseKeyPair()

	msg, err := protocol.DecodeEncapsulation(data)
	if err != nil {
		return h.fail(err)
	}
	if !msg.Verify() {
		return h.fail(fmt.Errorf("%w: encapsulation digest mismatch", qerrors.ErrIntegrityMismatch))
	}

	secret, err := h.keyPair.Decapsulate(msg.Ciphertext)
	if err != nil {
		return h.fail(err)
	}
	h.sharedSecret = secret

	h.transcript = append(h.transcript, data)
	if err := h.deriveKeys(); err != nil {
		return h.fail(err)
	}

	h.state = HandshakeStateEncapsulationReceived
	return nil
}

// CreateConfirm generates the Confirm message and completes the handshake.
func (h *Handshake) CreateConfirm() ([]byte, error) {
	if err := h.expect(RoleResponder, HandshakeStateEncapsulationReceived); err != nil {
		return nil, err
	}

	data, err := protocol.EncodeConfirm(&protocol.Confirm{Verify: h.confirm})
	if err != nil {
		return nil, h.fail(err)
	}

	h.complete()
	return data, nil
}

// --- Results ---

// SessionKey returns a copy of the derived session key. It fails unless the
// handshake is complete.
func (h *Handshake) SessionKey() ([]byte, error) {
	if h.state != HandshakeStateComplete || h.sessionKey == nil {
		return nil, qerrors.ErrInvalidState
	}
	key := make([]byte, len(h.sessionKey))
	copy(key, h.sessionKey)
	return key, nil
}

// Role returns the local role.
func (h *Handshake) Role() Role {
	return h.role
}

// Algorithm returns the KEM in use.
func (h *Handshake) Algorithm() kem.ID {
	return h.scheme.ID()
}

// State returns the current handshake state.
func (h *Handshake) State() HandshakeState {
	return h.state
}

// IsComplete returns true if the handshake completed successfully.
func (h *Handshake) IsComplete() bool {
	return h.state == HandshakeStateComplete
}

// Zeroize erases all key material, including the session key.
func (h *Handshake) Zeroize() {
	h.eraseKeyPair()
	crypto.ZeroizeMultiple(h.sharedSecret, h.sessionKey, h.confirm)
	h.sharedSecret = nil
	h.sessionKey = nil
	h.confirm = nil
	h.transcript = nil
}

// --- Helper Functions ---

func (h *Handshake) expect(role Role, state HandshakeState) error {
	if h.role != role || h.state != state {
		return fmt.Errorf("%w: %s in state %s", qerrors.ErrInvalidState, h.role, h.state)
	}
	return nil
}

// fail moves the handshake to Failed and erases everything secret.
func (h *Handshake) fail(err error) error {
	h.Zeroize()
	h.state = HandshakeStateFailed
	return err
}

func (h *Handshake) deriveKeys() error {
	th := crypto.TranscriptHash(h.transcript...)

	sessionKey, err := crypto.DeriveSessionKey(h.sharedSecret, th)
	if err != nil {
		return err
	}
	confirm, err := crypto.DeriveConfirmation(sessionKey, th)
	if err != nil {
		crypto.Zeroize(sessionKey)
		return err
	}

	crypto.Zeroize(h.sharedSecret)
	h.sharedSecret = nil
	h.sessionKey = sessionKey
	h.confirm = confirm
	return nil
}

func (h *Handshake) eraseKeyPair() {
	if h.keyPair != nil {
		h.keyPair.Zeroize()
		h.keyPair = nil
	}
}

// complete keeps only the session key.
func (h *Handshake) complete() {
	crypto.Zeroize(h.confirm)
	h.confirm = nil
	h.transcript = nil
	h.state = HandshakeStateComplete
}

// --- High-Level API ---

// deadliner is implemented by transports that support I/O deadlines.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// bindContext applies ctx's deadline to conn and interrupts blocked I/O when
// ctx is cancelled. The returned function undoes both.
func bindContext(ctx context.Context, conn io.ReadWriter) func() {
	d, ok := conn.(deadliner)
	if !ok {
		return func() {}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = d.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = d.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
		_ = d.SetDeadline(time.Time{})
	}
}

// transmissionError marks a transport failure during the handshake. When ctx
// is done its error is reported alongside the I/O error.
func transmissionError(ctx context.Context, err error) error {
	ctxErr := ctx.Err()
	if deadline, ok := ctx.Deadline(); ok && ctxErr == nil && !time.Now().Before(deadline) {
		// The transport deadline can fire just before the context's own timer.
		ctxErr = context.DeadlineExceeded
	}
	if ctxErr != nil {
		return fmt.Errorf("%w: %w: %w", qerrors.ErrTransmission, ctxErr, err)
	}
	return fmt.Errorf("%w: %w", qerrors.ErrTransmission, err)
}

// RunInitiator drives an Initiator handshake over conn. Transport failures
// match ErrTransmission; protocol failures carry the engine's error.
func RunInitiator(ctx context.Context, h *Handshake, conn io.ReadWriter) error {
	release := bindContext(ctx, conn)
	defer release()

	hello, err := h.CreateHello()
	if err != nil {
		return err
	}
	if err := protocol.WriteRecord(conn, hello); err != nil {
		return h.fail(transmissionError(ctx, err))
	}

	keyShare, err := protocol.ReadRecord(conn)
	if err != nil {
		return h.fail(transmissionError(ctx, err))
	}
	encapsulation, err := h.ProcessKeyShare(keyShare)
	if err != nil {
		return err
	}
	if err := protocol.WriteRecord(conn, encapsulation); err != nil {
		return h.fail(transmissionError(ctx, err))
	}

	confirm, err := protocol.ReadRecord(conn)
	if err != nil {
		return h.fail(transmissionError(ctx, err))
	}
	return h.ProcessConfirm(confirm)
}

// RunResponder drives a Responder handshake over conn.
func RunResponder(ctx context.Context, h *Handshake, conn io.ReadWriter) error {
	release := bindContext(ctx, conn)
	defer release()

	hello, err := protocol.ReadRecord(conn)
	if err != nil {
		return h.fail(transmissionError(ctx, err))
	}
	if err := h.ProcessHello(hello); err != nil {
		return err
	}

	keyShare, err := h.CreateKeyShare()
	if err != nil {
		return err
	}
	if err := protocol.WriteRecord(conn, keyShare); err != nil {
		return h.fail(transmissionError(ctx, err))
	}

	encapsulation, err := protocol.ReadRecord(conn)
	if err != nil {
		return h.fail(transmissionError(ctx, err))
	}
	if err := h.ProcessEncapsulation(encapsulation); err != nil {
		return err
	}

	confirm, err := h.CreateConfirm()
	if err != nil {
		return err
	}
	if err := protocol.WriteRecord(conn, confirm); err != nil {
		return h.fail(transmissionError(ctx, err))
	}
	return nil
}

// Run drives h according to its role.
func Run(ctx context.Context, h *Handshake, conn io.ReadWriter) error {
	if h.role == RoleInitiator {
		return RunInitiator(ctx, h, conn)
	}
	return RunResponder(ctx, h, conn)
}
