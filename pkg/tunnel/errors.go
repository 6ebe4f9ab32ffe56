package tunnel

import (
	"errors"

	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
)

// Every error returned by a Channel is a *ChannelError carrying exactly one
// of these classes in its Class field. errors.Is also sees the cause, so a
// failed integrity check on decrypted data matches both ErrIntegrity and
// ErrCrypto. Use ChannelError.Class or ClassOf to get the single class.
var (
	ErrKeyGeneration = qerrors.ErrKeyGeneration
	ErrHandshake     = qerrors.ErrHandshake
	ErrTransmission  = qerrors.ErrTransmission
	ErrIntegrity     = qerrors.ErrIntegrity
	ErrCrypto        = qerrors.ErrCrypto
)

// Details that may accompany a class.
var (
	ErrChannelFaulted       = qerrors.ErrChannelFaulted
	ErrChannelClosed        = qerrors.ErrChannelClosed
	ErrRoleMismatch         = qerrors.ErrRoleMismatch
	ErrInvalidState         = qerrors.ErrInvalidState
	ErrUnsupportedAlgorithm = qerrors.ErrUnsupportedAlgorithm
	ErrFilenameTooLong      = qerrors.ErrFilenameTooLong
	ErrMessageTooLarge      = qerrors.ErrMessageTooLarge
	ErrInvalidMessage       = qerrors.ErrInvalidMessage
	ErrRateLimited          = qerrors.ErrRateLimited

	ErrPoolClosed      = qerrors.ErrPoolClosed
	ErrPoolExhausted   = qerrors.ErrPoolExhausted
	ErrChannelReleased = qerrors.ErrChannelReleased
)

// ChannelError carries an error's class, the operation and the cause.
type ChannelError = qerrors.ChannelError

// ClassOf returns the class of err: the Class of the outermost ChannelError
// in its chain, or the first class sentinel err matches otherwise.
func ClassOf(err error) error {
	var ce *ChannelError
	if errors.As(err, &ce) && ce.Class != nil {
		return ce.Class
	}
	return qerrors.Classify(err)
}
