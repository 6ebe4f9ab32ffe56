package tunnel

import (
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
)

// classifyFrameError returns the class a failed Read or Write belongs to.
// Anything that carries no class of its own, such as io.EOF or a net error,
// is a transmission failure. A frame that cannot be parsed is treated as
// corrupted in transit.
func classifyFrameError(err error) error {
	var perr *qerrors.ParseError
	if qerrors.As(err, &perr) {
		return qerrors.ErrIntegrity
	}
	if class := qerrors.Classify(err); class != nil {
		return class
	}
	return qerrors.ErrTransmission
}

// classifyHandshakeError returns the class a failed handshake belongs to.
// Key generation failures keep their class; everything else, transport
// failures included, is a handshake failure.
func classifyHandshakeError(err error) error {
	if qerrors.Is(err, qerrors.ErrKeyGeneration) {
		return qerrors.ErrKeyGeneration
	}
	return qerrors.ErrHandshake
}
