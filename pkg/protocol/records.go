package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sara-star-quant/pqlink/internal/constants"
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
)

// WriteRecord writes body as one length-prefixed handshake record.
func WriteRecord(w io.Writer, body []byte) error {
	if len(body) > constants.MaxRecordSize {
		return qerrors.ErrMessageTooLarge
	}

	buf := make([]byte, constants.LengthPrefixSize+len(body))
	binary.BigEndian.PutUint64(buf, uint64(len(body)))
	copy(buf[constants.LengthPrefixSize:], body)

	_, err := w.Write(buf)
	return err
}

// ReadRecord reads one handshake record and returns its body. A peer that
// closes before sending anything yields io.EOF; a record cut short yields
// io.ErrUnexpectedEOF.
func ReadRecord(r io.Reader) ([]byte, error) {
	var header [constants.LengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint64(header[:])
	if n == 0 {
		return nil, fmt.Errorf("%w: empty record", qerrors.ErrInvalidMessage)
	}
	if n > constants.MaxRecordSize {
		return nil, fmt.Errorf("%w: record of %d bytes", qerrors.ErrMessageTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}
