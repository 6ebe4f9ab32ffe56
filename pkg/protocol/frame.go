// frame.go implements the data frame codec used once a channel is Ready.
//
// Frame Format:
//
//	+--------+------+------------+--------+------+------------+
//	| Length | Type | [Filename] | Digest | IV   | Ciphertext |
//	| 8B BE  | 1B   | 256B       | 32B    | 16B  | Variable   |
//	+--------+------+------------+--------+------+------------+
//
// Length counts every byte after the length field. Filename is present only
// in FileStream frames and is NUL padded. Digest is SHA3-256(Ciphertext), or
// when the codec carries a Tagger, the keyed tag over every other byte of the
// frame.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sara-star-quant/pqlink/internal/constants"
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
	"github.com/sara-star-quant/pqlink/pkg/crypto"
	"github.com/sara-star-quant/pqlink/pkg/digest"
)

// Message is the decoded content of one data frame.
type Message struct {
	Type     constants.FrameType
	Filename string
	Payload  []byte
}

// Codec encrypts messages into frames and decrypts frames into messages under
// one session key.
type Codec struct {
	key      []byte
	tagger   *crypto.Tagger
	maxFrame uint64
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithTagger makes the codec carry a keyed tag in the digest field instead
// of the plain ciphertext digest. Both peers must agree.
func WithTagger(t *crypto.Tagger) CodecOption {
	return func(c *Codec) {
		c.tagger = t
	}
}

// WithMaxFrameSize bounds the declared length of frames the codec accepts
// and produces. Values <= 0 keep the default.
func WithMaxFrameSize(n int) CodecOption {
	return func(c *Codec) {
		if n > 0 {
			c.maxFrame = uint64(n)
		}
	}
}

// NewCodec creates a codec for the given 32-byte session key. The key is
// copied.
func NewCodec(sessionKey []byte, opts ...CodecOption) (*Codec, error) {
	if len(sessionKey) != constants.SessionKeySize {
		return nil, qerrors.NewCryptoError("Codec.New", qerrors.ErrKeyMaterialInvalid)
	}

	c := &Codec{
		key:      bytes.Clone(sessionKey),
		maxFrame: constants.DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MaxFrameSize returns the largest frame body the codec accepts.
func (c *Codec) MaxFrameSize() int {
	return int(c.maxFrame)
}

// EncodeStream encodes an application message as a Stream frame.
func (c *Codec) EncodeStream(payload []byte) ([]byte, error) {
	return c.Encode(&Message{Type: constants.FrameTypeStream, Payload: payload})
}

// EncodeFile encodes file contents as a FileStream frame.
func (c *Codec) EncodeFile(filename string, payload []byte) ([]byte, error) {
	return c.Encode(&Message{Type: constants.FrameTypeFileStream, Filename: filename, Payload: payload})
}

// Encode encrypts m and returns the complete frame, length prefix included.
func (c *Codec) Encode(m *Message) ([]byte, error) {
	if c.key == nil {
		return nil, qerrors.NewCryptoError("Codec.Encode", qerrors.ErrKeyMaterialInvalid)
	}
	if !m.Type.IsValid() {
		return nil, fmt.Errorf("%w: frame type %d", qerrors.ErrInvalidMessage, uint8(m.Type))
	}

	nameSize := 0
	if m.Type == constants.FrameTypeFileStream {
		if err := ValidateFilename(m.Filename); err != nil {
			return nil, err
		}
		nameSize = constants.FilenameSize
	}

	bodySize := uint64(constants.TypeTagSize+nameSize+constants.DigestSize+constants.IVSize) +
		uint64(crypto.CiphertextSize(len(m.Payload)))
	if bodySize > c.maxFrame {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d", qerrors.ErrMessageTooLarge, bodySize, c.maxFrame)
	}

	iv, ciphertext, err := crypto.Encrypt(c.key, m.Payload)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, constants.LengthPrefixSize+int(bodySize))
	binary.BigEndian.PutUint64(buf, bodySize)
	offset := constants.LengthPrefixSize

	buf[offset] = byte(m.Type)
	offset++

	if nameSize > 0 {
		copy(buf[offset:], m.Filename)
		offset += nameSize
	}

	digestField := buf[offset : offset+constants.DigestSize]
	offset += constants.DigestSize

	copy(buf[offset:], iv[:])
	offset += constants.IVSize

	copy(buf[offset:], ciphertext)

	sum := c.sum(buf[:len(buf)-len(ciphertext)-constants.IVSize-constants.DigestSize], iv[:], ciphertext)
	copy(digestField, sum[:])

	return buf, nil
}

// WriteFrame encodes m and writes the frame to w in a single Write.
func (c *Codec) WriteFrame(w io.Writer, m *Message) error {
	frame, err := c.Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrame reads exactly one frame from r and returns the decrypted message.
// The declared length is validated before any body buffer is allocated. A
// stream that ends before the length prefix yields io.EOF; one that ends
// inside a frame yields io.ErrUnexpectedEOF.
func (c *Codec) ReadFrame(r io.Reader) (*Message, error) {
	var header [constants.LengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint64(header[:])
	if err := c.checkLength(n); err != nil {
		return nil, err
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return c.decodeBody(header[:], body)
}

// DecodeFrame decodes a complete frame held in buf. buf must contain exactly
// one frame.
func (c *Codec) DecodeFrame(buf []byte) (*Message, error) {
	if len(buf) < constants.LengthPrefixSize {
		return nil, malformed("short length prefix")
	}

	n := binary.BigEndian.Uint64(buf)
	if err := c.checkLength(n); err != nil {
		return nil, err
	}
	if uint64(len(buf)-constants.LengthPrefixSize) != n {
		return nil, malformed(fmt.Sprintf("declared %d bytes, have %d", n, len(buf)-constants.LengthPrefixSize))
	}

	return c.decodeBody(buf[:constants.LengthPrefixSize], buf[constants.LengthPrefixSize:])
}

// Zeroize clears the session key. The codec is unusable afterwards.
func (c *Codec) Zeroize() {
	crypto.Zeroize(c.key)
	c.key = nil
	if c.tagger != nil {
		c.tagger.Zeroize()
	}
}

func (c *Codec) checkLength(n uint64) error {
	if n < constants.MinStreamFrameBody {
		return malformed(fmt.Sprintf("frame of %d bytes below minimum", n))
	}
	if n > c.maxFrame {
		return qerrors.NewParseError("Codec.Decode",
			fmt.Errorf("%w: %w: frame of %d bytes exceeds %d", qerrors.ErrMalformedFrame, qerrors.ErrMessageTooLarge, n, c.maxFrame))
	}
	return nil
}

func (c *Codec) decodeBody(header, body []byte) (*Message, error) {
	if c.key == nil {
		return nil, qerrors.NewCryptoError("Codec.Decode", qerrors.ErrKeyMaterialInvalid)
	}

	ft := constants.FrameType(body[0])
	if !ft.IsValid() {
		return nil, malformed(fmt.Sprintf("unknown frame type %d", body[0]))
	}
	if len(body) < ft.MinBodySize() {
		return nil, malformed(fmt.Sprintf("%s frame of %d bytes below minimum", ft, len(body)))
	}

	offset := constants.TypeTagSize
	m := &Message{Type: ft}

	if ft == constants.FrameTypeFileStream {
		name, err := parseFilename(body[offset : offset+constants.FilenameSize])
		if err != nil {
			return nil, err
		}
		m.Filename = name
		offset += constants.FilenameSize
	}

	prefixEnd := offset
	embedded := body[offset : offset+constants.DigestSize]
	offset += constants.DigestSize

	iv := body[offset : offset+constants.IVSize]
	offset += constants.IVSize

	ciphertext := body[offset:]
	if len(ciphertext)%constants.BlockSize != 0 {
		return nil, malformed(fmt.Sprintf("ciphertext of %d bytes is not block aligned", len(ciphertext)))
	}

	if !c.verify(embedded, header, body[:prefixEnd], iv, ciphertext) {
		return nil, qerrors.NewParseError("Codec.Decode", qerrors.ErrIntegrityMismatch)
	}

	plaintext, err := crypto.Decrypt(c.key, iv, ciphertext)
	if err != nil {
		return nil, err
	}
	m.Payload = plaintext
	return m, nil
}

// sum computes the digest field. prefix is every frame byte before the
// digest field.
func (c *Codec) sum(prefix, iv, ciphertext []byte) [constants.DigestSize]byte {
	if c.tagger != nil {
		return c.tagger.Sum(prefix, iv, ciphertext)
	}
	return digest.Sum(ciphertext)
}

func (c *Codec) verify(embedded, header, fields, iv, ciphertext []byte) bool {
	if c.tagger != nil {
		return c.tagger.Verify(embedded, header, fields, iv, ciphertext)
	}
	return digest.Sum(ciphertext).Verify(embedded)
}

// ValidateFilename reports whether name can be carried in a FileStream frame:
// non-empty, at most 256 bytes and free of NUL bytes.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty filename", qerrors.ErrInvalidMessage)
	}
	if len(name) > constants.FilenameSize {
		return fmt.Errorf("%w: %d bytes", qerrors.ErrFilenameTooLong, len(name))
	}
	if bytes.IndexByte([]byte(name), 0) >= 0 {
		return fmt.Errorf("%w: filename contains NUL", qerrors.ErrInvalidMessage)
	}
	return nil
}

func parseFilename(field []byte) (string, error) {
	end := bytes.IndexByte(field, 0)
	if end < 0 {
		end = len(field)
	}
	if end == 0 {
		return "", malformed("empty filename")
	}
	for _, b := range field[end:] {
		if b != 0 {
			return "", malformed("filename padding is not NUL")
		}
	}
	return string(field[:end]), nil
}

func malformed(detail string) error {
	return qerrors.NewParseError("Codec.Decode", fmt.Errorf("%w: %s", qerrors.ErrMalformedFrame, detail))
}
