package protocol_test

import (
	"bytes"
	"testing"

	"github.com/sara-star-quant/pqlink/internal/constants"
	"github.com/sara-star-quant/pqlink/pkg/kem"
	"github.com/sara-star-quant/pqlink/pkg/protocol"
)

// FuzzDecodeFrame fuzzes the data frame decoder, which processes untrusted
// input from the network.
//
//	go test -fuzz=FuzzDecodeFrame -fuzztime=30s ./pkg/protocol/
func FuzzDecodeFrame(f *testing.F) {
	key := bytes.Repeat([]byte{0x01}, constants.SessionKeySize)
	c, err := protocol.NewCodec(key, protocol.WithMaxFrameSize(1<<16))
	if err != nil {
		f.Fatal(err)
	}

	stream, _ := c.EncodeStream([]byte("seed"))
	file, _ := c.EncodeFile("seed.txt", []byte("seed"))
	f.Add(stream)
	f.Add(file)
	f.Add([]byte{})
	f.Add(make([]byte, constants.LengthPrefixSize))
	f.Add(make([]byte, constants.LengthPrefixSize+constants.MinStreamFrameBody))

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := c.DecodeFrame(data)
		if err != nil {
			if msg != nil {
				t.Error("DecodeFrame returned a message alongside an error")
			}
			return
		}

		// Anything that decodes must re-encode to a frame that decodes to the
		// same message.
		again, err := c.Encode(msg)
		if err != nil {
			t.Fatalf("re-encode failed: %v", err)
		}
		back, err := c.DecodeFrame(again)
		if err != nil {
			t.Fatalf("decode of re-encoded frame failed: %v", err)
		}
		if back.Type != msg.Type || back.Filename != msg.Filename || !bytes.Equal(back.Payload, msg.Payload) {
			t.Error("re-encoded frame decodes differently")
		}
	})
}

// FuzzReadFrame checks that the stream reader never panics and never reads
// past the declared frame length.
func FuzzReadFrame(f *testing.F) {
	key := bytes.Repeat([]byte{0x02}, constants.SessionKeySize)
	c, err := protocol.NewCodec(key, protocol.WithMaxFrameSize(1<<16))
	if err != nil {
		f.Fatal(err)
	}

	frame, _ := c.EncodeStream([]byte("seed"))
	f.Add(append(frame, "tail"...))
	f.Add([]byte{0, 0, 0, 0, 0, 0, 0, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		r := bytes.NewReader(data)
		if _, err := c.ReadFrame(r); err != nil {
			return
		}
		if consumed := len(data) - r.Len(); consumed < constants.LengthPrefixSize+constants.MinStreamFrameBody {
			t.Errorf("decoded a frame from only %d bytes", consumed)
		}
	})
}

// FuzzDecodeHandshake fuzzes every handshake message decoder.
func FuzzDecodeHandshake(f *testing.F) {
	f.Add(protocol.EncodeHello(&protocol.Hello{Version: protocol.Current, Role: protocol.RoleInitiator, Algorithm: kem.Default}))
	f.Add(protocol.EncodeKeyShare(&protocol.KeyShare{Role: protocol.RoleResponder, Algorithm: kem.Default, PublicKey: []byte{1}}))
	f.Add(protocol.EncodeEncapsulation(protocol.NewEncapsulation([]byte{1, 2, 3})))
	f.Add([]byte{byte(protocol.MessageTypeConfirm)})

	f.Fuzz(func(t *testing.T, data []byte) {
		if m, err := protocol.DecodeHello(data); err == nil {
			if !bytes.Equal(protocol.EncodeHello(m), data) {
				t.Error("Hello does not re-encode to its input")
			}
		}
		if m, err := protocol.DecodeKeyShare(data); err == nil {
			if !bytes.Equal(protocol.EncodeKeyShare(m), data) {
				t.Error("KeyShare does not re-encode to its input")
			}
		}
		if m, err := protocol.DecodeEncapsulation(data); err == nil {
			if !bytes.Equal(protocol.EncodeEncapsulation(m), data) {
				t.Error("Encapsulation does not re-encode to its input")
			}
		}
		if m, err := protocol.DecodeConfirm(data); err == nil {
			enc, err := protocol.EncodeConfirm(m)
			if err != nil || !bytes.Equal(enc, data) {
				t.Error("Confirm does not re-encode to its input")
			}
		}
	})
}
