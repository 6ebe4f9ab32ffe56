package protocol_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/sara-star-quant/pqlink/internal/constants"
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
	"github.com/sara-star-quant/pqlink/pkg/protocol"
)

func TestRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	bodies := [][]byte{{0x01}, bytes.Repeat([]byte{0xAB}, 1600), make([]byte, constants.MaxRecordSize)}

	for _, b := range bodies {
		if err := protocol.WriteRecord(&buf, b); err != nil {
			t.Fatalf("WriteRecord(%d bytes) failed: %v", len(b), err)
		}
	}

	for _, want := range bodies {
		got, err := protocol.ReadRecord(&buf)
		if err != nil {
			t.Fatalf("ReadRecord failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("record mismatch: got %d bytes, want %d", len(got), len(want))
		}
	}

	if _, err := protocol.ReadRecord(&buf); err != io.EOF {
		t.Errorf("expected io.EOF on empty stream, got %v", err)
	}
}

func TestWriteRecordTooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := protocol.WriteRecord(&buf, make([]byte, constants.MaxRecordSize+1))
	if !errors.Is(err, qerrors.ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Error("nothing should be written for an oversized record")
	}
}

func TestReadRecordInvalid(t *testing.T) {
	header := func(n uint64) []byte {
		b := make([]byte, constants.LengthPrefixSize)
		binary.BigEndian.PutUint64(b, n)
		return b
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"zero length", header(0), qerrors.ErrInvalidMessage},
		{"oversized", header(constants.MaxRecordSize + 1), qerrors.ErrMessageTooLarge},
		{"huge", header(^uint64(0)), qerrors.ErrMessageTooLarge},
		{"truncated body", append(header(10), 1, 2, 3), io.ErrUnexpectedEOF},
		{"missing body", header(10), io.ErrUnexpectedEOF},
		{"truncated header", []byte{0, 0, 0}, io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.ReadRecord(bytes.NewReader(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadRecordConsumesExactly(t *testing.T) {
	var buf bytes.Buffer
	if err := protocol.WriteRecord(&buf, []byte("first")); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("trailing")

	if _, err := protocol.ReadRecord(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "trailing" {
		t.Errorf("ReadRecord consumed bytes past the record: %q left", buf.String())
	}
}
