// Package digest computes the SHA3-256 digests embedded in pqlink frames and
// handshake messages.
//
// The digest is unkeyed. It detects accidental corruption in transit, but an
// attacker who can rewrite a frame can recompute it. Channels that need
// protection against deliberate tampering should enable the keyed frame tag
// (see crypto.Tagger and tunnel.Config.Authenticate), which occupies the same
// 32-byte field.
package digest

import (
	"bufio"
	"crypto/subtle"
	"io"
	"os"

	"golang.org/x/crypto/sha3"

	"github.com/sara-star-quant/pqlink/internal/constants"
)

// Size is the length of a digest in bytes.
const Size = constants.DigestSize

// Digest is a SHA3-256 value.
type Digest [Size]byte

// Sum returns the SHA3-256 digest of b.
func Sum(b []byte) Digest {
	return Digest(sha3.Sum256(b))
}

// SumReader hashes everything read from r, consuming it in
// constants.DigestChunkSize chunks. Read errors are returned to the caller.
func SumReader(r io.Reader) (Digest, error) {
	var d Digest

	h := sha3.New256()
	buf := make([]byte, constants.DigestChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return d, err
		}
	}

	copy(d[:], h.Sum(nil))
	return d, nil
}

// SumFile hashes the file at path.
func SumFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	return SumReader(bufio.NewReaderSize(f, constants.DigestChunkSize))
}

// Equal compares two digests in constant time. Slices of different lengths
// are never equal.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Bytes returns the digest as a freshly allocated slice.
func (d Digest) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, d[:])
	return out
}

// Verify reports whether d is the digest of b.
func (d Digest) Verify(b []byte) bool {
	sum := Sum(b)
	return Equal(d[:], sum[:])
}
