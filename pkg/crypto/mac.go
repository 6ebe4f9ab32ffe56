// mac.go implements the keyed frame tag.
//
// The plain frame digest only detects accidental corruption. A Tagger instead
// computes HMAC-SHA3-256 under a key derived from the session key:
//
//	tag_key = HKDF-SHA3-256(ikm = session_key, salt = nil, info = "pqlink-v1-frame-tag")
//	tag     = HMAC-SHA3-256(tag_key, part_1 || part_2 || ...)
//
// so a party without the session key cannot forge a frame that verifies.
package crypto

import (
	"crypto/hmac"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/sara-star-quant/pqlink/internal/constants"
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
)

// TagSize is the length of a frame tag. It equals the digest size so a tag
// fits the frame's digest field.
const TagSize = constants.DigestSize

// Tagger computes and verifies keyed frame tags.
type Tagger struct {
	key []byte
}

// NewTagger derives a tag key from a 32-byte session key.
func NewTagger(sessionKey []byte) (*Tagger, error) {
	if len(sessionKey) != constants.SessionKeySize {
		return nil, qerrors.NewCryptoError("NewTagger", qerrors.ErrKeyMaterialInvalid)
	}

	key := make([]byte, TagSize)
	r := hkdf.New(sha3.New256, sessionKey, nil, []byte(constants.DomainSeparatorTag))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, qerrors.NewCryptoError("NewTagger", err)
	}

	return &Tagger{key: key}, nil
}

// Sum returns the tag over the concatenation of parts.
func (t *Tagger) Sum(parts ...[]byte) [TagSize]byte {
	var tag [TagSize]byte

	m := hmac.New(sha3.New256, t.key)
	for _, p := range parts {
		m.Write(p)
	}
	copy(tag[:], m.Sum(nil))
	return tag
}

// Verify reports, in constant time, whether tag is valid for parts.
func (t *Tagger) Verify(tag []byte, parts ...[]byte) bool {
	want := t.Sum(parts...)
	return hmac.Equal(tag, want[:])
}

// Zeroize erases the tag key. The Tagger must not be used afterwards.
func (t *Tagger) Zeroize() {
	Zeroize(t.key)
}
