// cbc.go implements the symmetric cipher engine: AES-256 in CBC mode with
// PKCS#7 padding.
//
// Before encryption the SHA3-256 digest of the plaintext is appended, so a
// successful Decrypt proves the recovered plaintext is the one that was
// encrypted under this key:
//
//	ciphertext = AES-256-CBC(key, iv, PKCS7(plaintext || SHA3-256(plaintext)))
//
// A fresh random 16-byte IV is drawn from Reader for every call to Encrypt.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"

	"github.com/sara-star-quant/pqlink/internal/constants"
	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
	"github.com/sara-star-quant/pqlink/pkg/digest"
)

// IV is a CBC initialization vector.
type IV [constants.IVSize]byte

// Encrypt encrypts plaintext under a 32-byte key with a fresh random IV.
// Plaintext of any length, including zero, is accepted.
func Encrypt(key, plaintext []byte) (IV, []byte, error) {
	var iv IV
	if len(key) != constants.SessionKeySize {
		return iv, nil, qerrors.NewCryptoError("Encrypt", qerrors.ErrKeyMaterialInvalid)
	}
	if err := SecureRandom(iv[:]); err != nil {
		return iv, nil, err
	}

	ct, err := EncryptWithIV(key, iv[:], plaintext)
	if err != nil {
		return iv, nil, err
	}
	return iv, ct, nil
}

// EncryptWithIV is Encrypt with a caller-chosen IV. Reusing an IV under the
// same key leaks whether two messages share a prefix; callers outside of tests
// should use Encrypt.
func EncryptWithIV(key, iv, plaintext []byte) ([]byte, error) {
	block, err := newBlock("Encrypt", key, iv)
	if err != nil {
		return nil, err
	}

	// len(plaintext)+DigestSize rounded up to the next full block; PKCS#7
	// always adds between 1 and BlockSize bytes.
	body := len(plaintext) + constants.DigestSize
	pad := constants.BlockSize - body%constants.BlockSize
	buf := make([]byte, body+pad)

	copy(buf, plaintext)
	sum := digest.Sum(plaintext)
	copy(buf[len(plaintext):], sum[:])
	for i := body; i < len(buf); i++ {
		buf[i] = byte(pad)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(buf, buf)
	return buf, nil
}

// Decrypt reverses Encrypt. It removes the padding, strips the trailing digest
// and checks it against the recovered plaintext. No plaintext is returned
// unless every check passes.
func Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := newBlock("Decrypt", key, iv)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%constants.BlockSize != 0 {
		return nil, qerrors.NewCryptoError("Decrypt", qerrors.ErrPaddingInvalid)
	}

	buf := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(buf, ciphertext)

	n, ok := unpad(buf)
	if !ok {
		Zeroize(buf)
		return nil, qerrors.NewCryptoError("Decrypt", qerrors.ErrPaddingInvalid)
	}
	if n < constants.DigestSize {
		Zeroize(buf)
		return nil, qerrors.NewCryptoError("Decrypt", qerrors.ErrIntegrityMismatch)
	}

	end := n - constants.DigestSize
	plaintext := buf[:end:end]
	if !digest.Digest(buf[end:n]).Verify(plaintext) {
		Zeroize(buf)
		return nil, qerrors.NewCryptoError("Decrypt", qerrors.ErrIntegrityMismatch)
	}

	return plaintext, nil
}

// CiphertextSize returns the exact ciphertext length Encrypt produces for a
// plaintext of n bytes.
func CiphertextSize(n int) int {
	body := n + constants.DigestSize
	return body + constants.BlockSize - body%constants.BlockSize
}

func newBlock(op string, key, iv []byte) (cipher.Block, error) {
	if len(key) != constants.SessionKeySize || len(iv) != constants.IVSize {
		return nil, qerrors.NewCryptoError(op, qerrors.ErrKeyMaterialInvalid)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, qerrors.NewCryptoError(op, qerrors.ErrKeyMaterialInvalid)
	}
	return block, nil
}

// unpad validates PKCS#7 padding in time independent of the padding value and
// returns the unpadded length.
func unpad(buf []byte) (int, bool) {
	padLen := int(buf[len(buf)-1])

	good := subtle.ConstantTimeLessOrEq(1, padLen) &
		subtle.ConstantTimeLessOrEq(padLen, constants.BlockSize)

	for i := 1; i <= constants.BlockSize; i++ {
		inPad := subtle.ConstantTimeLessOrEq(i, padLen)
		match := subtle.ConstantTimeByteEq(buf[len(buf)-i], byte(padLen))
		// Bytes inside the padding must equal padLen; bytes outside are ignored.
		good &= match | (inPad ^ 1)
	}

	if good != 1 {
		return 0, false
	}
	return len(buf) - padLen, true
}
