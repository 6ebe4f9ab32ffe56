// selftest.go implements the process-wide initialization of the crypto layer.
//
// Init runs known-answer tests against every primitive the channel relies on
// before any key material is produced:
//   - SHA3-256 (frame and handshake digests)
//   - SHAKE-256 (key derivation)
//   - AES-256-CBC (NIST SP 800-38A, F.2.5) and the padded, digest-checked engine
//   - ML-KEM-1024 (deterministic key pair, encapsulate/decapsulate round trip)
//
// Init is explicit: nothing runs at package load. It is safe to call from any
// number of goroutines, the tests execute once, and every caller observes the
// same result. A failed self-test is reported as an error, never a panic.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	qerrors "github.com/sara-star-quant/pqlink/internal/errors"
	"github.com/sara-star-quant/pqlink/pkg/digest"
)

// Known-answer values
var (
	// SHA3-256("abc"), FIPS 202 example
	selfTestDigestInput       = []byte("abc")
	selfTestDigestExpected, _ = hex.DecodeString("3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532")

	// DeriveKey(SelfTestDomain, 0x0123456789abcdef * 4, 32)
	selfTestKDFInput, _    = hex.DecodeString("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	selfTestKDFExpected, _ = hex.DecodeString("000f8b314d31c7a9525e2723730d4eb13e4321f9a279f3e2f26346aff0ca301c")

	// NIST SP 800-38A F.2.5 CBC-AES256.Encrypt, first block
	selfTestAESKey, _       = hex.DecodeString("603deb1015ca71be2b73aef0857d77811f352c073b6108d72d9810a30914dff4")
	selfTestAESIV, _        = hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	selfTestAESPlaintext, _ = hex.DecodeString("6bc1bee22e409f96e93d7e117393172a")
	selfTestAESExpected, _  = hex.DecodeString("f58c4c04d6e5f1ba779eabfb5f7bfbd6")

	selfTestMLKEMSeed, _ = hex.DecodeString(
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef" +
			"fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210")
)

// SelfTestDomain is the domain separator used by the KDF known-answer test
const SelfTestDomain = "pqlink-v1-selftest"

// SelfTestResult contains the results of the initialization self-tests
type SelfTestResult struct {
	Passed       bool
	DigestPassed bool
	KDFPassed    bool
	AESPassed    bool
	MLKEMPassed  bool
	Errors       []string
}

var (
	selfTestResult atomic.Pointer[SelfTestResult]
	selfTestOnce   sync.Once
)

// Init runs the self-tests once per process and reports whether the crypto
// layer may be used. The returned error matches qerrors.ErrSelfTestFailed.
func Init() error {
	result := RunSelfTest()
	if !result.Passed {
		return fmt.Errorf("%w: %v", qerrors.ErrSelfTestFailed, result.Errors)
	}
	return nil
}

// RunSelfTest executes the self-tests and returns the cached results.
func RunSelfTest() *SelfTestResult {
	selfTestOnce.Do(func() {
		r := &SelfTestResult{Passed: true}

		check := func(name string, passed *bool, fn func() error) {
			if err := fn(); err != nil {
				r.Passed = false
				r.Errors = append(r.Errors, fmt.Sprintf("%s KAT failed: %v", name, err))
				return
			}
			*passed = true
		}

		check("SHA3-256", &r.DigestPassed, runDigestKAT)
		check("KDF", &r.KDFPassed, runKDFKAT)
		check("AES-256-CBC", &r.AESPassed, runAESCBCKAT)
		check("ML-KEM", &r.MLKEMPassed, runMLKEMKAT)

		selfTestResult.Store(r)
	})

	return selfTestResult.Load()
}

// SelfTestPassed returns true if the self-tests have run and all of them
// passed. It never waits for a run in progress.
func SelfTestPassed() bool {
	r := selfTestResult.Load()
	return r != nil && r.Passed
}

func runDigestKAT() error {
	sum := digest.Sum(selfTestDigestInput)
	if !bytes.Equal(sum[:], selfTestDigestExpected) {
		return fmt.Errorf("digest mismatch: got %x, want %x", sum, selfTestDigestExpected)
	}
	return nil
}

func runKDFKAT() error {
	output, err := DeriveKey(SelfTestDomain, selfTestKDFInput, 32)
	if err != nil {
		return fmt.Errorf("DeriveKey failed: %w", err)
	}
	if !bytes.Equal(output, selfTestKDFExpected) {
		return fmt.Errorf("KDF output mismatch: got %x, want %x", output, selfTestKDFExpected)
	}
	return nil
}

// runAESCBCKAT checks raw CBC against the NIST vector, then the padded engine
// round trip under the same key.
func runAESCBCKAT() error {
	block, err := aes.NewCipher(selfTestAESKey)
	if err != nil {
		return fmt.Errorf("NewCipher failed: %w", err)
	}

	out := make([]byte, len(selfTestAESPlaintext))
	cipher.NewCBCEncrypter(block, selfTestAESIV).CryptBlocks(out, selfTestAESPlaintext)
	if !bytes.Equal(out, selfTestAESExpected) {
		return fmt.Errorf("CBC encrypt mismatch: got %x, want %x", out, selfTestAESExpected)
	}

	ct, err := EncryptWithIV(selfTestAESKey, selfTestAESIV, selfTestAESPlaintext)
	if err != nil {
		return fmt.Errorf("Encrypt failed: %w", err)
	}
	if len(ct) != CiphertextSize(len(selfTestAESPlaintext)) {
		return fmt.Errorf("ciphertext size mismatch: got %d, want %d", len(ct), CiphertextSize(len(selfTestAESPlaintext)))
	}
	// With the same key and IV the first block matches raw CBC.
	if !bytes.Equal(ct[:len(selfTestAESExpected)], selfTestAESExpected) {
		return fmt.Errorf("engine first block mismatch: got %x", ct[:16])
	}

	pt, err := Decrypt(selfTestAESKey, selfTestAESIV, ct)
	if err != nil {
		return fmt.Errorf("Decrypt failed: %w", err)
	}
	if !bytes.Equal(pt, selfTestAESPlaintext) {
		return fmt.Errorf("decrypt mismatch: got %x, want %x", pt, selfTestAESPlaintext)
	}
	return nil
}

// runMLKEMKAT is a pairwise consistency test on a deterministic key pair.
func runMLKEMKAT() error {
	kp, err := NewMLKEMKeyPairFromSeed(selfTestMLKEMSeed)
	if err != nil {
		return fmt.Errorf("NewMLKEMKeyPairFromSeed failed: %w", err)
	}
	defer kp.Zeroize()

	if n := len(kp.PublicKeyBytes()); n != 1568 {
		return fmt.Errorf("public key size mismatch: got %d, want 1568", n)
	}

	ciphertext, ss1, err := MLKEMEncapsulate(kp.EncapsulationKey)
	if err != nil {
		return fmt.Errorf("MLKEMEncapsulate failed: %w", err)
	}
	ss2, err := MLKEMDecapsulate(kp.DecapsulationKey, ciphertext)
	if err != nil {
		return fmt.Errorf("MLKEMDecapsulate failed: %w", err)
	}
	if !bytes.Equal(ss1, ss2) {
		return fmt.Errorf("shared secret mismatch after decapsulation")
	}
	return nil
}
