package crypto_test

import (
	"sync"
	"testing"

	"github.com/sara-star-quant/pqlink/pkg/crypto"
)

// TestInit verifies that explicit initialization succeeds
func TestInit(t *testing.T) {
	if err := crypto.Init(); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if !crypto.SelfTestPassed() {
		t.Error("SelfTestPassed() should be true after a successful Init")
	}
}

// TestRunSelfTest verifies the result structure
func TestRunSelfTest(t *testing.T) {
	result := crypto.RunSelfTest()

	if result == nil {
		t.Fatal("RunSelfTest() returned nil")
	}
	if !result.Passed {
		t.Errorf("self-test failed with errors: %v", result.Errors)
	}
	if !result.DigestPassed {
		t.Error("SHA3-256 KAT should have passed")
	}
	if !result.KDFPassed {
		t.Error("KDF KAT should have passed")
	}
	if !result.AESPassed {
		t.Error("AES-256-CBC KAT should have passed")
	}
	if !result.MLKEMPassed {
		t.Error("ML-KEM KAT should have passed")
	}
}

// TestRunSelfTestOnce verifies that concurrent callers share one run
func TestRunSelfTestOnce(t *testing.T) {
	const n = 8
	results := make([]*crypto.SelfTestResult, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = crypto.RunSelfTest()
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatal("RunSelfTest() should return the same result on every call")
		}
	}
}

// TestSelfTestPassedConcurrent reads the result while the self-tests run
func TestSelfTestPassedConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = crypto.RunSelfTest()
		}()
		go func() {
			defer wg.Done()
			_ = crypto.SelfTestPassed()
		}()
	}
	wg.Wait()

	if !crypto.SelfTestPassed() {
		t.Error("SelfTestPassed() should be true once RunSelfTest has returned")
	}
}
