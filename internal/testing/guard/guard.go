// Package guard switches the process into test mode on import and gates
// tests that need live infrastructure.
package guard

import (
	"os"
	"sync"
	"testing"
)

const testModeEnv = "PERIODLEDGER_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}

// RequireEnv returns the value of key or skips the test when it is unset.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set; skipping test that needs live infrastructure", key)
	}
	return v
}
