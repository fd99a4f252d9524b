package app

import (
	"os"
	"sync"
)

// TestModeEnv set to "1" makes the binaries skip external side effects such
// as enqueueing jobs and uploading backups.
const TestModeEnv = "PERIODLEDGER_TEST_MODE"

var testMode = sync.OnceValue(func() bool { return os.Getenv(TestModeEnv) == "1" })

// InTestMode reports whether runtime side effects are disabled.
func InTestMode() bool {
	return testMode()
}
