// Package guard switches the process into test mode when imported for side
// effects, so request logging and other runtime noise stay quiet in tests.
package guard

import (
	"os"
	"sync"
)

// EnvVar names the flag read by app.InTestMode.
const EnvVar = "AGRILEDGER_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(EnvVar) == "" {
			_ = os.Setenv(EnvVar, "1")
		}
	})
}
