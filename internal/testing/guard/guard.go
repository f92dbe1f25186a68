// Package guard forces test mode before any application init code runs.
// Test packages that exercise session or queue infrastructure blank-import
// it so a misconfigured environment never reaches a live backend.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("CAREBOOK_TEST_MODE") == "" {
			_ = os.Setenv("CAREBOOK_TEST_MODE", "1")
		}
	})
}
