package decode

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain leak-checks every test in this package: Pool.DecodeAll fans
// out one goroutine per source, and a bug that leaves one blocked past
// a cancelled context would otherwise pass silently.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
