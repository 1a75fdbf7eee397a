package spec

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain leak-checks every test in this package: SegmentCache
// coalesces concurrent builders and wakes waiters via channels, and a
// bug that leaves a waiter goroutine parked would otherwise pass
// silently.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
