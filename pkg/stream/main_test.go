package stream_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain enables goroutine leak detection for all tests in this package.
// This catches leaked waiters from Next and leaked sink completion timers.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
