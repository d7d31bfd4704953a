// Package testutil holds helpers shared by the integration tests.
package testutil

import (
	"testing"
	"time"
)

// Eventually polls cond every 10ms until it returns true or timeout
// elapses, then fails the test with msg.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s: condition not met within %v", msg, timeout)
}
