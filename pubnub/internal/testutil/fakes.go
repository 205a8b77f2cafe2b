package testutil

import (
	"sync"
	"testing"
	"time"
)

// Counter is a deterministic integer counter for tests.
type Counter struct {
	lock  sync.Mutex
	value int
}

// Next increments and returns counter value.
func (counter *Counter) Next() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	counter.value++
	return counter.value
}

// Value returns the current counter value.
func (counter *Counter) Value() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	return counter.value
}

// Eventually polls condition every few milliseconds until it returns true
// or timeout elapses. It reports whether the condition was met.
func Eventually(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// WaitFor fails the test when condition does not hold within timeout.
func WaitFor(t testing.TB, timeout time.Duration, description string, condition func() bool) {
	t.Helper()
	if !Eventually(timeout, condition) {
		t.Fatalf("timed out after %v waiting for %s", timeout, description)
	}
}
