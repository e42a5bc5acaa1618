package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// WaitForCondition polls condition every 5ms until it holds or timeout
// passes. It reports whether the condition was met.
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}

// RequireEventually fails the test if condition does not hold within timeout.
func RequireEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	require.True(t, WaitForCondition(t, timeout, condition), "Condition not met within %v: %s", timeout, msg)
}

// WaitForCount waits for counter to reach expected. Overshooting fails
// immediately, since counts here only grow.
func WaitForCount(t *testing.T, timeout time.Duration, counter func() int, expected int) {
	t.Helper()
	var last int
	RequireEventually(t, timeout, func() bool {
		last = counter()
		require.LessOrEqual(t, last, expected, "count overshot")
		return last == expected
	}, fmt.Sprintf("Expected count %d", expected))
}

// WaitForState waits for getter to return expected.
func WaitForState[T comparable](t *testing.T, timeout time.Duration, getter func() T, expected T) {
	t.Helper()
	RequireEventually(t, timeout, func() bool {
		return getter() == expected
	}, fmt.Sprintf("Expected state %v", expected))
}
