package core_test

import (
	"testing"

	"go.uber.org/goleak"
)

// Every kernel a test creates is shut down in cleanup; a thread goroutine
// still alive afterwards is a leak.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
