package testutil

import (
	"io"
	"log"
	"strings"
	"sync"
	"testing"
)

// testWriter forwards log output to t.Log until the test finishes. Lines
// written afterwards by goroutines still draining are dropped.
type testWriter struct {
	mu   sync.Mutex
	t    testing.TB
	done bool
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.done {
		w.t.Log(strings.TrimRight(string(p), "\n"))
	}
	return len(p), nil
}

// TestLogger returns a logger whose output is attached to t.
func TestLogger(t testing.TB) *log.Logger {
	w := &testWriter{t: t}
	logger := log.New(w, "[test] ", log.Lmicroseconds)
	t.Cleanup(func() {
		w.mu.Lock()
		w.done = true
		w.mu.Unlock()
		logger.SetOutput(io.Discard)
	})
	return logger
}
