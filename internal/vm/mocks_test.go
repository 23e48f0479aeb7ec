package vm

import (
	"context"
	"strings"
	"sync"
)

// mockRunner is a mock implementation of the runner interface for testing.
type mockRunner struct {
	mu sync.Mutex

	// Configurable behavior
	runFunc func(argv []string) error

	// Call tracking
	calls [][]string
}

// newMockRunner creates a new mock runner where every command succeeds.
func newMockRunner() *mockRunner {
	m := &mockRunner{}

	// Default: every command succeeds
	m.runFunc = func(argv []string) error {
		return nil
	}

	return m
}

func (m *mockRunner) Run(_ context.Context, argv []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]string(nil), argv...))
	return m.runFunc(argv)
}

// callsStartingWith returns the recorded calls whose argv begins with prefix.
func (m *mockRunner) callsStartingWith(prefix ...string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]string
	for _, c := range m.calls {
		if len(c) >= len(prefix) && strings.Join(c[:len(prefix)], " ") == strings.Join(prefix, " ") {
			out = append(out, c)
		}
	}
	return out
}
