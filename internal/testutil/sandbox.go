// Package testutil provides shared test scaffolding.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Sandbox is an isolated temporary data directory for persistence tests.
type Sandbox struct {
	Root string
}

// NewSandbox creates a sandbox tied to the test's lifetime; cleanup is
// automatic.
func NewSandbox(t *testing.T) *Sandbox {
	t.Helper()
	return &Sandbox{Root: t.TempDir()}
}

// Path returns the absolute path for a file within the sandbox.
func (s *Sandbox) Path(name string) string {
	return filepath.Join(s.Root, name)
}

// WriteFile writes data to the named file inside the sandbox.
func (s *Sandbox) WriteFile(t *testing.T, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(s.Path(name), data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// ReadFile reads the named file inside the sandbox.
func (s *Sandbox) ReadFile(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return data
}
