//go:build !windows

package autostart

import (
	"errors"
	"testing"
)

func TestUnsupportedPlatform(t *testing.T) {
	t.Parallel()

	m, err := New("statbar", "/usr/bin/statbar")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Apply(true); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Apply(true) = %v, want ErrUnsupported", err)
	}
	if err := m.Apply(false); err != nil {
		t.Fatalf("Apply(false) = %v", err)
	}
	if on, err := m.Enabled(); on || err != nil {
		t.Fatalf("Enabled = %v, %v", on, err)
	}
}
