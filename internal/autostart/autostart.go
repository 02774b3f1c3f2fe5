// Package autostart registers the application to start at user login.
package autostart

import (
	"errors"
	"fmt"
	"os"
)

// ErrUnsupported is returned on platforms without an autostart backend.
var ErrUnsupported = errors.ErrUnsupported

// Manager toggles start-at-login for one executable.
type Manager struct {
	name string
	exe  string
}

// New returns a Manager registering exe under name. An empty exe means the
// running executable.
func New(name, exe string) (*Manager, error) {
	if name == "" {
		return nil, errors.New("autostart entry name is required")
	}
	if exe == "" {
		path, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		exe = path
	}
	return &Manager{name: name, exe: exe}, nil
}

// Name returns the entry name.
func (m *Manager) Name() string { return m.name }

// Apply makes the registration match enabled.
func (m *Manager) Apply(enabled bool) error {
	if enabled {
		return m.enable()
	}
	return m.disable()
}

// Enabled reports whether the entry is registered.
func (m *Manager) Enabled() (bool, error) {
	return m.enabled()
}

func quoted(path string) string {
	return `"` + path + `"`
}
