//go:build !windows

package autostart

func (m *Manager) enable() error { return ErrUnsupported }

func (m *Manager) disable() error { return nil }

func (m *Manager) enabled() (bool, error) { return false, nil }
