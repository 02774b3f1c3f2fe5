// Package gpu discovers accelerator devices and reads their telemetry through
// vendor-specific backends.
package gpu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Info describes a discovered device.
type Info struct {
	Index   int    `json:"index"`
	ID      string `json:"id"`
	Backend string `json:"backend"`
	Name    string `json:"name"`
	PCI     string `json:"pci,omitempty"`
	PCIID   string `json:"pci_id,omitempty"`
}

// Reading is a single telemetry read. Nil fields were not reported.
type Reading struct {
	UsagePct       *float64
	TempC          *float64
	ClockMHz       *float64
	PowerW         *float64
	VRAMUsedBytes  *uint64
	VRAMTotalBytes *uint64
}

// Device is an open handle to one accelerator.
type Device interface {
	Info() Info
	Read(ctx context.Context) (Reading, error)
	Close() error
}

// Backend enumerates the devices of one vendor stack. A host without the
// vendor's driver reports zero devices and no error.
type Backend interface {
	Name() string
	Discover(ctx context.Context) ([]Device, error)
}

// Discover queries backends in order and concatenates their devices, so device
// order is stable for a given host. A backend error is only returned when no
// backend produced a device.
func Discover(ctx context.Context, backends []Backend, logger *slog.Logger) ([]Device, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var (
		devices []Device
		errs    []error
	)
	for _, backend := range backends {
		found, err := backend.Discover(ctx)
		if err != nil {
			logger.Debug("gpu backend discovery failed", "backend", backend.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			continue
		}
		logger.Debug("gpu backend discovery complete", "backend", backend.Name(), "devices", len(found))
		devices = append(devices, found...)
	}

	if len(devices) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return devices, nil
}

func float64Ptr(value float64) *float64 {
	v := value
	return &v
}

func uint64Ptr(value uint64) *uint64 {
	v := value
	return &v
}
