package source

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/skobkin/statbar/internal/gpu"
	"github.com/skobkin/statbar/internal/metrics"
)

// GPU reports the first discovered accelerator. A host without one yields the
// explicit no-device sample on every tick.
type GPU struct {
	device gpu.Device
	logger *slog.Logger
}

// NewGPU discovers devices across backends and opens the first one. Discovery
// finding nothing is not an error.
func NewGPU(ctx context.Context, backends []gpu.Backend, logger *slog.Logger) (*GPU, error) {
	if logger == nil {
		logger = slog.Default()
	}
	devices, err := gpu.Discover(ctx, backends, logger)
	if err != nil {
		return nil, &InitError{Kind: metrics.KindGPU, Err: err}
	}
	g := &GPU{logger: logger}
	if len(devices) == 0 {
		return g, nil
	}

	g.device = devices[0]
	var errs []error
	for _, extra := range devices[1:] {
		if err := extra.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Debug("failed to close unused gpu devices", "err", err)
	}

	info := g.device.Info()
	logger.Info("gpu selected", "id", info.ID, "backend", info.Backend, "name", info.Name, "available", len(devices))
	return g, nil
}

func (g *GPU) Kind() metrics.Kind { return metrics.KindGPU }

// NoDevice reports whether discovery found no accelerator.
func (g *GPU) NoDevice() bool { return g.device == nil }

// Device returns the selected device info.
func (g *GPU) Device() (gpu.Info, bool) {
	if g.device == nil {
		return gpu.Info{}, false
	}
	return g.device.Info(), true
}

// Sample retries a failed read once before reporting it.
func (g *GPU) Sample(ctx context.Context) (metrics.Sample, error) {
	if g.device == nil {
		return metrics.NoGPU(), nil
	}

	reading, err := g.device.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return metrics.Sample{}, readError("gpu read", err)
		}
		g.logger.Debug("gpu read failed, retrying", "err", err)
		reading, err = g.device.Read(ctx)
		if err != nil {
			return metrics.Sample{}, readError("gpu read", err)
		}
	}

	return metrics.GPUSample(metrics.GPU{
		Name:        g.device.Info().Name,
		UsagePct:    clampPtr(reading.UsagePct),
		TempC:       finitePtr(reading.TempC),
		ClockMHz:    finitePtr(reading.ClockMHz),
		PowerW:      finitePtr(reading.PowerW),
		VRAMUsedGB:  gibPtr(reading.VRAMUsedBytes),
		VRAMTotalGB: gibPtr(reading.VRAMTotalBytes),
	}), nil
}

func (g *GPU) Close() error {
	if g.device == nil {
		return nil
	}
	return g.device.Close()
}

func clampPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return metrics.Float64(clampPercent(*v))
}

// finitePtr treats a non-finite reading as unreported and clamps negatives.
func finitePtr(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return metrics.Float64(nonNegative(*v))
}

func gibPtr(v *uint64) *float64 {
	if v == nil {
		return nil
	}
	return metrics.Float64(float64(*v) / bytesPerGiB)
}
