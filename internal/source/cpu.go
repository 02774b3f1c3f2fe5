package source

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/skobkin/statbar/internal/metrics"
)

const (
	bytesPerGiB = 1 << 30

	// Clock queries are slow on some platforms (WMI), so the frequency is
	// refreshed less often than usage.
	defaultFreqRefresh = 5 * time.Second
)

// CPU reports processor usage and average clock.
type CPU struct {
	host        Host
	clock       Clock
	freqRefresh time.Duration

	freqMHz  float64
	freqRead time.Time
}

// NewCPU initialises the CPU source. The first usage query primes the delta
// used by subsequent reads.
func NewCPU(ctx context.Context, host Host, clock Clock) (*CPU, error) {
	if host == nil {
		return nil, &InitError{Kind: metrics.KindCPU, Err: fmt.Errorf("nil host")}
	}
	if _, err := host.CPUPercent(ctx); err != nil {
		return nil, &InitError{Kind: metrics.KindCPU, Err: err}
	}
	c := &CPU{
		host:        host,
		clock:       clockOrDefault(clock),
		freqRefresh: defaultFreqRefresh,
	}
	// A host that does not report clocks still gets usage.
	if freq, err := host.CPUFreqMHz(ctx); err == nil {
		c.freqMHz = freq
		c.freqRead = c.clock()
	}
	return c, nil
}

func (c *CPU) Kind() metrics.Kind { return metrics.KindCPU }

func (c *CPU) Sample(ctx context.Context) (metrics.Sample, error) {
	usage, err := c.host.CPUPercent(ctx)
	if err != nil {
		return metrics.Sample{}, readError("cpu usage", err)
	}

	if now := c.clock(); c.freqRead.IsZero() || now.Sub(c.freqRead) >= c.freqRefresh {
		if freq, err := c.host.CPUFreqMHz(ctx); err == nil {
			c.freqMHz = freq
			c.freqRead = now
		}
	}

	return metrics.CPUSample(metrics.CPU{
		UsagePct: clampPercent(usage),
		FreqGHz:  nonNegative(c.freqMHz / 1000),
	}), nil
}

func (c *CPU) Close() error { return nil }

// RAM reports physical memory usage.
type RAM struct {
	host Host
}

// NewRAM initialises the RAM source.
func NewRAM(ctx context.Context, host Host) (*RAM, error) {
	if host == nil {
		return nil, &InitError{Kind: metrics.KindRAM, Err: fmt.Errorf("nil host")}
	}
	if _, total, err := host.Memory(ctx); err != nil {
		return nil, &InitError{Kind: metrics.KindRAM, Err: err}
	} else if total == 0 {
		return nil, &InitError{Kind: metrics.KindRAM, Err: fmt.Errorf("host reports zero memory")}
	}
	return &RAM{host: host}, nil
}

func (r *RAM) Kind() metrics.Kind { return metrics.KindRAM }

func (r *RAM) Sample(ctx context.Context) (metrics.Sample, error) {
	used, total, err := r.host.Memory(ctx)
	if err != nil {
		return metrics.Sample{}, readError("memory", err)
	}
	if total == 0 {
		return metrics.Sample{}, readError("memory", fmt.Errorf("zero total"))
	}
	return metrics.RAMSample(metrics.RAM{
		UsagePct: clampPercent(float64(used) / float64(total) * 100),
		UsedGB:   float64(used) / bytesPerGiB,
		TotalGB:  float64(total) / bytesPerGiB,
	}), nil
}

func (r *RAM) Close() error { return nil }

func clampPercent(value float64) float64 {
	return math.Min(100, nonNegative(value))
}

func nonNegative(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0
	}
	return value
}
