package source

import (
	"context"
	"fmt"

	"github.com/skobkin/statbar/internal/metrics"
	"github.com/skobkin/statbar/internal/rate"
)

// Disk reports aggregate read/write throughput across all physical disks.
type Disk struct {
	host  Host
	clock Clock
	read  rate.Counter
	write rate.Counter
}

// NewDisk initialises the disk source and primes both counters.
func NewDisk(ctx context.Context, host Host, clock Clock) (*Disk, error) {
	if host == nil {
		return nil, &InitError{Kind: metrics.KindDisk, Err: fmt.Errorf("nil host")}
	}
	d := &Disk{host: host, clock: clockOrDefault(clock)}
	read, written, err := host.DiskBytes(ctx)
	if err != nil {
		return nil, &InitError{Kind: metrics.KindDisk, Err: err}
	}
	now := d.clock()
	d.read.Prime(read, now)
	d.write.Prime(written, now)
	return d, nil
}

func (d *Disk) Kind() metrics.Kind { return metrics.KindDisk }

func (d *Disk) Sample(ctx context.Context) (metrics.Sample, error) {
	read, written, err := d.host.DiskBytes(ctx)
	if err != nil {
		return metrics.Sample{}, readError("disk counters", err)
	}
	now := d.clock()
	return metrics.DiskSample(metrics.Disk{
		ReadMBs:  d.read.Observe(read, now),
		WriteMBs: d.write.Observe(written, now),
	}), nil
}

// Close drops the rate state.
func (d *Disk) Close() error {
	d.read.Reset()
	d.write.Reset()
	return nil
}
