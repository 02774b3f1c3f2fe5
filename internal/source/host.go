package source

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// Host reads operating-system counters.
type Host interface {
	CPUPercent(ctx context.Context) (float64, error)
	CPUFreqMHz(ctx context.Context) (float64, error)
	Memory(ctx context.Context) (used, total uint64, err error)
	DiskBytes(ctx context.Context) (read, written uint64, err error)
	ActiveInterfaces(ctx context.Context) ([]string, error)
	InterfaceBytes(ctx context.Context, names []string) (received, sent uint64, err error)
}

// SystemHost implements Host on top of gopsutil.
type SystemHost struct{}

// NewSystemHost returns the gopsutil-backed Host.
func NewSystemHost() SystemHost {
	return SystemHost{}
}

func (SystemHost) CPUPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, errors.New("no cpu percentages reported")
	}
	return pcts[0], nil
}

// CPUFreqMHz returns the average reported clock across all logical CPUs.
func (SystemHost) CPUFreqMHz(ctx context.Context) (float64, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	var (
		sum   float64
		count int
	)
	for _, info := range infos {
		if info.Mhz <= 0 {
			continue
		}
		sum += info.Mhz
		count++
	}
	if count == 0 {
		return 0, errors.New("no cpu frequency reported")
	}
	return sum / float64(count), nil
}

func (SystemHost) Memory(ctx context.Context) (uint64, uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	return vm.Used, vm.Total, nil
}

// DiskBytes sums read and write byte counters over physical devices.
func (SystemHost) DiskBytes(ctx context.Context) (uint64, uint64, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	var read, written uint64
	for name, st := range counters {
		if skipDiskDevice(name) {
			continue
		}
		read += st.ReadBytes
		written += st.WriteBytes
	}
	return read, written, nil
}

func skipDiskDevice(name string) bool {
	for _, prefix := range []string{"loop", "ram", "zram", "sr", "fd"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// ActiveInterfaces returns the names of interfaces that are up and not loopback.
func (SystemHost) ActiveInterfaces(ctx context.Context) ([]string, error) {
	ifaces, err := net.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		names = append(names, iface.Name)
	}
	slices.Sort(names)
	return names, nil
}

// InterfaceBytes sums receive and transmit counters over the named interfaces.
func (SystemHost) InterfaceBytes(ctx context.Context, names []string) (uint64, uint64, error) {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return 0, 0, err
	}
	var received, sent uint64
	for _, st := range counters {
		if !slices.Contains(names, st.Name) {
			continue
		}
		received += st.BytesRecv
		sent += st.BytesSent
	}
	return received, sent, nil
}
