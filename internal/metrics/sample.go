// Package metrics defines the readings produced by metric sources and the
// snapshots assembled from them.
package metrics

import (
	"fmt"
	"time"
)

// Kind identifies a metric family. Each kind is produced by exactly one source.
type Kind string

const (
	KindCPU     Kind = "cpu"
	KindRAM     Kind = "ram"
	KindGPU     Kind = "gpu"
	KindDisk    Kind = "disk_io"
	KindNetwork Kind = "network"
)

// Kinds lists every metric kind in canonical snapshot order.
func Kinds() []Kind {
	return []Kind{KindCPU, KindRAM, KindGPU, KindDisk, KindNetwork}
}

// ParseKind validates a kind name.
func ParseKind(value string) (Kind, error) {
	for _, kind := range Kinds() {
		if string(kind) == value {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown metric kind %q", value)
}

func (k Kind) order() int {
	for i, kind := range Kinds() {
		if kind == k {
			return i
		}
	}
	return len(Kinds())
}

// CPU is an instantaneous processor reading.
type CPU struct {
	UsagePct float64 `json:"usage_pct"`
	FreqGHz  float64 `json:"freq_ghz"`
}

// RAM is an instantaneous memory reading.
type RAM struct {
	UsagePct float64 `json:"usage_pct"`
	UsedGB   float64 `json:"used_gb"`
	TotalGB  float64 `json:"total_gb"`
}

// GPU is a single accelerator reading. Pointer fields serialize as null when the
// driver does not report them.
type GPU struct {
	Name        string   `json:"name,omitempty"`
	UsagePct    *float64 `json:"usage_pct"`
	TempC       *float64 `json:"temp_c"`
	ClockMHz    *float64 `json:"clock_mhz"`
	PowerW      *float64 `json:"power_w"`
	VRAMUsedGB  *float64 `json:"vram_used_gb"`
	VRAMTotalGB *float64 `json:"vram_total_gb"`
}

// Disk is aggregate disk throughput.
type Disk struct {
	ReadMBs  float64 `json:"read_mb_s"`
	WriteMBs float64 `json:"write_mb_s"`
}

// Network is aggregate interface throughput.
type Network struct {
	DownMBs float64 `json:"down_mb_s"`
	UpMBs   float64 `json:"up_mb_s"`
}

// Sample is a tagged union: Kind names the family and at most one payload is set.
// A sample without payload is the explicit "nothing to report" reading, used by
// optional hardware that is not present.
type Sample struct {
	Kind    Kind     `json:"kind"`
	CPU     *CPU     `json:"cpu,omitempty"`
	RAM     *RAM     `json:"ram,omitempty"`
	GPU     *GPU     `json:"gpu,omitempty"`
	Disk    *Disk    `json:"disk_io,omitempty"`
	Network *Network `json:"network,omitempty"`
}

// Empty reports whether the sample carries no reading.
func (s Sample) Empty() bool {
	switch s.Kind {
	case KindCPU:
		return s.CPU == nil
	case KindRAM:
		return s.RAM == nil
	case KindGPU:
		return s.GPU == nil
	case KindDisk:
		return s.Disk == nil
	case KindNetwork:
		return s.Network == nil
	default:
		return true
	}
}

// CPUSample wraps a CPU reading.
func CPUSample(v CPU) Sample { return Sample{Kind: KindCPU, CPU: &v} }

// RAMSample wraps a RAM reading.
func RAMSample(v RAM) Sample { return Sample{Kind: KindRAM, RAM: &v} }

// GPUSample wraps a GPU reading.
func GPUSample(v GPU) Sample { return Sample{Kind: KindGPU, GPU: &v} }

// NoGPU is the reading of a host without a compatible accelerator.
func NoGPU() Sample { return Sample{Kind: KindGPU} }

// DiskSample wraps a disk throughput reading.
func DiskSample(v Disk) Sample { return Sample{Kind: KindDisk, Disk: &v} }

// NetworkSample wraps a network throughput reading.
func NetworkSample(v Network) Sample { return Sample{Kind: KindNetwork, Network: &v} }

// Float64 returns a pointer to a copy of v.
func Float64(v float64) *float64 {
	return &v
}

// Entry is the latest sample of one kind together with its collection time.
type Entry struct {
	Kind        Kind      `json:"kind"`
	CollectedAt time.Time `json:"collected_at"`
	Sample      Sample    `json:"sample"`
}
