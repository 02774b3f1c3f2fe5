package gpu

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	nvidiaSMI            = "nvidia-smi"
	defaultNvidiaTimeout = 800 * time.Millisecond
	bytesPerMiB          = 1 << 20

	nvidiaListQuery = "index,name,pci.bus_id"
	nvidiaReadQuery = "utilization.gpu,temperature.gpu,clocks.gr,power.draw,memory.used,memory.total"
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Nvidia talks to the NVIDIA driver through nvidia-smi.
type Nvidia struct {
	run     Runner
	timeout time.Duration
}

// NewNvidia returns the nvidia-smi backend. A nil runner executes the real binary.
func NewNvidia(run Runner) *Nvidia {
	if run == nil {
		run = execRunner
	}
	return &Nvidia{run: run, timeout: defaultNvidiaTimeout}
}

func (n *Nvidia) Name() string { return "nvidia" }

func (n *Nvidia) Discover(ctx context.Context) ([]Device, error) {
	out, err := n.query(ctx, "--query-gpu="+nvidiaListQuery, "--format=csv,noheader,nounits")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var devices []Device
	for _, fields := range parseCSV(out) {
		if len(fields) < 3 {
			continue
		}
		index, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		devices = append(devices, &nvidiaDevice{
			backend: n,
			info: Info{
				Index:   index,
				ID:      "nvidia" + fields[0],
				Backend: n.Name(),
				Name:    fields[1],
				PCI:     fields[2],
			},
		})
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Info().Index < devices[j].Info().Index
	})
	return devices, nil
}

func (n *Nvidia) query(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.run(ctx, nvidiaSMI, args...)
}

type nvidiaDevice struct {
	backend *Nvidia
	info    Info
}

func (d *nvidiaDevice) Info() Info { return d.info }

func (d *nvidiaDevice) Read(ctx context.Context) (Reading, error) {
	out, err := d.backend.query(ctx,
		"--id="+strconv.Itoa(d.info.Index),
		"--query-gpu="+nvidiaReadQuery,
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		return Reading{}, fmt.Errorf("query %s: %w", d.info.ID, err)
	}
	rows := parseCSV(out)
	if len(rows) == 0 || len(rows[0]) < 6 {
		return Reading{}, fmt.Errorf("query %s: unexpected output %q", d.info.ID, strings.TrimSpace(string(out)))
	}
	fields := rows[0]

	reading := Reading{
		UsagePct: parseNvidiaFloat(fields[0]),
		TempC:    parseNvidiaFloat(fields[1]),
		ClockMHz: parseNvidiaFloat(fields[2]),
		PowerW:   parseNvidiaFloat(fields[3]),
	}
	if used := parseNvidiaFloat(fields[4]); used != nil {
		reading.VRAMUsedBytes = uint64Ptr(uint64(*used * bytesPerMiB))
	}
	if total := parseNvidiaFloat(fields[5]); total != nil {
		reading.VRAMTotalBytes = uint64Ptr(uint64(*total * bytesPerMiB))
	}
	return reading, nil
}

func (d *nvidiaDevice) Close() error { return nil }

func parseCSV(out []byte) [][]string {
	var rows [][]string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		rows = append(rows, parts)
	}
	return rows
}

// parseNvidiaFloat maps "[N/A]", "[Not Supported]" and garbage to nil.
func parseNvidiaFloat(field string) *float64 {
	field = strings.TrimSpace(field)
	if field == "" || strings.HasPrefix(field, "[") || strings.EqualFold(field, "N/A") {
		return nil
	}
	value, err := strconv.ParseFloat(field, 64)
	if err != nil || value < 0 {
		return nil
	}
	return float64Ptr(value)
}
