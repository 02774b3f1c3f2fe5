package gpu

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	drmClassPath  = "class/drm"
	amdVendorID   = "1002"
	busyFile      = "gpu_busy_percent"
	sclkFile      = "pp_dpm_sclk"
	vramUsedFile  = "mem_info_vram_used"
	vramTotalFile = "mem_info_vram_total"
	hwmonTemp     = "temp1_input"
	hwmonPowerAvg = "power1_average"
	hwmonPowerIn  = "power1_input"
)

// AMDGPU reads amdgpu telemetry from sysfs.
type AMDGPU struct {
	sysfsRoot string
	names     *pciNames
}

// NewAMDGPU returns the sysfs backend rooted at sysfsRoot (normally "/sys").
func NewAMDGPU(sysfsRoot string) *AMDGPU {
	return &AMDGPU{sysfsRoot: sysfsRoot, names: defaultPCINames}
}

func (a *AMDGPU) Name() string { return "amdgpu" }

// Discover lists cardN entries whose PCI vendor is AMD, ordered by card index.
func (a *AMDGPU) Discover(ctx context.Context) ([]Device, error) {
	root, err := os.OpenRoot(a.sysfsRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open sysfs root: %w", err)
	}
	defer root.Close()

	entries, err := fs.ReadDir(root.FS(), drmClassPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read drm class dir: %w", err)
	}

	var devices []Device
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		index, ok := parseCardName(entry.Name())
		if !ok {
			continue
		}
		devicePath := filepath.Join(a.sysfsRoot, drmClassPath, entry.Name(), "device")
		info, ok := a.loadInfo(entry.Name(), index, devicePath)
		if !ok {
			continue
		}
		devices = append(devices, &amdDevice{
			info:       info,
			devicePath: devicePath,
			hwmonPath:  findHwmon(devicePath),
		})
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Info().Index < devices[j].Info().Index
	})
	return devices, nil
}

func (a *AMDGPU) loadInfo(cardID string, index int, devicePath string) (Info, bool) {
	vendor := strings.TrimPrefix(readTrimmed(filepath.Join(devicePath, "vendor")), "0x")
	if !strings.EqualFold(vendor, amdVendorID) {
		return Info{}, false
	}

	uevent := readTrimmed(filepath.Join(devicePath, "uevent"))
	info := Info{
		Index:   index,
		ID:      cardID,
		Backend: a.Name(),
		PCI:     ueventValue(uevent, "PCI_SLOT_NAME"),
		PCIID:   ueventValue(uevent, "PCI_ID"),
	}

	device := strings.TrimPrefix(readTrimmed(filepath.Join(devicePath, "device")), "0x")
	if info.PCIID == "" && device != "" {
		info.PCIID = vendor + ":" + device
	}

	var subVendor, subDevice string
	if subsys := ueventValue(uevent, "PCI_SUBSYS_ID"); subsys != "" {
		subVendor, subDevice, _ = strings.Cut(subsys, ":")
	} else {
		subVendor = readTrimmed(filepath.Join(devicePath, "subsystem_vendor"))
		subDevice = readTrimmed(filepath.Join(devicePath, "subsystem_device"))
	}

	info.Name = readTrimmed(filepath.Join(devicePath, "product_name"))
	if vendorID, deviceID, ok := strings.Cut(info.PCIID, ":"); ok {
		if resolved := a.names.lookup(vendorID, deviceID, subVendor, subDevice); resolved != "" && genericName(info.Name) {
			info.Name = resolved
		}
	}
	if info.Name == "" {
		info.Name = "AMD GPU " + cardID
	}
	return info, true
}

type amdDevice struct {
	info       Info
	devicePath string
	hwmonPath  string
}

func (d *amdDevice) Info() Info { return d.info }

// Read requires the busy counter; every other field is best effort.
func (d *amdDevice) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	busy, err := readFloat(filepath.Join(d.devicePath, busyFile))
	if err != nil {
		return Reading{}, fmt.Errorf("read %s: %w", busyFile, err)
	}

	reading := Reading{UsagePct: float64Ptr(normalizeBusy(busy))}
	reading.ClockMHz = currentClockMHz(filepath.Join(d.devicePath, sclkFile))
	if used, err := readUint(filepath.Join(d.devicePath, vramUsedFile)); err == nil {
		reading.VRAMUsedBytes = uint64Ptr(used)
	}
	if total, err := readUint(filepath.Join(d.devicePath, vramTotalFile)); err == nil {
		reading.VRAMTotalBytes = uint64Ptr(total)
	}

	if d.hwmonPath != "" {
		if milli, err := readFloat(filepath.Join(d.hwmonPath, hwmonTemp)); err == nil {
			reading.TempC = float64Ptr(milli / 1000)
		}
		for _, name := range []string{hwmonPowerAvg, hwmonPowerIn} {
			if micro, err := readFloat(filepath.Join(d.hwmonPath, name)); err == nil {
				reading.PowerW = float64Ptr(micro / 1_000_000)
				break
			}
		}
	}
	return reading, nil
}

func (d *amdDevice) Close() error { return nil }

// normalizeBusy handles kernels that report busy percent scaled by 100.
func normalizeBusy(value float64) float64 {
	if value > 100 {
		value /= 100
	}
	return max(0, min(100, value))
}

// currentClockMHz returns the DPM level marked with '*'.
func currentClockMHz(path string) *float64 {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "*") {
			continue
		}
		for _, field := range strings.Fields(line) {
			lower := strings.ToLower(strings.TrimSuffix(field, "*"))
			if !strings.HasSuffix(lower, "mhz") {
				continue
			}
			if value, err := strconv.ParseFloat(strings.TrimSuffix(lower, "mhz"), 64); err == nil {
				return float64Ptr(value)
			}
		}
	}
	return nil
}

func findHwmon(devicePath string) string {
	root := filepath.Join(devicePath, "hwmon")
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
			return filepath.Join(root, entry.Name())
		}
	}
	return ""
}

func parseCardName(name string) (int, bool) {
	digits, ok := strings.CutPrefix(name, "card")
	if !ok || digits == "" || strings.ContainsRune(digits, '-') {
		return 0, false
	}
	index, err := strconv.Atoi(digits)
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}

func ueventValue(data, key string) string {
	prefix := key + "="
	for line := range strings.Lines(data) {
		if value, ok := strings.CutPrefix(strings.TrimSpace(line), prefix); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func readFloat(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return 0, fmt.Errorf("empty value in %s", path)
	}
	return strconv.ParseFloat(value, 64)
}

func readUint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}
