package gpu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jaypipes/pcidb"
)

func TestNvidiaDiscoverAndRead(t *testing.T) {
	t.Parallel()

	var calls []string
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, name+" "+strings.Join(args, " "))
		for _, arg := range args {
			switch {
			case arg == "--query-gpu="+nvidiaListQuery:
				return []byte("1, NVIDIA GeForce RTX 3060, 00000000:02:00.0\n0, NVIDIA GeForce RTX 4090, 00000000:01:00.0\n"), nil
			case arg == "--query-gpu="+nvidiaReadQuery:
				return []byte("37, 61, 2520, 212.45, 4096, 24564\n"), nil
			}
		}
		return nil, fmt.Errorf("unexpected args %v", args)
	}

	devices, err := NewNvidia(run).Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(devices))
	}
	first := devices[0].Info()
	if first.Index != 0 || first.Name != "NVIDIA GeForce RTX 4090" || first.ID != "nvidia0" {
		t.Fatalf("devices not ordered by index: %+v", first)
	}

	reading, err := devices[0].Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	assertFloat(t, "usage", reading.UsagePct, 37)
	assertFloat(t, "temp", reading.TempC, 61)
	assertFloat(t, "clock", reading.ClockMHz, 2520)
	assertFloat(t, "power", reading.PowerW, 212.45)
	assertUint(t, "vram used", reading.VRAMUsedBytes, 4096*bytesPerMiB)
	assertUint(t, "vram total", reading.VRAMTotalBytes, 24564*bytesPerMiB)

	if last := calls[len(calls)-1]; !strings.Contains(last, "--id=0") {
		t.Fatalf("read did not target device 0: %s", last)
	}
}

func TestNvidiaUnsupportedFieldsAreNil(t *testing.T) {
	t.Parallel()

	dev := &nvidiaDevice{
		backend: NewNvidia(func(context.Context, string, ...string) ([]byte, error) {
			return []byte("12, 50, [N/A], [Not Supported], 100, 200\n"), nil
		}),
		info: Info{Index: 0, ID: "nvidia0"},
	}
	reading, err := dev.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if reading.ClockMHz != nil || reading.PowerW != nil {
		t.Fatalf("unsupported fields should be nil: %+v", reading)
	}
	assertFloat(t, "usage", reading.UsagePct, 12)
}

func TestNvidiaMissingBinaryMeansNoDevices(t *testing.T) {
	t.Parallel()

	backend := NewNvidia(func(context.Context, string, ...string) ([]byte, error) {
		return nil, &exec.Error{Name: nvidiaSMI, Err: exec.ErrNotFound}
	})
	devices, err := backend.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("devices = %d, want 0", len(devices))
	}
}

func TestNvidiaDriverFailureIsAnError(t *testing.T) {
	t.Parallel()

	backend := NewNvidia(func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("exit status 9")
	})
	if _, err := backend.Discover(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestAMDGPUDiscoverAndRead(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	card1 := createCard(t, root, "card1", "0x1002")
	createCard(t, root, "card0", "0x1002")
	createCard(t, root, "card2", "0x10de")
	writeFile(t, filepath.Join(root, drmClassPath, "card0-DP-1", "status"), "connected\n")

	writeFile(t, filepath.Join(card1, "uevent"), "DRIVER=amdgpu\nPCI_ID=1002:73DF\nPCI_SUBSYS_ID=1DA2:E445\nPCI_SLOT_NAME=0000:0a:00.0\n")
	writeFile(t, filepath.Join(card1, busyFile), "47\n")
	writeFile(t, filepath.Join(card1, sclkFile), "0: 500Mhz\n1: 1000Mhz *\n2: 2400Mhz\n")
	writeFile(t, filepath.Join(card1, vramUsedFile), "1073741824\n")
	writeFile(t, filepath.Join(card1, vramTotalFile), "17179869184\n")
	writeFile(t, filepath.Join(card1, "hwmon", "hwmon3", hwmonTemp), "65000\n")
	writeFile(t, filepath.Join(card1, "hwmon", "hwmon3", hwmonPowerIn), "120000000\n")

	backend := NewAMDGPU(root)
	backend.names = &pciNames{load: func() (*pcidb.PCIDB, error) {
		return &pcidb.PCIDB{Products: map[string]*pcidb.Product{
			"100273df": {
				Name: "Navi 22 [Radeon RX 6700/6700 XT/6750 XT / 6800M/6850M XT]",
				Subsystems: []*pcidb.Product{
					{VendorID: "1da2", ID: "e445", Name: "Sapphire Radeon RX 6700 XT"},
				},
			},
		}}, nil
	}}

	devices, err := backend.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2 AMD cards", len(devices))
	}
	if devices[0].Info().ID != "card0" || devices[1].Info().ID != "card1" {
		t.Fatalf("devices not ordered by card index: %s, %s", devices[0].Info().ID, devices[1].Info().ID)
	}

	info := devices[1].Info()
	if info.Name != "Sapphire Radeon RX 6700 XT" {
		t.Fatalf("name = %q", info.Name)
	}
	if info.PCI != "0000:0a:00.0" {
		t.Fatalf("pci = %q", info.PCI)
	}

	reading, err := devices[1].Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	assertFloat(t, "usage", reading.UsagePct, 47)
	assertFloat(t, "clock", reading.ClockMHz, 1000)
	assertFloat(t, "temp", reading.TempC, 65)
	assertFloat(t, "power", reading.PowerW, 120)
	assertUint(t, "vram used", reading.VRAMUsedBytes, 1073741824)
	assertUint(t, "vram total", reading.VRAMTotalBytes, 17179869184)

	if _, err := devices[0].Read(context.Background()); err == nil {
		t.Fatal("read without busy counter should fail")
	}
}

func TestAMDGPUMissingSysfs(t *testing.T) {
	t.Parallel()

	devices, err := NewAMDGPU(filepath.Join(t.TempDir(), "absent")).Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("devices = %d, want 0", len(devices))
	}
}

type stubBackend struct {
	name    string
	devices []Device
	err     error
}

func (s stubBackend) Name() string { return s.name }

func (s stubBackend) Discover(context.Context) ([]Device, error) { return s.devices, s.err }

type stubDevice struct{ info Info }

func (d stubDevice) Info() Info { return d.info }

func (d stubDevice) Read(context.Context) (Reading, error) { return Reading{}, nil }

func (d stubDevice) Close() error { return nil }

func TestDiscoverCombinesBackends(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	devices, err := Discover(context.Background(), []Backend{
		stubBackend{name: "broken", err: errors.New("driver gone")},
		stubBackend{name: "ok", devices: []Device{stubDevice{Info{ID: "a"}}}},
	}, logger)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(devices) != 1 || devices[0].Info().ID != "a" {
		t.Fatalf("unexpected devices %+v", devices)
	}

	if _, err := Discover(context.Background(), []Backend{stubBackend{name: "broken", err: errors.New("driver gone")}}, logger); err == nil {
		t.Fatal("expected error when every backend fails")
	}

	devices, err = Discover(context.Background(), []Backend{stubBackend{name: "empty"}}, logger)
	if err != nil || len(devices) != 0 {
		t.Fatalf("empty backend: devices=%d err=%v", len(devices), err)
	}
}

func TestNormalizeBusy(t *testing.T) {
	t.Parallel()

	for in, want := range map[float64]float64{-3: 0, 42: 42, 4200: 42, 100: 100} {
		if got := normalizeBusy(in); got != want {
			t.Errorf("normalizeBusy(%v) = %v, want %v", in, got, want)
		}
	}
}

func createCard(t *testing.T, root, cardID, vendor string) string {
	t.Helper()
	devicePath := filepath.Join(root, drmClassPath, cardID, "device")
	writeFile(t, filepath.Join(devicePath, "vendor"), vendor+"\n")
	return devicePath
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("failed to create directories for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func assertFloat(t *testing.T, name string, value *float64, expected float64) {
	t.Helper()
	if value == nil {
		t.Fatalf("%s: expected %.2f, got nil", name, expected)
	}
	if diff := *value - expected; diff < -0.0001 || diff > 0.0001 {
		t.Fatalf("%s: expected %.2f, got %.4f", name, expected, *value)
	}
}

func assertUint(t *testing.T, name string, value *uint64, expected uint64) {
	t.Helper()
	if value == nil {
		t.Fatalf("%s: expected %d, got nil", name, expected)
	}
	if *value != expected {
		t.Fatalf("%s: expected %d, got %d", name, expected, *value)
	}
}
