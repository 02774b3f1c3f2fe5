package metrics

import (
	"testing"
	"time"
)

func TestNewSnapshotOrdersAndDropsEmpty(t *testing.T) {
	t.Parallel()

	now := time.Now()
	latest := map[Kind]Entry{
		KindNetwork: {CollectedAt: now, Sample: NetworkSample(Network{DownMBs: 1})},
		KindGPU:     {CollectedAt: now, Sample: NoGPU()},
		KindCPU:     {CollectedAt: now, Sample: CPUSample(CPU{UsagePct: 12})},
		KindDisk:    {CollectedAt: now, Sample: DiskSample(Disk{ReadMBs: 3})},
	}

	snap := NewSnapshot(7, now, latest)
	if snap.Seq != 7 {
		t.Fatalf("seq = %d, want 7", snap.Seq)
	}

	want := []Kind{KindCPU, KindDisk, KindNetwork}
	if len(snap.Entries) != len(want) {
		t.Fatalf("entries = %+v, want kinds %v", snap.Entries, want)
	}
	for i, kind := range want {
		if snap.Entries[i].Kind != kind {
			t.Fatalf("entry %d kind = %s, want %s", i, snap.Entries[i].Kind, kind)
		}
	}
	if snap.Has(KindGPU) {
		t.Fatal("snapshot must omit an empty gpu sample")
	}
}

func TestSnapshotSelect(t *testing.T) {
	t.Parallel()

	now := time.Now()
	snap := NewSnapshot(1, now, map[Kind]Entry{
		KindCPU: {CollectedAt: now, Sample: CPUSample(CPU{UsagePct: 1})},
		KindRAM: {CollectedAt: now, Sample: RAMSample(RAM{UsagePct: 2})},
	})

	selected := snap.Select([]Kind{KindRAM, KindGPU, KindCPU, KindRAM})
	if len(selected.Entries) != 2 {
		t.Fatalf("selected entries = %+v", selected.Entries)
	}
	if selected.Entries[0].Kind != KindRAM || selected.Entries[1].Kind != KindCPU {
		t.Fatalf("unexpected order: %s, %s", selected.Entries[0].Kind, selected.Entries[1].Kind)
	}
	if len(snap.Entries) != 2 || snap.Entries[0].Kind != KindCPU {
		t.Fatal("Select must not modify the source snapshot")
	}
}

func TestSampleEmpty(t *testing.T) {
	t.Parallel()

	if !NoGPU().Empty() {
		t.Fatal("NoGPU must be empty")
	}
	if GPUSample(GPU{}).Empty() {
		t.Fatal("gpu sample with payload must not be empty")
	}
	if (Sample{Kind: "bogus"}).Empty() != true {
		t.Fatal("unknown kinds are empty")
	}
	if _, err := ParseKind("disk_io"); err != nil {
		t.Fatalf("ParseKind: %v", err)
	}
	if _, err := ParseKind("fan"); err == nil {
		t.Fatal("ParseKind should reject unknown kinds")
	}
}
