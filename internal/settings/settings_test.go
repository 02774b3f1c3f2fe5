package settings

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/statbar/internal/metrics"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	if err := Default().Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		edit  func(*Settings)
		field string
	}{
		{"unknown corner", func(s *Settings) { s.Position.Corner = "middle" }, "position.corner"},
		{"negative offset", func(s *Settings) { s.Position.OffsetY = -1 }, "position.offset"},
		{"unknown mode", func(s *Settings) { s.Position.Mode = "floating" }, "position.mode"},
		{"unknown metric", func(s *Settings) { s.Metrics = append(s.Metrics, "fan") }, "metrics"},
		{"duplicate metric", func(s *Settings) { s.Metrics = []Item{ItemCPU, ItemCPU} }, "metrics"},
		{"unknown ordered metric", func(s *Settings) { s.Order = append(s.Order, "fan") }, "metrics_order"},
		{"duplicate ordered metric", func(s *Settings) { s.Order = []Item{ItemRAM, ItemRAM} }, "metrics_order"},
		{"bad color", func(s *Settings) { s.Appearance.TextColor = "red" }, "appearance.text_color"},
		{"opacity", func(s *Settings) { s.Appearance.Opacity = 1.5 }, "appearance.opacity"},
		{"font family", func(s *Settings) { s.Appearance.FontFamily = "" }, "appearance.font_family"},
		{"font size", func(s *Settings) { s.Appearance.FontSize = 200 }, "appearance.font_size"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.edit(&cfg)
			err := cfg.Validate()
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("field = %q, want %q", verr.Field, tc.field)
			}
		})
	}

	abs := Default()
	abs.Position = Position{Mode: PositionAbsolute, X: -1920, Y: 40}
	if err := abs.Validate(); err != nil {
		t.Fatalf("absolute position with negative x should be valid: %v", err)
	}
}

func TestKindsFollowDisplayOrder(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Metrics = []Item{ItemNetIO, ItemRAMGB, ItemCPU, ItemRAM, ItemVRAM}

	want := []metrics.Kind{metrics.KindNetwork, metrics.KindRAM, metrics.KindCPU, metrics.KindGPU}
	if got := cfg.Kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Kinds = %v, want %v", got, want)
	}
	if !cfg.Shows(ItemVRAM) || cfg.Shows(ItemGPUTemp) {
		t.Fatal("Shows returned unexpected result")
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := Default()
	clone := orig.Clone()
	clone.Metrics[0] = ItemNetIO
	if orig.Metrics[0] != ItemCPU {
		t.Fatal("Clone shares the metrics slice")
	}
}

func TestNormalizeClearsCornerForAbsolutePosition(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Position.Mode = PositionAbsolute
	cfg.Position.X, cfg.Position.Y = 300, 40

	got := cfg.Normalize()
	if got.Position.Corner != "" || got.Position.X != 300 || got.Position.Y != 40 {
		t.Fatalf("unexpected position %+v", got.Position)
	}
	if cfg.Position.Corner != CornerTopRight {
		t.Fatal("Normalize must not modify its receiver")
	}
}

func TestNormalizeCompletesOrder(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Order = []Item{ItemNetIO, ItemDiskIO}
	cfg.Metrics = []Item{ItemDiskIO, ItemCPU}

	got := cfg.Normalize()
	if len(got.Order) != len(AllItems()) {
		t.Fatalf("order should rank every item, got %v", got.Order)
	}
	// disk_io and cpu take the shown slots in Metrics order; net_io stays first.
	want := []Item{ItemNetIO, ItemDiskIO, ItemCPU}
	if !reflect.DeepEqual(got.Order[:3], want) {
		t.Fatalf("order prefix = %v, want %v", got.Order[:3], want)
	}
	if !reflect.DeepEqual(got.Metrics, []Item{ItemDiskIO, ItemCPU}) {
		t.Fatalf("metrics changed: %v", got.Metrics)
	}
}

func TestSetItemRestoresSlot(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Metrics = []Item{ItemGPU, ItemCPU, ItemNetIO}
	cfg = cfg.Normalize()

	hidden := cfg.SetItem(ItemCPU, false)
	if hidden.Shows(ItemCPU) || !reflect.DeepEqual(hidden.Metrics, []Item{ItemGPU, ItemNetIO}) {
		t.Fatalf("hide: metrics = %v", hidden.Metrics)
	}

	shown := hidden.SetItem(ItemCPU, true)
	if !reflect.DeepEqual(shown.Metrics, []Item{ItemGPU, ItemCPU, ItemNetIO}) {
		t.Fatalf("show should restore the previous slot, got %v", shown.Metrics)
	}

	added := shown.SetItem(ItemVRAM, true)
	if err := added.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !added.Shows(ItemVRAM) || len(added.Metrics) != 4 {
		t.Fatalf("vram not shown: %v", added.Metrics)
	}
	if same := added.SetItem(ItemVRAM, true); !reflect.DeepEqual(same.Metrics, added.Metrics) {
		t.Fatal("showing a shown item must be a no-op")
	}

	if err := shown.SetItem("fan", true).Validate(); err == nil {
		t.Fatal("unknown item should fail validation")
	}
}

func TestStoreSaveLoadAbsolutePosition(t *testing.T) {
	t.Parallel()

	file := NewFile(filepath.Join(t.TempDir(), "config.json"), discardLogger())
	store, err := NewStore(Default(), file, discardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	saved, err := store.Modify(func(s *Settings) {
		s.Position.Mode = PositionAbsolute
		s.Position.X, s.Position.Y = 100, 200
	})
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}

	loaded, err := file.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(loaded, saved) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", loaded, saved)
	}
}

type recordingPersister struct {
	mu    sync.Mutex
	saved []Settings
	err   error
}

func (p *recordingPersister) Save(s Settings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, s)
	return p.err
}

func TestStoreUpdateNotifiesAndPersists(t *testing.T) {
	t.Parallel()

	persister := &recordingPersister{}
	store, err := NewStore(Default(), persister, discardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	ch, unsubscribe := store.Subscribe()
	defer unsubscribe()

	if first := awaitSettings(t, ch); !first.Visible {
		t.Fatal("initial notification should carry the current settings")
	}

	next := store.Current()
	next.Visible = false
	if _, err := store.Update(next); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if got := awaitSettings(t, ch); got.Visible {
		t.Fatal("subscriber did not observe the update")
	}
	if store.Current().Visible {
		t.Fatal("Current did not change")
	}
	if len(persister.saved) != 1 {
		t.Fatalf("persisted %d times, want 1", len(persister.saved))
	}
}

func TestStoreRejectsInvalid(t *testing.T) {
	t.Parallel()

	store, err := NewStore(Default(), nil, discardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	bad := Default()
	bad.Appearance.FontSize = 0
	current, err := store.Update(bad)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if current.Appearance.FontSize != Default().Appearance.FontSize {
		t.Fatal("invalid update must keep the current settings")
	}

	if _, err := NewStore(bad, nil, discardLogger()); err == nil {
		t.Fatal("NewStore should reject invalid initial settings")
	}
}

func TestStoreModifyKeepsValueOnPersistFailure(t *testing.T) {
	t.Parallel()

	store, err := NewStore(Default(), &recordingPersister{err: errors.New("disk full")}, discardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	updated, err := store.Modify(func(s *Settings) { s.Visible = !s.Visible })
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if updated.Visible || store.Current().Visible {
		t.Fatal("Modify should flip visibility even if persistence fails")
	}
}

func TestFileRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	file := NewFile(path, discardLogger())

	loaded, err := file.Load()
	if err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if !reflect.DeepEqual(loaded, Default()) {
		t.Fatalf("missing file should load defaults, got %+v", loaded)
	}

	cfg := Default()
	cfg.Position = Position{Mode: PositionAbsolute, X: 100, Y: 200}
	cfg.Metrics = []Item{ItemGPUTemp, ItemNetIO}
	cfg.StartWithOS = true
	if err := file.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := file.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(reloaded, cfg) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", reloaded, cfg)
	}
}

func TestParseAcceptsCommentsAndPartialDocuments(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		// only override what differs from the defaults
		"appearance": {"text_color": "#00FF00", "font_size": 12,},
		"metrics": ["net_io", "cpu",],
	}`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Appearance.TextColor != "#00FF00" || cfg.Appearance.FontSize != 12 {
		t.Fatalf("appearance not applied: %+v", cfg.Appearance)
	}
	if cfg.Appearance.FontFamily != "Arial" {
		t.Fatalf("omitted fields should keep defaults, got %q", cfg.Appearance.FontFamily)
	}
	if !reflect.DeepEqual(cfg.Metrics, []Item{ItemNetIO, ItemCPU}) {
		t.Fatalf("metrics = %v", cfg.Metrics)
	}
}

func TestLoadMalformedFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"appearance": {"font_size": "huge"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := NewFile(path, discardLogger()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("malformed file should yield defaults, got %+v", cfg)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func awaitSettings(t *testing.T, ch <-chan Settings) Settings {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			t.Fatal("settings channel closed unexpectedly")
		}
		return s
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for settings")
		return Settings{}
	}
}
