//go:build !windows

package overlay

import (
	"context"
	"testing"
	"time"

	"github.com/skobkin/statbar/internal/settings"
)

func TestHeadlessWindowFollowsEnforcer(t *testing.T) {
	t.Parallel()

	window, err := NewWindow("statbar", nil)
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	headless, ok := window.(*Headless)
	if !ok {
		t.Fatalf("expected *Headless, got %T", window)
	}

	enforcer := startEnforcer(t, headless, settings.Default(), time.Hour, nil)
	waitFor(t, time.Second, func() bool { return enforcer.Status().Passes == 1 })

	state := headless.State()
	want := HeadlessState{
		Origin:       Point{X: headlessWidth - overlayWidth - 15, Y: 15},
		Visible:      true,
		Topmost:      true,
		ClickThrough: true,
	}
	if state != want {
		t.Fatalf("state = %+v, want %+v", state, want)
	}

	ctx := context.Background()
	if err := enforcer.Hide(ctx); err != nil {
		t.Fatalf("Hide: %v", err)
	}
	if headless.State().Visible {
		t.Fatal("hidden overlay should not be visible")
	}

	moved := settings.Default()
	moved.Position = settings.Position{Mode: settings.PositionAbsolute, X: 40, Y: 60}
	if err := enforcer.Apply(ctx, moved); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := headless.State(); !got.Visible || got.Origin != (Point{X: 40, Y: 60}) {
		t.Fatalf("after apply: %+v", got)
	}
}
