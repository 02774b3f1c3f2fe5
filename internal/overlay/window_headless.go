//go:build !windows

package overlay

import (
	"log/slog"
	"sync"
)

const (
	headlessWidth  = 1920
	headlessHeight = 1080
	overlayWidth   = 700
	overlayHeight  = 30
)

// Headless is a window for platforms without a native overlay. It records the
// state the enforcer asks for, so the HTTP surface can report it to a
// rendering client.
type Headless struct {
	mu           sync.Mutex
	display      Display
	width        int
	height       int
	origin       Point
	visible      bool
	topmost      bool
	clickThrough bool
}

// NewWindow returns the platform window. title is unused off Windows.
func NewWindow(title string, logger *slog.Logger) (Window, error) {
	if logger != nil {
		logger.Info("native overlay window unsupported on this platform, running headless", "title", title)
	}
	return NewHeadless(Display{Width: headlessWidth, Height: headlessHeight, Scale: 1}, overlayWidth, overlayHeight), nil
}

// NewHeadless returns a recording window of the given size on display.
func NewHeadless(display Display, width, height int) *Headless {
	return &Headless{display: display, width: width, height: height}
}

func (h *Headless) Display() (Display, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.display, nil
}

func (h *Headless) Size() (int, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.width, h.height, nil
}

func (h *Headless) Move(x, y int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.origin = Point{X: x, Y: y}
	return nil
}

func (h *Headless) SetTopmost() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topmost = true
	return nil
}

func (h *Headless) SetClickThrough() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clickThrough = true
	return nil
}

func (h *Headless) Show() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.visible = true
	return nil
}

func (h *Headless) Hide() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.visible = false
	return nil
}

func (h *Headless) Close() error { return nil }

// HeadlessState is what the enforcer last asked a Headless window for.
type HeadlessState struct {
	Origin       Point
	Visible      bool
	Topmost      bool
	ClickThrough bool
}

// State returns the recorded window state.
func (h *Headless) State() HeadlessState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HeadlessState{
		Origin:       h.origin,
		Visible:      h.visible,
		Topmost:      h.topmost,
		ClickThrough: h.clickThrough,
	}
}
