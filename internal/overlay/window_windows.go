//go:build windows

package overlay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procFindWindowW      = user32.NewProc("FindWindowW")
	procIsWindow         = user32.NewProc("IsWindow")
	procGetWindowRect    = user32.NewProc("GetWindowRect")
	procSetWindowPos     = user32.NewProc("SetWindowPos")
	procGetWindowLongW   = user32.NewProc("GetWindowLongW")
	procSetWindowLongW   = user32.NewProc("SetWindowLongW")
	procGetSystemMetrics = user32.NewProc("GetSystemMetrics")
	procGetDpiForSystem  = user32.NewProc("GetDpiForSystem")
	procShowWindow       = user32.NewProc("ShowWindow")

	procSetLastError = windows.NewLazySystemDLL("kernel32.dll").NewProc("SetLastError")
)

const (
	smCXScreen = 0
	smCYScreen = 1

	swHide           = 0
	swShowNoActivate = 4

	swpNoSize     = 0x0001
	swpNoMove     = 0x0002
	swpNoZOrder   = 0x0004
	swpNoActivate = 0x0010

	wsExTransparent = 0x00000020
	wsExToolWindow  = 0x00000080
	wsExLayered     = 0x00080000
	wsExNoActivate  = 0x08000000

	clickThroughStyle = wsExLayered | wsExTransparent | wsExToolWindow | wsExNoActivate

	defaultDPI = 96
)

var (
	hwndTopmost = ^uintptr(0)  // (HWND)-1
	gwlExStyle  = ^uintptr(19) // -20
)

// ErrWindowNotFound means no top-level window has the configured title yet.
var ErrWindowNotFound = errors.New("overlay window not found")

type rect struct {
	Left, Top, Right, Bottom int32
}

// Native drives a top-level window located by title through user32.
type Native struct {
	title  *uint16
	name   string
	logger *slog.Logger

	mu   sync.Mutex
	hwnd uintptr
}

// NewWindow returns the user32 backend for the window titled title. The window
// itself is looked up lazily, so the renderer may start later.
func NewWindow(title string, logger *slog.Logger) (Window, error) {
	ptr, err := windows.UTF16PtrFromString(title)
	if err != nil {
		return nil, fmt.Errorf("encode window title: %w", err)
	}
	if err := procFindWindowW.Find(); err != nil {
		return nil, fmt.Errorf("load user32: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Native{title: ptr, name: title, logger: logger}, nil
}

// handle returns the cached window handle, re-resolving it when the window
// was destroyed and recreated.
func (n *Native) handle() (uintptr, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.hwnd != 0 {
		if ok, _, _ := procIsWindow.Call(n.hwnd); ok != 0 {
			return n.hwnd, nil
		}
		n.hwnd = 0
	}
	hwnd, _, _ := procFindWindowW.Call(0, uintptr(unsafe.Pointer(n.title)))
	if hwnd == 0 {
		return 0, fmt.Errorf("%w: %q", ErrWindowNotFound, n.name)
	}
	n.logger.Debug("overlay window attached", "title", n.name, "hwnd", hwnd)
	n.hwnd = hwnd
	return hwnd, nil
}

func (n *Native) Display() (Display, error) {
	width, _, _ := procGetSystemMetrics.Call(smCXScreen)
	height, _, _ := procGetSystemMetrics.Call(smCYScreen)
	if width == 0 || height == 0 {
		return Display{}, errors.New("no active display")
	}
	dpi := uintptr(defaultDPI)
	if procGetDpiForSystem.Find() == nil {
		if v, _, _ := procGetDpiForSystem.Call(); v != 0 {
			dpi = v
		}
	}
	return Display{
		Width:  int(int32(width)),
		Height: int(int32(height)),
		Scale:  float64(dpi) / defaultDPI,
	}, nil
}

func (n *Native) Size() (int, int, error) {
	hwnd, err := n.handle()
	if err != nil {
		return 0, 0, err
	}
	var r rect
	if ok, _, callErr := procGetWindowRect.Call(hwnd, uintptr(unsafe.Pointer(&r))); ok == 0 {
		return 0, 0, callError("GetWindowRect", callErr)
	}
	return int(r.Right - r.Left), int(r.Bottom - r.Top), nil
}

func (n *Native) Move(x, y int) error {
	hwnd, err := n.handle()
	if err != nil {
		return err
	}
	ok, _, callErr := procSetWindowPos.Call(hwnd, 0,
		uintptr(int32(x)), uintptr(int32(y)), 0, 0,
		swpNoSize|swpNoZOrder|swpNoActivate)
	if ok == 0 {
		return callError("SetWindowPos", callErr)
	}
	return nil
}

func (n *Native) SetTopmost() error {
	hwnd, err := n.handle()
	if err != nil {
		return err
	}
	ok, _, callErr := procSetWindowPos.Call(hwnd, hwndTopmost, 0, 0, 0, 0,
		swpNoMove|swpNoSize|swpNoActivate)
	if ok == 0 {
		return callError("SetWindowPos", callErr)
	}
	return nil
}

// SetClickThrough adds the layered, transparent and tool-window extended
// styles unless they are already present.
func (n *Native) SetClickThrough() error {
	hwnd, err := n.handle()
	if err != nil {
		return err
	}
	style, _, _ := procGetWindowLongW.Call(hwnd, gwlExStyle)
	current := uint32(style)
	if current&clickThroughStyle == clickThroughStyle {
		return nil
	}
	// SetWindowLongW returns 0 both on failure and when the old style was 0.
	_, _, _ = procSetLastError.Call(0)
	prev, _, callErr := procSetWindowLongW.Call(hwnd, gwlExStyle, uintptr(current|clickThroughStyle))
	if prev == 0 && !errors.Is(callErr, windows.ERROR_SUCCESS) {
		return callError("SetWindowLongW", callErr)
	}
	return nil
}

func (n *Native) Show() error {
	hwnd, err := n.handle()
	if err != nil {
		return err
	}
	// The return value is the previous visibility, not a status.
	_, _, _ = procShowWindow.Call(hwnd, swShowNoActivate)
	return nil
}

func (n *Native) Hide() error {
	hwnd, err := n.handle()
	if err != nil {
		return err
	}
	_, _, _ = procShowWindow.Call(hwnd, swHide)
	return nil
}

// Close forgets the handle. The window belongs to the renderer.
func (n *Native) Close() error {
	n.mu.Lock()
	n.hwnd = 0
	n.mu.Unlock()
	return nil
}

func callError(name string, err error) error {
	if err == nil || errors.Is(err, windows.ERROR_SUCCESS) {
		return fmt.Errorf("%s failed", name)
	}
	return fmt.Errorf("%s: %w", name, err)
}
