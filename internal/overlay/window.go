// Package overlay keeps the overlay window where the settings say it should
// be: positioned on the primary display, above other windows and transparent
// to input.
package overlay

import "fmt"

// Display describes the primary display. Scale is the DPI scale factor
// (1.0 at 96 DPI).
type Display struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
}

// Window is the platform window the enforcer drives. Every method is called
// from the enforcer goroutine only.
type Window interface {
	Display() (Display, error)
	Size() (width, height int, err error)
	Move(x, y int) error
	SetTopmost() error
	SetClickThrough() error
	Show() error
	Hide() error
	Close() error
}

// PlacementError is a window call the OS refused.
type PlacementError struct {
	Op  string
	Err error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("overlay %s: %v", e.Op, e.Err)
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}
