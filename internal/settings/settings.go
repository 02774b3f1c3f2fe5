// Package settings holds the user-facing overlay configuration: where the
// overlay sits, which metrics it shows and how they look.
package settings

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/skobkin/statbar/internal/metrics"
)

// PositionMode selects how the overlay position is expressed.
type PositionMode string

const (
	PositionCorner   PositionMode = "corner"
	PositionAbsolute PositionMode = "absolute"
)

// Corner names a corner of the primary display.
type Corner string

const (
	CornerTopLeft     Corner = "top-left"
	CornerTopRight    Corner = "top-right"
	CornerBottomLeft  Corner = "bottom-left"
	CornerBottomRight Corner = "bottom-right"
)

// Item is a single displayable metric field.
type Item string

const (
	ItemCPU      Item = "cpu"
	ItemCPUFreq  Item = "cpu_freq"
	ItemRAM      Item = "ram"
	ItemRAMGB    Item = "ram_gb"
	ItemGPU      Item = "gpu"
	ItemGPUTemp  Item = "gpu_temp"
	ItemGPUPower Item = "gpu_power"
	ItemGPUClock Item = "gpu_clock"
	ItemVRAM     Item = "vram"
	ItemDiskIO   Item = "disk_io"
	ItemNetIO    Item = "net_io"
)

var itemKinds = map[Item]metrics.Kind{
	ItemCPU:      metrics.KindCPU,
	ItemCPUFreq:  metrics.KindCPU,
	ItemRAM:      metrics.KindRAM,
	ItemRAMGB:    metrics.KindRAM,
	ItemGPU:      metrics.KindGPU,
	ItemGPUTemp:  metrics.KindGPU,
	ItemGPUPower: metrics.KindGPU,
	ItemGPUClock: metrics.KindGPU,
	ItemVRAM:     metrics.KindGPU,
	ItemDiskIO:   metrics.KindDisk,
	ItemNetIO:    metrics.KindNetwork,
}

// AllItems lists every item in the default display order.
func AllItems() []Item {
	return []Item{
		ItemCPU, ItemCPUFreq, ItemRAM, ItemRAMGB, ItemGPU, ItemGPUTemp,
		ItemGPUPower, ItemGPUClock, ItemVRAM, ItemDiskIO, ItemNetIO,
	}
}

// Kind returns the metric kind backing the item.
func (i Item) Kind() (metrics.Kind, bool) {
	kind, ok := itemKinds[i]
	return kind, ok
}

// Position places the overlay on the primary display.
type Position struct {
	Mode    PositionMode `json:"mode"`
	Corner  Corner       `json:"corner"`
	OffsetX int          `json:"offset_x"`
	OffsetY int          `json:"offset_y"`
	X       int          `json:"x"`
	Y       int          `json:"y"`
}

// Appearance controls how the rendering surface draws the bar.
type Appearance struct {
	TextColor             string  `json:"text_color"`
	Opacity               float64 `json:"opacity"`
	TransparentBackground bool    `json:"transparent_bg"`
	FontFamily            string  `json:"font_family"`
	FontSize              int     `json:"font_size"`
}

// Settings is the overlay configuration. Values are replaced wholesale; use
// Clone before editing one obtained from a Store.
//
// Metrics lists the shown items in display order. Order ranks every item,
// shown or not, so a hidden item keeps its slot until it is shown again.
type Settings struct {
	Position    Position   `json:"position"`
	Metrics     []Item     `json:"metrics"`
	Order       []Item     `json:"metrics_order"`
	Appearance  Appearance `json:"appearance"`
	Visible     bool       `json:"visible"`
	StartWithOS bool       `json:"start_with_os"`
}

const (
	minFontSize = 6
	maxFontSize = 72
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Default returns the settings of a fresh install.
func Default() Settings {
	return Settings{
		Position: Position{
			Mode:    PositionCorner,
			Corner:  CornerTopRight,
			OffsetX: 15,
			OffsetY: 15,
		},
		Metrics: []Item{ItemCPU, ItemRAM, ItemRAMGB, ItemGPU, ItemDiskIO},
		Order:   AllItems(),
		Appearance: Appearance{
			TextColor:             "#CCCCCC",
			Opacity:               1.0,
			TransparentBackground: true,
			FontFamily:            "Arial",
			FontSize:              9,
		},
		Visible:     true,
		StartWithOS: false,
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	out.Metrics = slices.Clone(s.Metrics)
	out.Order = slices.Clone(s.Order)
	return out
}

// Normalize returns a copy with derived fields made consistent: an absolute
// position carries no corner, and Order ranks every item with the shown ones
// in their Metrics order. Hidden items keep their slots. s must be valid.
func (s Settings) Normalize() Settings {
	out := s.Clone()
	if out.Position.Mode == PositionAbsolute {
		out.Position.Corner = ""
	}

	order := make([]Item, 0, len(itemKinds))
	for _, item := range out.Order {
		if _, ok := item.Kind(); ok && !slices.Contains(order, item) {
			order = append(order, item)
		}
	}
	for _, item := range AllItems() {
		if !slices.Contains(order, item) {
			order = append(order, item)
		}
	}

	next := 0
	for i, item := range order {
		if slices.Contains(out.Metrics, item) {
			order[i] = out.Metrics[next]
			next++
		}
	}
	out.Order = order
	return out
}

// SetItem shows or hides one item. A shown item takes its slot from Order.
func (s Settings) SetItem(item Item, shown bool) Settings {
	out := s.Normalize()
	if shown == out.Shows(item) {
		return out
	}
	if !shown {
		out.Metrics = slices.DeleteFunc(out.Metrics, func(i Item) bool { return i == item })
		return out
	}
	if !slices.Contains(out.Order, item) {
		out.Metrics = append(out.Metrics, item)
		return out
	}
	selected := make([]Item, 0, len(out.Metrics)+1)
	for _, candidate := range out.Order {
		if candidate == item || out.Shows(candidate) {
			selected = append(selected, candidate)
		}
	}
	out.Metrics = selected
	return out
}

// Kinds returns the metric kinds needed by the selected items, in display order.
func (s Settings) Kinds() []metrics.Kind {
	kinds := make([]metrics.Kind, 0, len(s.Metrics))
	for _, item := range s.Metrics {
		kind, ok := item.Kind()
		if !ok || slices.Contains(kinds, kind) {
			continue
		}
		kinds = append(kinds, kind)
	}
	return kinds
}

// Shows reports whether item is selected.
func (s Settings) Shows(item Item) bool {
	return slices.Contains(s.Metrics, item)
}

// ValidationError describes an invalid settings field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validate checks every field.
func (s Settings) Validate() error {
	switch s.Position.Mode {
	case PositionCorner:
		switch s.Position.Corner {
		case CornerTopLeft, CornerTopRight, CornerBottomLeft, CornerBottomRight:
		default:
			return ValidationError{Field: "position.corner", Message: fmt.Sprintf("unknown corner %q", s.Position.Corner)}
		}
		if s.Position.OffsetX < 0 || s.Position.OffsetY < 0 {
			return ValidationError{Field: "position.offset", Message: "offsets must be >= 0"}
		}
	case PositionAbsolute:
	default:
		return ValidationError{Field: "position.mode", Message: fmt.Sprintf("unknown mode %q", s.Position.Mode)}
	}

	seen := make(map[Item]struct{}, len(s.Metrics))
	for _, item := range s.Metrics {
		if _, ok := item.Kind(); !ok {
			return ValidationError{Field: "metrics", Message: fmt.Sprintf("unknown metric %q", item)}
		}
		if _, dup := seen[item]; dup {
			return ValidationError{Field: "metrics", Message: fmt.Sprintf("duplicate metric %q", item)}
		}
		seen[item] = struct{}{}
	}

	seenOrder := make(map[Item]struct{}, len(s.Order))
	for _, item := range s.Order {
		if _, ok := item.Kind(); !ok {
			return ValidationError{Field: "metrics_order", Message: fmt.Sprintf("unknown metric %q", item)}
		}
		if _, dup := seenOrder[item]; dup {
			return ValidationError{Field: "metrics_order", Message: fmt.Sprintf("duplicate metric %q", item)}
		}
		seenOrder[item] = struct{}{}
	}

	if !colorPattern.MatchString(s.Appearance.TextColor) {
		return ValidationError{Field: "appearance.text_color", Message: fmt.Sprintf("%q is not a #RRGGBB color", s.Appearance.TextColor)}
	}
	if s.Appearance.Opacity < 0 || s.Appearance.Opacity > 1 {
		return ValidationError{Field: "appearance.opacity", Message: "must be within [0, 1]"}
	}
	if s.Appearance.FontFamily == "" {
		return ValidationError{Field: "appearance.font_family", Message: "must not be empty"}
	}
	if s.Appearance.FontSize < minFontSize || s.Appearance.FontSize > maxFontSize {
		return ValidationError{Field: "appearance.font_size", Message: fmt.Sprintf("must be within [%d, %d]", minFontSize, maxFontSize)}
	}
	return nil
}
