package overlay

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/skobkin/statbar/internal/settings"
)

// DefaultInterval is how often placement is re-asserted while visible.
const DefaultInterval = 500 * time.Millisecond

// ErrStopped is returned by commands sent after Run has exited.
var ErrStopped = errors.New("overlay enforcer stopped")

// Status is a point-in-time view of the enforcer.
type Status struct {
	Visible   bool      `json:"visible"`
	Display   Display   `json:"display"`
	Position  Point     `json:"position"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Passes    uint64    `json:"passes"`
	Failures  uint64    `json:"failures"`
	LastPass  time.Time `json:"last_pass,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

type commandKind int

const (
	cmdShow commandKind = iota
	cmdHide
	cmdApply
)

type command struct {
	kind     commandKind
	settings settings.Settings
	done     chan error
}

// Enforcer owns the overlay window. While visible it periodically re-applies
// position, topmost order and click-through styling.
type Enforcer struct {
	window   Window
	interval time.Duration
	logger   *slog.Logger
	clock    func() time.Time
	cmds     chan command
	stopped  chan struct{}

	// Owned by the Run goroutine. want is the requested visibility; shown and
	// known track what the window was last successfully told.
	current    settings.Settings
	want       bool
	shown      bool
	known      bool
	lastReason string

	mu     sync.Mutex
	status Status
}

// Options tune an Enforcer. Zero values select defaults.
type Options struct {
	Interval time.Duration
	Logger   *slog.Logger
	Clock    func() time.Time
}

// NewEnforcer builds an Enforcer starting from initial; the window becomes
// visible or hidden according to initial.Visible once Run starts.
func NewEnforcer(window Window, initial settings.Settings, opts Options) *Enforcer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Enforcer{
		window:   window,
		interval: opts.Interval,
		logger:   opts.Logger.With("component", "overlay"),
		clock:    opts.Clock,
		cmds:     make(chan command),
		stopped:  make(chan struct{}),
		current:  initial.Clone(),
		want:     initial.Visible,
	}
}

// Run drives the window until ctx is canceled. All window calls happen on one
// locked OS thread.
func (e *Enforcer) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.stopped)

	e.reconcile()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("enforcer stopping", "reason", ctx.Err())
			return e.window.Close()
		case <-ticker.C:
			e.reconcile()
		case cmd := <-e.cmds:
			cmd.done <- e.handle(cmd)
		}
	}
}

func (e *Enforcer) handle(cmd command) error {
	switch cmd.kind {
	case cmdShow:
		return e.show()
	case cmdHide:
		return e.hide()
	case cmdApply:
		e.current = cmd.settings
		if cmd.settings.Visible {
			return e.show()
		}
		return e.hide()
	}
	return nil
}

// reconcile is the periodic step: failed visibility changes are retried and a
// visible window gets a placement pass.
func (e *Enforcer) reconcile() {
	if e.want {
		_ = e.show()
		return
	}
	_ = e.hide()
}

// show makes the window visible if needed and runs a pass right away.
func (e *Enforcer) show() error {
	e.want = true
	if !e.known || !e.shown {
		if err := e.window.Show(); err != nil {
			return e.fail(&PlacementError{Op: "show", Err: err})
		}
		e.shown, e.known = true, true
		e.setVisible(true)
		e.logger.Info("overlay shown")
	}
	return e.pass()
}

// hide is a no-op when already hidden.
func (e *Enforcer) hide() error {
	e.want = false
	if e.known && !e.shown {
		return nil
	}
	if err := e.window.Hide(); err != nil {
		return e.fail(&PlacementError{Op: "hide", Err: err})
	}
	e.shown, e.known = false, true
	e.setVisible(false)
	e.logger.Info("overlay hidden")
	return nil
}

// pass re-applies placement, z-order and click-through once.
func (e *Enforcer) pass() error {
	display, err := e.window.Display()
	if err != nil {
		return e.fail(&PlacementError{Op: "query display", Err: err})
	}
	width, height, err := e.window.Size()
	if err != nil {
		return e.fail(&PlacementError{Op: "query size", Err: err})
	}
	origin := Place(e.current.Position, display, width, height)
	if err := e.window.Move(origin.X, origin.Y); err != nil {
		return e.fail(&PlacementError{Op: "move", Err: err})
	}
	if err := e.window.SetTopmost(); err != nil {
		return e.fail(&PlacementError{Op: "set topmost", Err: err})
	}
	if err := e.window.SetClickThrough(); err != nil {
		return e.fail(&PlacementError{Op: "set click-through", Err: err})
	}

	if e.lastReason != "" {
		e.logger.Info("overlay placement recovered")
		e.lastReason = ""
	}

	e.mu.Lock()
	e.status.Display = display
	e.status.Position = origin
	e.status.Width = width
	e.status.Height = height
	e.status.Passes++
	e.status.LastPass = e.clock()
	e.status.LastError = ""
	e.mu.Unlock()
	return nil
}

// fail records a failed window call and logs it once per distinct reason until
// a pass succeeds.
func (e *Enforcer) fail(err error) error {
	reason := err.Error()
	if reason != e.lastReason {
		e.logger.Warn("overlay placement failed, retrying every tick", "err", err)
		e.lastReason = reason
	}
	e.mu.Lock()
	e.status.Failures++
	e.status.LastError = reason
	e.mu.Unlock()
	return err
}

func (e *Enforcer) setVisible(visible bool) {
	e.mu.Lock()
	e.status.Visible = visible
	e.mu.Unlock()
}

// Show makes the overlay visible and enforces placement immediately.
func (e *Enforcer) Show(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdShow})
}

// Hide hides the overlay. Hiding a hidden overlay does nothing.
func (e *Enforcer) Hide(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdHide})
}

// Apply switches to new settings, including their visibility, and runs a pass
// when the overlay is visible.
func (e *Enforcer) Apply(ctx context.Context, s settings.Settings) error {
	return e.send(ctx, command{kind: cmdApply, settings: s.Clone()})
}

func (e *Enforcer) send(ctx context.Context, cmd command) error {
	cmd.done = make(chan error, 1)
	select {
	case e.cmds <- cmd:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the latest enforcement status.
func (e *Enforcer) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}
