package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/skobkin/statbar/internal/api"
	"github.com/skobkin/statbar/internal/autostart"
	"github.com/skobkin/statbar/internal/settings"
)

// SettingsStore is the write side of the settings store.
type SettingsStore interface {
	Current() settings.Settings
	Update(next settings.Settings) (settings.Settings, error)
	Modify(fn func(*settings.Settings)) (settings.Settings, error)
}

// Autostart applies the start-with-OS flag.
type Autostart interface {
	Apply(enabled bool) error
}

var errControllerStopped = errors.New("command controller stopped")

type request struct {
	cmd   api.Command
	reply chan api.Result
}

// Controller executes commands one at a time in receipt order.
type Controller struct {
	store     SettingsStore
	autostart Autostart
	shutdown  func()
	logger    *slog.Logger

	requests chan request
	stopped  chan struct{}
}

// NewController builds a Controller. starter may be nil; shutdown is invoked
// by the shutdown command.
func NewController(store SettingsStore, starter Autostart, shutdown func(), logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:     store,
		autostart: starter,
		shutdown:  shutdown,
		logger:    logger.With("component", "commands"),
		requests:  make(chan request),
		stopped:   make(chan struct{}),
	}
}

// Run processes commands until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-c.requests:
			req.reply <- c.handle(req.cmd)
		}
	}
}

// Execute queues cmd and waits for its result.
func (c *Controller) Execute(ctx context.Context, cmd api.Command) api.Result {
	req := request{cmd: cmd, reply: make(chan api.Result, 1)}
	select {
	case c.requests <- req:
	case <-c.stopped:
		return failed(cmd, errControllerStopped)
	case <-ctx.Done():
		return failed(cmd, ctx.Err())
	}
	select {
	case result := <-req.reply:
		return result
	case <-ctx.Done():
		return failed(cmd, ctx.Err())
	}
}

func (c *Controller) handle(cmd api.Command) api.Result {
	if err := cmd.Validate(); err != nil {
		return failed(cmd, err)
	}

	prev := c.store.Current()
	var (
		next settings.Settings
		err  error
	)
	switch cmd.Type {
	case api.CommandToggleVisibility:
		next, err = c.store.Modify(func(s *settings.Settings) { s.Visible = !s.Visible })
	case api.CommandUpdateConfig:
		next, err = c.store.Update(*cmd.Settings)
	case api.CommandSetMetric:
		next, err = c.store.Modify(func(s *settings.Settings) { *s = s.SetItem(cmd.Item, *cmd.Enabled) })
	case api.CommandResetConfig:
		next, err = c.store.Update(settings.Default())
	case api.CommandShutdown:
		c.logger.Info("shutdown requested")
		if c.shutdown != nil {
			c.shutdown()
		}
		return api.Result{Command: cmd.Type, OK: true}
	case api.CommandPing:
		return api.Result{Command: cmd.Type, OK: true}
	}
	if err != nil {
		return failed(cmd, err)
	}

	if next.StartWithOS != prev.StartWithOS {
		c.applyAutostart(next.StartWithOS)
	}
	c.logger.Debug("command applied", "command", cmd.Type, "visible", next.Visible)
	return api.Result{Command: cmd.Type, OK: true, Settings: &next}
}

// applyAutostart keeps the settings change even when the OS registration
// fails.
func (c *Controller) applyAutostart(enabled bool) {
	if c.autostart == nil {
		return
	}
	err := c.autostart.Apply(enabled)
	switch {
	case err == nil:
		c.logger.Info("autostart updated", "enabled", enabled)
	case errors.Is(err, autostart.ErrUnsupported):
		c.logger.Info("autostart not supported on this platform", "enabled", enabled)
	default:
		c.logger.Warn("failed to update autostart", "enabled", enabled, "err", err)
	}
}

func failed(cmd api.Command, err error) api.Result {
	result := api.Result{Command: cmd.Type, Error: err.Error()}
	var verr settings.ValidationError
	if errors.As(err, &verr) {
		result.Field = verr.Field
	}
	return result
}
