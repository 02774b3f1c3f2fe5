// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skobkin/statbar/internal/autostart"
	"github.com/skobkin/statbar/internal/config"
	"github.com/skobkin/statbar/internal/gpu"
	"github.com/skobkin/statbar/internal/httpserver"
	"github.com/skobkin/statbar/internal/metrics"
	"github.com/skobkin/statbar/internal/overlay"
	"github.com/skobkin/statbar/internal/sampler"
	"github.com/skobkin/statbar/internal/settings"
	"github.com/skobkin/statbar/internal/source"
)

const shutdownTimeout = 10 * time.Second

// Run bootstraps the application lifecycle and blocks until ctx is canceled,
// the shutdown command arrives or a service fails.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := openSettings(cfg, baseLogger)
	if err != nil {
		return err
	}
	defer store.Close()

	starter := newAutostart(cfg, store.Current(), appLogger)

	samplerManager, err := sampler.NewManager(Specs(cfg, source.NewSystemHost(), baseLogger), sampler.Options{
		FailureThreshold: cfg.Sampling.FailureThreshold,
		Logger:           baseLogger,
	})
	if err != nil {
		return fmt.Errorf("init sampler manager: %w", err)
	}

	var enforcer *overlay.Enforcer
	if cfg.Overlay.Enable {
		window, err := overlay.NewWindow(cfg.Overlay.WindowTitle, baseLogger.With("component", "overlay"))
		if err != nil {
			appLogger.Warn("overlay window unavailable, running without enforcement", "err", err)
		} else {
			enforcer = overlay.NewEnforcer(window, store.Current(), overlay.Options{
				Interval: cfg.Overlay.EnforceInterval,
				Logger:   baseLogger,
			})
		}
	}

	controller := NewController(store, starter, cancel, baseLogger)

	deps := httpserver.Deps{
		Sampler:         samplerManager,
		Settings:        store,
		Commands:        controller,
		EnforceInterval: cfg.Overlay.EnforceInterval,
	}
	if enforcer != nil {
		deps.Overlay = enforcer
	}
	srv := httpserver.New(cfg, baseLogger, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return samplerManager.Run(gctx) })
	g.Go(func() error { return controller.Run(gctx) })
	if enforcer != nil {
		g.Go(func() error { return enforcer.Run(gctx) })
		g.Go(func() error { return forwardSettings(gctx, store, enforcer, appLogger) })
	}

	appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("shutdown initiated", "reason", context.Cause(gctx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	appLogger.Info("shutdown complete")
	return err
}

// Specs declares the metric sources polled by the sampler.
func Specs(cfg config.Config, host source.Host, logger *slog.Logger) []sampler.Spec {
	fast := cfg.Sampling.FastInterval
	return []sampler.Spec{
		{
			Kind:     metrics.KindCPU,
			Interval: fast,
			Open: opener(func(ctx context.Context) (*source.CPU, error) {
				return source.NewCPU(ctx, host, nil)
			}),
		},
		{
			Kind:     metrics.KindRAM,
			Interval: fast,
			Open: opener(func(ctx context.Context) (*source.RAM, error) {
				return source.NewRAM(ctx, host)
			}),
		},
		{
			Kind:     metrics.KindGPU,
			Interval: cfg.Sampling.GPUInterval,
			Open: opener(func(ctx context.Context) (*source.GPU, error) {
				return source.NewGPU(ctx, gpuBackends(cfg), logger)
			}),
		},
		{
			Kind:     metrics.KindDisk,
			Interval: fast,
			Open: opener(func(ctx context.Context) (*source.Disk, error) {
				return source.NewDisk(ctx, host, nil)
			}),
		},
		{
			Kind:     metrics.KindNetwork,
			Interval: fast,
			Open: opener(func(ctx context.Context) (*source.Network, error) {
				return source.NewNetwork(ctx, host, nil, cfg.Sampling.NetRescanInterval, logger)
			}),
		},
	}
}

// opener adapts a concrete constructor so a failed open never yields a typed
// nil source.
func opener[S source.Source](open func(ctx context.Context) (S, error)) sampler.Opener {
	return func(ctx context.Context) (source.Source, error) {
		src, err := open(ctx)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

func gpuBackends(cfg config.Config) []gpu.Backend {
	switch cfg.GPUBackend {
	case config.GPUBackendNvidia:
		return []gpu.Backend{gpu.NewNvidia(nil)}
	case config.GPUBackendAMD:
		return []gpu.Backend{gpu.NewAMDGPU(cfg.SysfsRoot)}
	case config.GPUBackendNone:
		return nil
	default:
		return []gpu.Backend{gpu.NewNvidia(nil), gpu.NewAMDGPU(cfg.SysfsRoot)}
	}
}

func openSettings(cfg config.Config, baseLogger *slog.Logger) (*settings.Store, error) {
	logger := baseLogger.With("component", "settings")

	path := cfg.SettingsPath
	if path == "" {
		var err error
		path, err = settings.DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	file := settings.NewFile(path, logger)
	initial, err := file.Load()
	if err != nil {
		logger.Warn("failed to read settings, using defaults", "err", err)
	}

	store, err := settings.NewStore(initial, file, logger)
	if err != nil {
		return nil, fmt.Errorf("init settings store: %w", err)
	}
	logger.Info("settings loaded", "path", file.Path(), "metrics", len(initial.Metrics), "visible", initial.Visible)
	return store, nil
}

// newAutostart returns the autostart manager and reconciles the OS entry with
// the loaded settings. It returns nil when autostart cannot be managed.
func newAutostart(cfg config.Config, current settings.Settings, logger *slog.Logger) Autostart {
	starter, err := autostart.New(cfg.Overlay.AutostartName, "")
	if err != nil {
		logger.Warn("autostart unavailable", "err", err)
		return nil
	}

	enabled, err := starter.Enabled()
	if err != nil {
		logger.Warn("failed to query autostart", "err", err)
		return starter
	}
	if enabled != current.StartWithOS {
		if err := starter.Apply(current.StartWithOS); err != nil && !errors.Is(err, autostart.ErrUnsupported) {
			logger.Warn("failed to sync autostart", "enabled", current.StartWithOS, "err", err)
		}
	}
	return starter
}

// SettingsFeed streams settings changes.
type SettingsFeed interface {
	Subscribe() (<-chan settings.Settings, func())
}

// Applier receives settings changes.
type Applier interface {
	Apply(ctx context.Context, s settings.Settings) error
}

// forwardSettings hands every settings change to the enforcer.
func forwardSettings(ctx context.Context, feed SettingsFeed, target Applier, logger *slog.Logger) error {
	updates, unsubscribe := feed.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-updates:
			if !ok {
				return nil
			}
			err := target.Apply(ctx, next)
			switch {
			case err == nil:
			case errors.Is(err, overlay.ErrStopped), errors.Is(err, context.Canceled):
				return nil
			default:
				// Placement failures are logged and retried by the enforcer.
				logger.Debug("settings applied with placement error", "err", err)
			}
		}
	}
}
