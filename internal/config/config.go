// Package config loads runtime options from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GPU backend selections.
const (
	GPUBackendAuto   = "auto"
	GPUBackendNvidia = "nvidia"
	GPUBackendAMD    = "amdgpu"
	GPUBackendNone   = "none"
)

// Config represents runtime configuration sourced from environment variables.
// Overlay look and placement live in the settings file, not here.
type Config struct {
	ListenAddr       string
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	LogLevel         slog.Level
	SettingsPath     string
	SysfsRoot        string
	GPUBackend       string
	Sampling         SamplingConfig
	Overlay          OverlayConfig
	WS               WebsocketConfig
}

// SamplingConfig holds the sampler cadence.
type SamplingConfig struct {
	FastInterval      time.Duration
	GPUInterval       time.Duration
	NetRescanInterval time.Duration
	FailureThreshold  int
}

// OverlayConfig controls the window enforcer.
type OverlayConfig struct {
	Enable          bool
	WindowTitle     string
	EnforceInterval time.Duration
	AutostartName   string
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		ListenAddr:     "127.0.0.1:8765",
		AllowedOrigins: []string{"localhost:*", "127.0.0.1:*"},
		LogLevel:       slog.LevelInfo,
		SysfsRoot:      "/sys",
		GPUBackend:     GPUBackendAuto,
		Sampling: SamplingConfig{
			FastInterval:      500 * time.Millisecond,
			GPUInterval:       time.Second,
			NetRescanInterval: 10 * time.Second,
			FailureThreshold:  3,
		},
		Overlay: OverlayConfig{
			Enable:          true,
			WindowTitle:     "statbar overlay",
			EnforceInterval: 500 * time.Millisecond,
			AutostartName:   "statbar",
		},
		WS: WebsocketConfig{
			MaxClients:   64,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
	}
}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Default()
	p := &parser{}

	p.str("APP_LISTEN_ADDR", &cfg.ListenAddr)
	p.list("APP_ALLOWED_ORIGINS", &cfg.AllowedOrigins)
	p.boolean("APP_ENABLE_PROMETHEUS", &cfg.EnablePrometheus)
	p.boolean("APP_ENABLE_PPROF", &cfg.EnablePprof)
	p.level("APP_LOG_LEVEL", &cfg.LogLevel)
	p.str("APP_CONFIG_PATH", &cfg.SettingsPath)
	p.str("APP_SYSFS_ROOT", &cfg.SysfsRoot)
	p.str("APP_GPU_BACKEND", &cfg.GPUBackend)

	p.duration("APP_FAST_INTERVAL", &cfg.Sampling.FastInterval)
	p.duration("APP_GPU_INTERVAL", &cfg.Sampling.GPUInterval)
	p.duration("APP_NET_RESCAN_INTERVAL", &cfg.Sampling.NetRescanInterval)
	p.positiveInt("APP_FAILURE_THRESHOLD", &cfg.Sampling.FailureThreshold)

	p.boolean("APP_OVERLAY_ENABLE", &cfg.Overlay.Enable)
	p.str("APP_WINDOW_TITLE", &cfg.Overlay.WindowTitle)
	p.duration("APP_ENFORCE_INTERVAL", &cfg.Overlay.EnforceInterval)
	p.str("APP_AUTOSTART_NAME", &cfg.Overlay.AutostartName)

	p.positiveInt("APP_WS_MAX_CLIENTS", &cfg.WS.MaxClients)
	p.duration("APP_WS_WRITE_TIMEOUT", &cfg.WS.WriteTimeout)
	p.duration("APP_WS_READ_TIMEOUT", &cfg.WS.ReadTimeout)

	if p.err != nil {
		return Config{}, p.err
	}

	switch strings.ToLower(cfg.GPUBackend) {
	case GPUBackendAuto, GPUBackendNvidia, GPUBackendAMD, GPUBackendNone:
		cfg.GPUBackend = strings.ToLower(cfg.GPUBackend)
	default:
		return Config{}, fmt.Errorf("APP_GPU_BACKEND must be one of auto, nvidia, amdgpu, none; got %q", cfg.GPUBackend)
	}

	return cfg, nil
}

// parser applies variables in order and keeps the first error.
type parser struct {
	err error
}

func (p *parser) lookup(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func (p *parser) str(key string, dst *string) {
	if value, ok := p.lookup(key); ok {
		*dst = value
	}
}

func (p *parser) list(key string, dst *[]string) {
	value, ok := p.lookup(key)
	if !ok {
		return
	}
	items := splitAndTrim(value, ",")
	if len(items) == 0 {
		p.err = fmt.Errorf("%s must not be empty", key)
		return
	}
	*dst = items
}

func (p *parser) boolean(key string, dst *bool) {
	value, ok := p.lookup(key)
	if !ok {
		return
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", key, err)
		return
	}
	*dst = enabled
}

func (p *parser) duration(key string, dst *time.Duration) {
	value, ok := p.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", key, err)
		return
	}
	if d <= 0 {
		p.err = fmt.Errorf("%s must be > 0", key)
		return
	}
	*dst = d
}

func (p *parser) positiveInt(key string, dst *int) {
	value, ok := p.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", key, err)
		return
	}
	if n <= 0 {
		p.err = fmt.Errorf("%s must be > 0", key)
		return
	}
	*dst = n
}

func (p *parser) level(key string, dst *slog.Level) {
	value, ok := p.lookup(key)
	if !ok {
		return
	}
	level, err := parseLogLevel(value)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", key, err)
		return
	}
	*dst = level
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
