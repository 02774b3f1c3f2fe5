package config

import (
	"log/slog"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:8765" {
		t.Fatalf("unexpected ListenAddr %q", cfg.ListenAddr)
	}
	if cfg.Sampling.FastInterval != 500*time.Millisecond {
		t.Fatalf("unexpected FastInterval %s", cfg.Sampling.FastInterval)
	}
	if cfg.Sampling.GPUInterval != time.Second {
		t.Fatalf("unexpected GPUInterval %s", cfg.Sampling.GPUInterval)
	}
	if cfg.Sampling.NetRescanInterval != 10*time.Second {
		t.Fatalf("unexpected NetRescanInterval %s", cfg.Sampling.NetRescanInterval)
	}
	if cfg.Sampling.FailureThreshold != 3 {
		t.Fatalf("unexpected FailureThreshold %d", cfg.Sampling.FailureThreshold)
	}
	if cfg.Overlay.EnforceInterval != 500*time.Millisecond {
		t.Fatalf("unexpected EnforceInterval %s", cfg.Overlay.EnforceInterval)
	}
	if !cfg.Overlay.Enable {
		t.Fatalf("expected overlay enabled by default")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected LogLevel %v", cfg.LogLevel)
	}
	if cfg.GPUBackend != GPUBackendAuto {
		t.Fatalf("unexpected GPUBackend %q", cfg.GPUBackend)
	}
	if cfg.SettingsPath != "" {
		t.Fatalf("SettingsPath should default to empty, got %q", cfg.SettingsPath)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_LISTEN_ADDR", "0.0.0.0:9000")
	t.Setenv("APP_ALLOWED_ORIGINS", "example.com, other.test")
	t.Setenv("APP_ENABLE_PROMETHEUS", "true")
	t.Setenv("APP_ENABLE_PPROF", "true")
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("APP_CONFIG_PATH", "/tmp/statbar.json")
	t.Setenv("APP_SYSFS_ROOT", "/tmp/sys")
	t.Setenv("APP_GPU_BACKEND", "NVIDIA")
	t.Setenv("APP_FAST_INTERVAL", "250ms")
	t.Setenv("APP_GPU_INTERVAL", "2s")
	t.Setenv("APP_NET_RESCAN_INTERVAL", "30s")
	t.Setenv("APP_FAILURE_THRESHOLD", "5")
	t.Setenv("APP_OVERLAY_ENABLE", "false")
	t.Setenv("APP_WINDOW_TITLE", "my overlay")
	t.Setenv("APP_ENFORCE_INTERVAL", "1s")
	t.Setenv("APP_AUTOSTART_NAME", "my statbar")
	t.Setenv("APP_WS_MAX_CLIENTS", "8")
	t.Setenv("APP_WS_WRITE_TIMEOUT", "10s")
	t.Setenv("APP_WS_READ_TIMEOUT", "45s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	want := Config{
		ListenAddr:       "0.0.0.0:9000",
		AllowedOrigins:   []string{"example.com", "other.test"},
		EnablePrometheus: true,
		EnablePprof:      true,
		LogLevel:         slog.LevelDebug,
		SettingsPath:     "/tmp/statbar.json",
		SysfsRoot:        "/tmp/sys",
		GPUBackend:       GPUBackendNvidia,
		Sampling: SamplingConfig{
			FastInterval:      250 * time.Millisecond,
			GPUInterval:       2 * time.Second,
			NetRescanInterval: 30 * time.Second,
			FailureThreshold:  5,
		},
		Overlay: OverlayConfig{
			Enable:          false,
			WindowTitle:     "my overlay",
			EnforceInterval: time.Second,
			AutostartName:   "my statbar",
		},
		WS: WebsocketConfig{
			MaxClients:   8,
			WriteTimeout: 10 * time.Second,
			ReadTimeout:  45 * time.Second,
		},
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("config mismatch:\n got %+v\nwant %+v", cfg, want)
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		val  string
	}{
		{"NegativeFastInterval", "APP_FAST_INTERVAL", "-1s"},
		{"InvalidGPUInterval", "APP_GPU_INTERVAL", "soon"},
		{"ZeroRescanInterval", "APP_NET_RESCAN_INTERVAL", "0s"},
		{"ZeroFailureThreshold", "APP_FAILURE_THRESHOLD", "0"},
		{"InvalidFailureThreshold", "APP_FAILURE_THRESHOLD", "three"},
		{"InvalidOrigins", "APP_ALLOWED_ORIGINS", ","},
		{"InvalidPrometheusBool", "APP_ENABLE_PROMETHEUS", "maybe"},
		{"InvalidOverlayBool", "APP_OVERLAY_ENABLE", "sometimes"},
		{"InvalidLogLevel", "APP_LOG_LEVEL", "loud"},
		{"UnknownGPUBackend", "APP_GPU_BACKEND", "intel"},
		{"InvalidEnforceInterval", "APP_ENFORCE_INTERVAL", "fast"},
		{"InvalidWSMaxClients", "APP_WS_MAX_CLIENTS", "zero"},
		{"NonPositiveWSMaxClients", "APP_WS_MAX_CLIENTS", "0"},
		{"InvalidWSWriteTimeout", "APP_WS_WRITE_TIMEOUT", "nope"},
		{"NegativeWSReadTimeout", "APP_WS_READ_TIMEOUT", "-1s"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
		})
	}
}
