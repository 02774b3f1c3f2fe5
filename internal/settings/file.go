package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

const (
	appDirName     = "statbar"
	configFileName = "config.json"
)

// DefaultPath returns the per-user location of the settings file.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, appDirName, configFileName), nil
}

// File persists settings as JSON. Comments and trailing commas are accepted on
// read.
type File struct {
	path   string
	logger *slog.Logger
}

// NewFile returns a File backed by path.
func NewFile(path string, logger *slog.Logger) *File {
	if logger == nil {
		logger = slog.Default()
	}
	return &File{path: path, logger: logger.With("path", path)}
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Load reads the settings file. A missing, malformed or invalid file yields the
// defaults; only unexpected I/O failures are returned as errors.
func (f *File) Load() (Settings, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			f.logger.Info("settings file missing, using defaults")
			return Default(), nil
		}
		return Default(), fmt.Errorf("read settings: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		f.logger.Warn("settings file unusable, using defaults", "err", err)
		return Default(), nil
	}
	return cfg, nil
}

// Parse decodes JSONC settings on top of the defaults, so omitted fields keep
// their default values.
func Parse(data []byte) (Settings, error) {
	cfg := Default()
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg.Normalize(), nil
}

// Save writes cfg atomically via a temp file and rename.
func (f *File) Save(cfg Settings) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, configFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp settings: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	f.logger.Debug("settings saved")
	return nil
}
