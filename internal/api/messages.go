// Package api defines the JSON messages exchanged with rendering clients over
// WebSocket and the REST endpoints.
package api

import (
	"fmt"
	"time"

	"github.com/skobkin/statbar/internal/metrics"
	"github.com/skobkin/statbar/internal/sampler"
	"github.com/skobkin/statbar/internal/settings"
	"github.com/skobkin/statbar/internal/version"
)

// Message types sent by the server.
const (
	TypeHello    = "hello"
	TypeSnapshot = "snapshot"
	TypeSettings = "settings"
	TypeResult   = "result"
	TypeError    = "error"
	TypePong     = "pong"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type              string                 `json:"type"`
	Version           version.Info           `json:"version"`
	IntervalsMS       map[metrics.Kind]int64 `json:"intervals_ms"`
	EnforceIntervalMS int64                  `json:"enforce_interval_ms"`
	Settings          settings.Settings      `json:"settings"`
	Sources           []sampler.KindStatus   `json:"sources"`
	Features          map[string]bool        `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervals map[metrics.Kind]time.Duration, enforce time.Duration, current settings.Settings, sources []sampler.KindStatus, features map[string]bool) HelloMessage {
	ms := make(map[metrics.Kind]int64, len(intervals))
	for kind, interval := range intervals {
		ms[kind] = interval.Milliseconds()
	}
	return HelloMessage{
		Type:              TypeHello,
		Version:           version.Current(),
		IntervalsMS:       ms,
		EnforceIntervalMS: enforce.Milliseconds(),
		Settings:          current,
		Sources:           sources,
		Features:          features,
	}
}

// SnapshotMessage wraps a snapshot for transport.
type SnapshotMessage struct {
	Type string `json:"type"`
	metrics.Snapshot
}

// NewSnapshotMessage constructs a snapshot payload.
func NewSnapshotMessage(snapshot metrics.Snapshot) SnapshotMessage {
	return SnapshotMessage{Type: TypeSnapshot, Snapshot: snapshot}
}

// SettingsMessage announces the active settings.
type SettingsMessage struct {
	Type     string            `json:"type"`
	Settings settings.Settings `json:"settings"`
}

// NewSettingsMessage constructs a settings payload.
func NewSettingsMessage(s settings.Settings) SettingsMessage {
	return SettingsMessage{Type: TypeSettings, Settings: s}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// NewErrorMessage constructs an error payload.
func NewErrorMessage(msg, field string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: msg, Field: field}
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}

// Client command types.
const (
	CommandToggleVisibility = "toggle_visibility"
	CommandUpdateConfig     = "update_config"
	CommandSetMetric        = "set_metric"
	CommandResetConfig      = "reset_config"
	CommandShutdown         = "shutdown"
	CommandPing             = "ping"
)

// Command is the envelope of every client request, over WebSocket or
// POST /api/commands.
type Command struct {
	Type     string             `json:"type"`
	Settings *settings.Settings `json:"settings,omitempty"`

	// Item and Enabled are used by set_metric.
	Item    settings.Item `json:"item,omitempty"`
	Enabled *bool         `json:"enabled,omitempty"`
}

// Validate checks the envelope shape; settings contents are validated by the
// store.
func (c Command) Validate() error {
	switch c.Type {
	case CommandToggleVisibility, CommandResetConfig, CommandShutdown, CommandPing:
		return nil
	case CommandUpdateConfig:
		if c.Settings == nil {
			return fmt.Errorf("%s requires settings", c.Type)
		}
		return nil
	case CommandSetMetric:
		if c.Item == "" || c.Enabled == nil {
			return fmt.Errorf("%s requires item and enabled", c.Type)
		}
		return nil
	case "":
		return fmt.Errorf("missing command type")
	default:
		return fmt.Errorf("unknown command %q", c.Type)
	}
}

// Result reports the outcome of a command.
type Result struct {
	Type     string             `json:"type"`
	Command  string             `json:"command"`
	OK       bool               `json:"ok"`
	Settings *settings.Settings `json:"settings,omitempty"`
	Error    string             `json:"error,omitempty"`
	Field    string             `json:"field,omitempty"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Sources   []sampler.KindStatus `json:"sources"`
	Overlay   any                  `json:"overlay,omitempty"`
	WSClients int64                `json:"ws_clients"`
	Version   version.Info         `json:"version"`
}
