package sampler

import (
	"encoding/json"
	"time"

	"github.com/skobkin/statbar/internal/metrics"
)

// State is the lifecycle state of one metric kind.
type State string

const (
	StatePending  State = "pending"
	StateEnabled  State = "enabled"
	StateNoDevice State = "no_device"
	StateDisabled State = "disabled"
)

// KindStatus describes how one metric kind is doing.
type KindStatus struct {
	Kind          metrics.Kind
	State         State
	Interval      time.Duration
	Failures      int
	TotalFailures uint64
	Samples       uint64
	LastSample    time.Time
	LastError     string
}

// MarshalJSON renders durations in milliseconds and omits unset times.
func (s KindStatus) MarshalJSON() ([]byte, error) {
	type wire struct {
		Kind          metrics.Kind `json:"kind"`
		State         State        `json:"state"`
		IntervalMS    int64        `json:"interval_ms"`
		Failures      int          `json:"consecutive_failures"`
		TotalFailures uint64       `json:"total_failures"`
		Samples       uint64       `json:"samples"`
		LastSample    *time.Time   `json:"last_sample,omitempty"`
		LastError     string       `json:"last_error,omitempty"`
	}
	w := wire{
		Kind:          s.Kind,
		State:         s.State,
		IntervalMS:    s.Interval.Milliseconds(),
		Failures:      s.Failures,
		TotalFailures: s.TotalFailures,
		Samples:       s.Samples,
		LastError:     s.LastError,
	}
	if !s.LastSample.IsZero() {
		at := s.LastSample
		w.LastSample = &at
	}
	return json.Marshal(w)
}
