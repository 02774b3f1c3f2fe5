// Package sampler polls metric sources and publishes merged snapshots.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/skobkin/statbar/internal/broadcast"
	"github.com/skobkin/statbar/internal/metrics"
	"github.com/skobkin/statbar/internal/source"
)

// DefaultFailureThreshold is the number of consecutive read failures after
// which a source is disabled.
const DefaultFailureThreshold = 3

// Opener initialises a source. It runs on the source's own goroutine.
type Opener func(ctx context.Context) (source.Source, error)

// Spec declares one polled metric kind.
type Spec struct {
	Kind     metrics.Kind
	Interval time.Duration
	Open     Opener
}

// Options tune a Manager. Zero values select defaults.
type Options struct {
	FailureThreshold int
	Clock            func() time.Time
	Logger           *slog.Logger
}

// Manager polls every source on its own ticker, merges the latest sample of
// each kind into snapshots and fans them out to subscribers.
type Manager struct {
	specs     []Spec
	threshold int
	clock     func() time.Time
	logger    *slog.Logger
	hub       *broadcast.Hub[metrics.Snapshot]

	mu      sync.Mutex
	latest  map[metrics.Kind]metrics.Entry
	status  map[metrics.Kind]*KindStatus
	sources map[metrics.Kind]source.Source
	seq     uint64
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

// NewManager validates specs and builds a Manager. Sources are opened by Run.
func NewManager(specs []Spec, opts Options) (*Manager, error) {
	seen := make(map[metrics.Kind]struct{}, len(specs))
	for _, spec := range specs {
		if _, err := metrics.ParseKind(string(spec.Kind)); err != nil {
			return nil, err
		}
		if _, dup := seen[spec.Kind]; dup {
			return nil, fmt.Errorf("duplicate source for %s", spec.Kind)
		}
		seen[spec.Kind] = struct{}{}
		if spec.Interval <= 0 {
			return nil, fmt.Errorf("%s interval must be > 0", spec.Kind)
		}
		if spec.Open == nil {
			return nil, fmt.Errorf("%s has no opener", spec.Kind)
		}
	}

	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Manager{
		specs:     slices.Clone(specs),
		threshold: opts.FailureThreshold,
		clock:     opts.Clock,
		logger:    opts.Logger.With("component", "sampler"),
		hub:       broadcast.NewHub[metrics.Snapshot](),
		latest:    make(map[metrics.Kind]metrics.Entry),
		status:    make(map[metrics.Kind]*KindStatus, len(specs)),
		sources:   make(map[metrics.Kind]source.Source, len(specs)),
	}
	for _, spec := range specs {
		m.status[spec.Kind] = &KindStatus{
			Kind:     spec.Kind,
			State:    StatePending,
			Interval: spec.Interval,
		}
	}
	return m, nil
}

// Run opens every source and polls it until the context is canceled, then
// closes all sources.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, spec := range m.specs {
		wg.Add(1)
		go func(spec Spec) {
			defer wg.Done()
			m.runSource(ctx, spec)
		}(spec)
	}

	<-ctx.Done()
	wg.Wait()
	return m.Close()
}

func (m *Manager) runSource(ctx context.Context, spec Spec) {
	logger := m.logger.With("kind", spec.Kind)

	src, err := spec.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn("metric source unavailable, disabled for this session", "err", err)
		m.disable(spec.Kind, err)
		return
	}
	if !m.register(spec.Kind, src) {
		_ = src.Close()
		return
	}

	if nd, ok := src.(interface{ NoDevice() bool }); ok && nd.NoDevice() {
		logger.Warn("no compatible device found, metric will not be reported")
		m.markNoDevice(spec.Kind)
		return
	}

	logger.Info("sampler started", "interval", spec.Interval)
	if !m.poll(ctx, spec.Kind, src, logger) {
		return
	}

	ticker := time.NewTicker(spec.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("sampler stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			if !m.poll(ctx, spec.Kind, src, logger) {
				return
			}
		}
	}
}

// poll takes one sample. It returns false once the source has been disabled.
func (m *Manager) poll(ctx context.Context, kind metrics.Kind, src source.Source, logger *slog.Logger) bool {
	sample, err := src.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		return m.recordFailure(kind, src, err, logger)
	}
	if sample.Kind != kind {
		return m.recordFailure(kind, src, fmt.Errorf("source returned %q sample", sample.Kind), logger)
	}
	m.store(kind, sample, m.clock())
	return true
}

// store merges a sample and publishes the resulting snapshot. Both happen under
// one lock, so subscribers observe snapshots in sequence order and a kind's
// collection time never goes backwards.
func (m *Manager) store(kind metrics.Kind, sample metrics.Sample, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.status[kind]
	if m.closed || st.State != StateEnabled {
		return
	}
	if prev, ok := m.latest[kind]; ok && at.Before(prev.CollectedAt) {
		return
	}

	st.Failures = 0
	st.Samples++
	st.LastSample = at
	if sample.Empty() {
		delete(m.latest, kind)
	} else {
		m.latest[kind] = metrics.Entry{Kind: kind, CollectedAt: at, Sample: sample}
	}
	m.publishLocked(at)
}

func (m *Manager) recordFailure(kind metrics.Kind, src source.Source, err error, logger *slog.Logger) bool {
	m.mu.Lock()
	st := m.status[kind]
	st.Failures++
	st.TotalFailures++
	st.LastError = err.Error()
	failures := st.Failures
	if failures < m.threshold || st.State != StateEnabled {
		m.mu.Unlock()
		logger.Debug("metric read failed", "err", err, "consecutive", failures, "transient", errors.Is(err, source.ErrTransientRead))
		return true
	}

	st.State = StateDisabled
	_, owned := m.sources[kind]
	delete(m.sources, kind)
	if _, had := m.latest[kind]; had {
		delete(m.latest, kind)
		m.publishLocked(m.clock())
	}
	m.mu.Unlock()

	logger.Warn("metric source disabled after consecutive failures", "failures", failures, "err", err)
	if owned {
		if err := src.Close(); err != nil {
			logger.Debug("failed to close disabled source", "err", err)
		}
	}
	return false
}

func (m *Manager) publishLocked(at time.Time) {
	m.seq++
	m.hub.Publish(metrics.NewSnapshot(m.seq, at, m.latest))
}

func (m *Manager) register(kind metrics.Kind, src source.Source) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.sources[kind] = src
	m.status[kind].State = StateEnabled
	return true
}

func (m *Manager) disable(kind metrics.Kind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status[kind]
	st.State = StateDisabled
	st.LastError = err.Error()
}

func (m *Manager) markNoDevice(kind metrics.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[kind].State = StateNoDevice
}

// Latest returns the most recently published snapshot.
func (m *Manager) Latest() (metrics.Snapshot, bool) {
	return m.hub.Latest()
}

// Subscribe registers a snapshot listener. The latest snapshot, if any, is
// delivered immediately; a slow listener only misses intermediate snapshots.
func (m *Manager) Subscribe() (<-chan metrics.Snapshot, func()) {
	return m.hub.Subscribe()
}

// Subscribers returns the number of active snapshot listeners.
func (m *Manager) Subscribers() int {
	return m.hub.Len()
}

// Status reports every configured kind in configuration order.
func (m *Manager) Status() []KindStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]KindStatus, 0, len(m.specs))
	for _, spec := range m.specs {
		out = append(out, *m.status[spec.Kind])
	}
	return out
}

// Intervals returns the polling interval of each configured kind.
func (m *Manager) Intervals() map[metrics.Kind]time.Duration {
	out := make(map[metrics.Kind]time.Duration, len(m.specs))
	for _, spec := range m.specs {
		out[spec.Kind] = spec.Interval
	}
	return out
}

// Ready reports whether every kind has settled: it either produced a sample or
// is known to be unavailable.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.status {
		switch st.State {
		case StatePending:
			return false
		case StateEnabled:
			if st.Samples == 0 && st.Failures == 0 {
				return false
			}
		}
	}
	return true
}

// Close releases every open source and ends all subscriptions. Safe for
// repeated use.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		sources := m.sources
		m.sources = make(map[metrics.Kind]source.Source)
		m.mu.Unlock()

		var errs []error
		for _, kind := range metrics.Kinds() {
			src, ok := sources[kind]
			if !ok {
				continue
			}
			if err := src.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s source: %w", kind, err))
			}
		}
		m.hub.Close()
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}
