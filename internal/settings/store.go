package settings

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/skobkin/statbar/internal/broadcast"
)

// Persister writes settings somewhere durable.
type Persister interface {
	Save(Settings) error
}

// Store owns the canonical Settings. Readers get immutable copies; writers
// replace the whole value.
type Store struct {
	current   atomic.Pointer[Settings]
	hub       *broadcast.Hub[Settings]
	persister Persister
	logger    *slog.Logger

	writeMu sync.Mutex
}

// NewStore validates initial and returns a Store holding it. persister may be nil.
func NewStore(initial Settings, persister Persister, logger *slog.Logger) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial settings: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		hub:       broadcast.NewHub[Settings](),
		persister: persister,
		logger:    logger,
	}
	value := initial.Normalize()
	s.current.Store(&value)
	s.hub.Publish(value.Clone())
	return s, nil
}

// Current returns a copy of the active settings.
func (s *Store) Current() Settings {
	return s.current.Load().Clone()
}

// Update validates next, swaps it in and notifies subscribers. A persistence
// failure is logged; the in-memory value stays authoritative.
func (s *Store) Update(next Settings) (Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.replace(next)
}

// Modify applies fn to a copy of the current settings and stores the result.
func (s *Store) Modify(fn func(*Settings)) (Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.current.Load().Clone()
	fn(&next)
	return s.replace(next)
}

func (s *Store) replace(next Settings) (Settings, error) {
	if err := next.Validate(); err != nil {
		return s.current.Load().Clone(), err
	}

	value := next.Normalize()
	s.current.Store(&value)

	if s.persister != nil {
		if err := s.persister.Save(value.Clone()); err != nil {
			s.logger.Warn("failed to persist settings", "err", err)
		}
	}

	s.hub.Publish(value.Clone())
	return value.Clone(), nil
}

// Subscribe returns a channel receiving every new Settings value, starting
// with the current one.
func (s *Store) Subscribe() (<-chan Settings, func()) {
	return s.hub.Subscribe()
}

// Close detaches all subscribers.
func (s *Store) Close() {
	s.hub.Close()
}
