// Package identity supplies record identifiers and current-time values to the
// integrity engine. Providers are stateless from the caller's point of view and
// safe for concurrent use.
package identity

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Provider hands out new record identifiers and timestamps.
type Provider interface {
	NewID() uuid.UUID
	Now() time.Time
}

// System is the production Provider: random (v4) UUIDs and the wall clock.
type System struct{}

// NewID returns a new random UUID.
func (System) NewID() uuid.UUID {
	return uuid.New()
}

// Now returns the current UTC time truncated to microseconds, the precision
// both storage backends round-trip without loss.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Sequence is a deterministic Provider for tests. Each call to Now advances
// the clock by Step; ids are random unless IDs is non-empty, in which case
// they are handed out in order.
type Sequence struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
	ids  []uuid.UUID
}

// NewSequence creates a Sequence starting at start and advancing by step.
func NewSequence(start time.Time, step time.Duration, ids ...uuid.UUID) *Sequence {
	return &Sequence{now: start.UTC(), step: step, ids: ids}
}

func (s *Sequence) NewID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return uuid.New()
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	return id
}

func (s *Sequence) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now
	s.now = s.now.Add(s.step)
	return t
}

// Set moves the clock to t. Moving it backwards is allowed; the engine never
// lets updated_at go below a record's previous value.
func (s *Sequence) Set(t time.Time) {
	s.mu.Lock()
	s.now = t.UTC()
	s.mu.Unlock()
}
