package gpio

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// Transition is one write recorded by Sim.
type Transition struct {
	Level Level
	At    time.Time
}

// Sim is an in-memory output. It records every write so tests can check
// the exact level sequence and its timing.
type Sim struct {
	mu      sync.Mutex
	clock   clock.Clock
	level   Level
	history []Transition
	fault   error
	closed  bool
}

// NewSim returns a simulated output that starts low. A nil clock means
// the wall clock.
func NewSim(clk clock.Clock) *Sim {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Sim{clock: clk}
}

func (s *Sim) SetHigh() error { return s.write(High) }

func (s *Sim) SetLow() error { return s.write(Low) }

func (s *Sim) write(level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.fault != nil {
		return s.fault
	}
	s.level = level
	s.history = append(s.history, Transition{Level: level, At: s.clock.Now()})
	return nil
}

// Close drives the line low and rejects further writes.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if s.level != Low {
		s.level = Low
		s.history = append(s.history, Transition{Level: Low, At: s.clock.Now()})
	}
	s.closed = true
	return nil
}

func (s *Sim) String() string { return "sim" }

// Fail makes every following write return err. A nil err clears it.
func (s *Sim) Fail(err error) {
	s.mu.Lock()
	s.fault = err
	s.mu.Unlock()
}

// Level returns the level last written.
func (s *Sim) Level() Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// History returns a copy of every recorded write.
func (s *Sim) History() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transition(nil), s.history...)
}

// Levels returns just the written levels, in order.
func (s *Sim) Levels() []Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	levels := make([]Level, len(s.history))
	for i, t := range s.history {
		levels[i] = t.Level
	}
	return levels
}

// Closed reports whether Close has been called.
func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
