package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system clock. Times are in UTC.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now().UTC() }

// Mock is a Clock that always returns a fixed time.
type Mock struct {
	T time.Time
}

// Now returns the fixed time.
func (m Mock) Now() time.Time { return m.T }

// Step is a Clock that starts at T and moves forward by Interval on every
// call, so consecutive audit timestamps are distinct and ordered.
type Step struct {
	mu       sync.Mutex
	T        time.Time
	Interval time.Duration
}

// Now returns the current time and advances the clock.
func (s *Step) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.T
	s.T = s.T.Add(s.Interval)
	return now
}
