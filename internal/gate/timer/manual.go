package timer

import (
	"sort"
	"sync"
	"time"
)

// ManualClock is a virtual Clock for tests. Time moves only through Advance, which runs due
// callbacks synchronously, in schedule order, on the caller's goroutine.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending []*scheduled
}

type scheduled struct {
	at   time.Time
	seq  uint64
	f    func()
	done bool
}

// NewManualClock returns a ManualClock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the virtual time.
func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules f at Now()+d.
func (m *ManualClock) AfterFunc(d time.Duration, f func()) Cancel {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &scheduled{at: m.now.Add(d), seq: m.seq, f: f}
	m.seq++
	m.pending = append(m.pending, s)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if s.done {
			return false
		}
		s.done = true
		m.removeLocked(s)
		return true
	}
}

// Advance moves virtual time forward by d, firing every callback that falls due, including ones
// scheduled by callbacks during the advance.
func (m *ManualClock) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		next := m.popDueLocked(target)
		if next == nil {
			break
		}
		m.now = next.at
		m.mu.Unlock()
		next.f()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

// Pending returns the number of scheduled, unfired callbacks.
func (m *ManualClock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *ManualClock) popDueLocked(target time.Time) *scheduled {
	if len(m.pending) == 0 {
		return nil
	}
	sort.SliceStable(m.pending, func(i, j int) bool {
		if m.pending[i].at.Equal(m.pending[j].at) {
			return m.pending[i].seq < m.pending[j].seq
		}
		return m.pending[i].at.Before(m.pending[j].at)
	})
	first := m.pending[0]
	if first.at.After(target) {
		return nil
	}
	m.pending = m.pending[1:]
	first.done = true
	return first
}

func (m *ManualClock) removeLocked(s *scheduled) {
	for i, p := range m.pending {
		if p == s {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}
