package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prepdesk/prepdesk/internal/question"
)

// Manager tracks the live controllers by session ID.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Controller

	agg       *question.Aggregator
	sink      Submitter
	now       Clock
	log       *slog.Logger
	idleLimit time.Duration
}

func NewManager(agg *question.Aggregator, sink Submitter, idleLimit time.Duration, now Clock, log *slog.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		sessions:  map[string]*Controller{},
		agg:       agg,
		sink:      sink,
		now:       now,
		log:       log,
		idleLimit: idleLimit,
	}
}

// Create opens a new session in the configuring state.
func (m *Manager) Create(studentID string) *Controller {
	c := New(studentID, m.agg, m.sink, m.now, m.log)
	m.mu.Lock()
	m.sessions[c.ID()] = c
	m.mu.Unlock()
	return c
}

func (m *Manager) Get(id string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sessions[id]
	return c, ok
}

// Drop abandons a session and forgets it. Leaving the test screen before
// completion lands here: timers cancelled, nothing submitted.
func (m *Manager) Drop(id string) {
	m.mu.Lock()
	c, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		c.Abandon()
	}
}

// SweepIdle discards sessions idle past the limit and completed sessions.
// Run by the janitor.
func (m *Manager) SweepIdle() int {
	m.mu.Lock()
	var stale []*Controller
	cutoff := m.now().Add(-m.idleLimit)
	for id, c := range m.sessions {
		if c.State() == StateCompleted || c.LastTouched().Before(cutoff) {
			stale = append(stale, c)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, c := range stale {
		c.Abandon()
	}
	if len(stale) > 0 {
		m.log.Info("swept idle sessions", "count", len(stale))
	}
	return len(stale)
}

// Len reports the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
