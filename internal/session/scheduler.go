package session

import (
	"sync"
	"time"
)

// scheduler is the single timer authority for one session. The global
// countdown and the per-question dwell clock both advance on its one-second
// tick; pausing or cancelling stops both together, so no orphaned timer can
// mutate a discarded session.
type scheduler struct {
	mu       sync.Mutex
	onTick   func()
	interval time.Duration
	stop     chan struct{}
	running  bool
	paused   bool
}

func newScheduler(onTick func()) *scheduler {
	return &scheduler{onTick: onTick, interval: time.Second}
}

func (s *scheduler) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.paused = false
	s.stop = make(chan struct{})
	go s.run(s.stop)
}

func (s *scheduler) run(stop chan struct{}) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.mu.Lock()
			paused := s.paused
			s.mu.Unlock()
			if !paused {
				s.onTick()
			}
		case <-stop:
			return
		}
	}
}

func (s *scheduler) pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *scheduler) resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

func (s *scheduler) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
}
