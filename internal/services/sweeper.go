package services

import (
	"sync"

	"github.com/huangang/offboarding/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Sweeper periodically expires idle sessions and nudges the submission
// queues of the live ones.
type Sweeper struct {
	sessions *SessionManager
	spec     string

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewSweeper(sessions *SessionManager, spec string) *Sweeper {
	if spec == "" {
		spec = "@every 1m"
	}
	return &Sweeper{sessions: sessions, spec: spec}
}

// Start schedules the sweep. Calling Start twice is a no-op.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	c := cron.New()
	id, err := c.AddFunc(s.spec, s.run)
	if err != nil {
		return err
	}
	c.Start()

	s.cron = c
	s.entryID = id
	logger.Infof("[Sweeper] Scheduler started, spec: %s", s.spec)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	logger.Infof("[Sweeper] Scheduler stopped")
}

func (s *Sweeper) run() {
	expired := s.sessions.Sweep(s.sessions.now())
	if expired > 0 {
		logger.Info().Int("expired", expired).Int("open", s.sessions.Count()).Msg("[Sweeper] idle sessions closed")
	}
}
