// Package schedule replaces fire-and-forget interval callbacks with an
// owned scheduler: explicit start and stop, a non-overlap guarantee, and
// a RunOnce hook so tests drive cycles without wall-clock timers.
package schedule

import (
	"context"
	"sync"
	"time"

	"communityos-bot/internal/common/logger"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context)

type Scheduler struct {
	name     string
	interval time.Duration
	task     Task
	onSkip   func()
	log      logger.Logger

	runMu  sync.Mutex // held for the duration of one run
	stopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a stopped scheduler. onSkip may be nil; it is invoked when a
// tick is skipped because the previous run is still in progress.
func New(name string, interval time.Duration, task Task, onSkip func(), log logger.Logger) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		task:     task,
		onSkip:   onSkip,
		log:      log.WithFields(map[string]interface{}{"scheduler": name}),
	}
}

// Start begins ticking. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)

	s.log.Info("scheduler started", map[string]interface{}{
		"interval": s.interval.String(),
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes the task now unless a run is already in progress, in
// which case the cycle is skipped, not queued.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if !s.runMu.TryLock() {
		if s.onSkip != nil {
			s.onSkip()
		}
		s.log.Warn("previous run still in progress, skipping cycle", nil)
		return
	}
	defer s.runMu.Unlock()

	if ctx.Err() != nil {
		return
	}
	s.task(ctx)
}

// Stop cancels ticking and waits for an in-flight run to finish. In-flight
// external calls complete or time out; nothing is retried after Stop.
func (s *Scheduler) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.cancel == nil {
		return
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.log.Info("scheduler stopped", nil)
}
