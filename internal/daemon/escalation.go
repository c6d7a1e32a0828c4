package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

// DefaultSweepInterval is how often pending commands are checked for an
// overdue escalation deadline.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper escalates overdue pending commands. core.Engine implements it.
type Sweeper interface {
	SweepEscalations(ctx context.Context) (int, error)
}

// SchedulerConfig configures the escalation scheduler.
type SchedulerConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	Logger   *log.Logger
}

// EscalationScheduler runs escalation sweeps on a fixed interval.
type EscalationScheduler struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewEscalationScheduler creates a scheduler that is not yet running.
func NewEscalationScheduler(sweeper Sweeper, cfg SchedulerConfig) *EscalationScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.GetDefaultLogger()
	}
	return &EscalationScheduler{
		sweeper:  sweeper,
		interval: cfg.Interval,
		logger:   cfg.Logger,
	}
}

// Start begins sweeping in the background. The first sweep runs
// immediately.
func (s *EscalationScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("escalation scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx, s.stopCh, s.doneCh)
	s.logger.Info("escalation scheduler started", "interval", s.interval)
	return nil
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (s *EscalationScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.doneCh
	s.running = false
	s.mu.Unlock()

	<-done
	s.logger.Info("escalation scheduler stopped")
}

// IsRunning reports whether the scheduler loop is active.
func (s *EscalationScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Sweep runs one escalation pass.
func (s *EscalationScheduler) Sweep(ctx context.Context) (int, error) {
	n, err := s.sweeper.SweepEscalations(ctx)
	if err != nil {
		return n, fmt.Errorf("escalation sweep: %w", err)
	}
	if n > 0 {
		s.logger.Info("escalation sweep complete", "escalated", n)
	} else {
		s.logger.Debug("escalation sweep complete", "escalated", 0)
	}
	return n, nil
}

func (s *EscalationScheduler) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C:
			s.sweepLogged(ctx)
		}
	}
}

func (s *EscalationScheduler) sweepLogged(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("escalation sweep failed", "error", err)
	}
}
