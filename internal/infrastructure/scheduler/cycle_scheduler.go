package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saasops/backend/internal/infrastructure/logger"
)

// CycleRunner is one pass of a metering engine. Both the aggregation and
// publish services implement it; each guards its own cycles against overlap,
// so the scheduler only provides cadence and deadlines.
type CycleRunner interface {
	RunCycle(ctx context.Context) error
}

// CycleScheduler runs a CycleRunner on a fixed interval.
type CycleScheduler struct {
	name      string
	runner    CycleRunner
	logger    *zap.Logger
	config    CycleSchedulerConfig
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// CycleSchedulerConfig holds configuration for a cycle scheduler
type CycleSchedulerConfig struct {
	// Enabled determines if the scheduler is active
	Enabled bool

	// Interval is the time between cycle starts
	Interval time.Duration

	// CycleTimeout is the maximum time for a single cycle
	CycleTimeout time.Duration

	// RunOnStart runs one cycle immediately instead of waiting a full interval
	RunOnStart bool
}

// NewCycleScheduler creates a new cycle scheduler. The name labels log lines
// and the per-cycle context.
func NewCycleScheduler(
	name string,
	runner CycleRunner,
	log *zap.Logger,
	config CycleSchedulerConfig,
) (*CycleScheduler, error) {
	if config.Interval <= 0 {
		return nil, ErrInvalidConfig
	}
	return &CycleScheduler{
		name:   name,
		runner: runner,
		logger: log,
		config: config,
	}, nil
}

// Start starts the scheduler loop
func (s *CycleScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Cycle scheduler is disabled", zap.String("scheduler", s.name))
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Cycle scheduler started",
		zap.String("scheduler", s.name),
		zap.Duration("interval", s.config.Interval),
		zap.Duration("cycle_timeout", s.config.CycleTimeout),
	)

	return nil
}

// Stop gracefully stops the scheduler
func (s *CycleScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	// Wait for goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Cycle scheduler stopped gracefully", zap.String("scheduler", s.name))
		return nil
	case <-ctx.Done():
		s.logger.Warn("Cycle scheduler stop timed out", zap.String("scheduler", s.name))
		return ctx.Err()
	}
}

// runLoop runs cycles until the context is canceled
func (s *CycleScheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	if s.config.RunOnStart {
		s.executeCycle(ctx, "startup")
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Cycle loop stopping", zap.String("scheduler", s.name))
			return
		case <-ticker.C:
			s.executeCycle(ctx, "interval")
		}
	}
}

// executeCycle runs one cycle with a deadline and a fresh cycle ID
func (s *CycleScheduler) executeCycle(ctx context.Context, trigger string) {
	cycleCtx := ctx
	if s.config.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.config.CycleTimeout)
		defer cancel()
	}

	cycleCtx, log := logger.WithCycleID(cycleCtx, s.logger, uuid.NewString())
	log.Debug("Starting cycle",
		zap.String("scheduler", s.name),
		zap.String("trigger", trigger),
	)

	startTime := time.Now()
	err := s.runner.RunCycle(cycleCtx)
	duration := time.Since(startTime)

	if err != nil {
		log.Error("Cycle failed",
			zap.String("scheduler", s.name),
			zap.String("trigger", trigger),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}

	log.Debug("Cycle completed",
		zap.String("scheduler", s.name),
		zap.String("trigger", trigger),
		zap.Duration("duration", duration),
	)
}

// TriggerImmediateCycle triggers one cycle outside the regular cadence
func (s *CycleScheduler) TriggerImmediateCycle(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.wg.Add(1) // Track the goroutine
	s.mu.Unlock()

	s.logger.Info("Triggering immediate cycle", zap.String("scheduler", s.name))

	// Run in a goroutine to not block
	go func() {
		defer s.wg.Done()
		s.executeCycle(ctx, "manual")
	}()

	return nil
}

// IsRunning returns whether the scheduler is running
func (s *CycleScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
