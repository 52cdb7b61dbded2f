package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Purger deletes finished process records older than a cutoff
type Purger interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionSweeperConfig holds configuration for the retention sweeper
type RetentionSweeperConfig struct {
	// Retention is how long terminal process records are kept after their last update
	Retention time.Duration

	// Interval is how often the sweep runs
	Interval time.Duration
}

// DefaultRetentionSweeperConfig returns default retention sweeper configuration
func DefaultRetentionSweeperConfig() RetentionSweeperConfig {
	return RetentionSweeperConfig{
		Retention: 24 * time.Hour,
		Interval:  10 * time.Minute,
	}
}

// Validate checks the configuration
func (c RetentionSweeperConfig) Validate() error {
	if c.Retention <= 0 {
		return fmt.Errorf("%w: retention must be positive", ErrInvalidConfig)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// RetentionSweeper periodically evicts terminal process records
type RetentionSweeper struct {
	config RetentionSweeperConfig
	purger Purger
	logger *zap.Logger
	now    func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewRetentionSweeper creates a new retention sweeper
func NewRetentionSweeper(config RetentionSweeperConfig, purger Purger, logger *zap.Logger) (*RetentionSweeper, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if purger == nil {
		return nil, fmt.Errorf("%w: purger is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionSweeper{
		config: config,
		purger: purger,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Start starts the sweep loop
func (s *RetentionSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Retention sweeper started",
		zap.Duration("retention", s.config.Retention),
		zap.Duration("interval", s.config.Interval),
	)

	return nil
}

// Stop stops the sweep loop and waits for an in-progress sweep to finish
func (s *RetentionSweeper) Stop(ctx context.Context) error {
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

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Retention sweeper stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err())
	}
}

// IsRunning reports whether the loop is active
func (s *RetentionSweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *RetentionSweeper) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Retention sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce deletes terminal records last updated before now minus the retention
// and returns the number removed.
func (s *RetentionSweeper) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.config.Retention)
	deleted, err := s.purger.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("Evicted expired process records",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}
