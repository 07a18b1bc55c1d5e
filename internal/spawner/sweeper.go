package spawner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
)

// Sweeper periodically runs fn (window expiry) until stopped.
type Sweeper struct {
	fn       func() int
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSweeper(interval time.Duration, fn func() int) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{fn: fn, interval: interval}
}

// Start begins sweeping in the background.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx, s.stopCh, s.doneCh)
}

// Stop halts the sweeper and waits for the loop to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (s *Sweeper) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("Claim window sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.fn()
		}
	}
}
