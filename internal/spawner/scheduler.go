package spawner

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/catalog"
	"github.com/ichi0g0y/gacha-bot/internal/claim"
	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
)

// Spawner is the subset of the gacha service the scheduler drives.
type Spawner interface {
	Scopes(ctx context.Context) ([]string, error)
	SpawnChannel(ctx context.Context, scopeID string) (string, error)
	Spawn(ctx context.Context, scopeID string) (*claim.Window, error)
}

// Announcer publishes spawns and their outcome to the chat transport.
type Announcer interface {
	AnnounceSpawn(ctx context.Context, channel string, w *claim.Window) error
	AnnounceOutcome(ctx context.Context, channel string, w *claim.Window, out claim.Outcome) error
}

// 次のスポーンまでの待ち時間。テストで差し替える。
var randomInterval = func(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}

// Scheduler spawns a character in every scope with a spawn channel at
// random intervals between Min and Max.
type Scheduler struct {
	spawner   Spawner
	announcer Announcer
	min, max  time.Duration

	wg sync.WaitGroup
}

func NewScheduler(spawner Spawner, announcer Announcer, min, max time.Duration) *Scheduler {
	if min <= 0 {
		min = time.Minute
	}
	if max < min {
		max = min
	}
	return &Scheduler{spawner: spawner, announcer: announcer, min: min, max: max}
}

func sleepOrDone(done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return false
	case <-timer.C:
		return true
	}
}

// Run loops until ctx is done, then waits for in-flight outcome watchers.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info("Spawn scheduler started",
		zap.Duration("min_interval", s.min),
		zap.Duration("max_interval", s.max))
	defer func() {
		s.wg.Wait()
		logger.Info("Spawn scheduler stopped")
	}()

	for {
		if !sleepOrDone(ctx.Done(), randomInterval(s.min, s.max)) {
			return
		}
		s.Tick(ctx)
	}
}

// Tick performs one spawn round and returns how many spawns were opened.
func (s *Scheduler) Tick(ctx context.Context) int {
	scopes, err := s.spawner.Scopes(ctx)
	if err != nil {
		logger.Error("Failed to list scopes for spawning", zap.Error(err))
		return 0
	}

	spawned := 0
	for _, scopeID := range scopes {
		channel, err := s.spawner.SpawnChannel(ctx, scopeID)
		if err != nil {
			logger.Warn("Failed to read spawn channel", zap.String("scope_id", scopeID), zap.Error(err))
			continue
		}
		if channel == "" {
			continue
		}

		w, err := s.spawner.Spawn(ctx, scopeID)
		if errors.Is(err, catalog.ErrNoUnclaimedCharacters) {
			logger.Debug("No unclaimed characters left", zap.String("scope_id", scopeID))
			continue
		}
		if err != nil {
			logger.Error("Failed to spawn character", zap.String("scope_id", scopeID), zap.Error(err))
			continue
		}
		spawned++

		if err := s.announcer.AnnounceSpawn(ctx, channel, w); err != nil {
			logger.Warn("Failed to announce spawn", zap.String("scope_id", scopeID), zap.Error(err))
		}

		s.wg.Add(1)
		go s.watch(ctx, channel, w)
	}
	return spawned
}

func (s *Scheduler) watch(ctx context.Context, channel string, w *claim.Window) {
	defer s.wg.Done()

	out, err := w.Await(ctx)
	if err != nil {
		return
	}
	if err := s.announcer.AnnounceOutcome(ctx, channel, w, out); err != nil {
		logger.Warn("Failed to announce spawn outcome", zap.String("spawn_id", w.ID), zap.Error(err))
	}
}

// Wait blocks until every outcome watcher started by Tick has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
