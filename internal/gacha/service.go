package gacha

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/broadcast"
	"github.com/ichi0g0y/gacha-bot/internal/catalog"
	"github.com/ichi0g0y/gacha-bot/internal/claim"
	"github.com/ichi0g0y/gacha-bot/internal/collection"
	"github.com/ichi0g0y/gacha-bot/internal/ratelimit"
	"github.com/ichi0g0y/gacha-bot/internal/scope"
	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
	"github.com/ichi0g0y/gacha-bot/internal/types"
)

// ErrCancelled is returned when an interactive step is declined or times out.
var ErrCancelled = errors.New("cancelled")

// Config はコマンド処理のタイミング設定。
type Config struct {
	Limits           ratelimit.Limits
	RollClaimWindow  time.Duration
	SpawnClaimWindow time.Duration
	LeaderboardSize  int
}

var DefaultConfig = Config{
	Limits:           ratelimit.DefaultLimits,
	RollClaimWindow:  60 * time.Second,
	SpawnClaimWindow: 5 * time.Minute,
	LeaderboardSize:  10,
}

// ClaimRecord is one successful claim, handed to the HistoryRecorder.
type ClaimRecord struct {
	ScopeID   string
	SpawnID   string
	Character types.CharacterDefinition
	UserID    string
	Source    string
	ClaimedAt time.Time
}

// HistoryRecorder persists claim records. Failures are logged only.
type HistoryRecorder interface {
	RecordClaim(rec ClaimRecord) error
}

// HistoryFunc adapts a function to HistoryRecorder.
type HistoryFunc func(rec ClaimRecord) error

func (f HistoryFunc) RecordClaim(rec ClaimRecord) error { return f(rec) }

// Deps are the collaborators of a Service.
type Deps struct {
	Registry *scope.Registry
	Pool     *catalog.Pool
	Arbiter  *claim.Arbiter
	History  HistoryRecorder
	Clock    func() time.Time
}

// Service executes every gacha command against scope state.
type Service struct {
	registry *scope.Registry
	pool     *catalog.Pool
	arbiter  *claim.Arbiter
	limiter  *ratelimit.Limiter
	throttle *ratelimit.Throttle
	history  HistoryRecorder
	cfg      Config
	now      func() time.Time
}

func NewService(deps Deps, cfg Config) *Service {
	if cfg.RollClaimWindow <= 0 {
		cfg.RollClaimWindow = DefaultConfig.RollClaimWindow
	}
	if cfg.SpawnClaimWindow <= 0 {
		cfg.SpawnClaimWindow = DefaultConfig.SpawnClaimWindow
	}
	if cfg.LeaderboardSize <= 0 {
		cfg.LeaderboardSize = DefaultConfig.LeaderboardSize
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &Service{
		registry: deps.Registry,
		pool:     deps.Pool,
		arbiter:  deps.Arbiter,
		limiter:  ratelimit.New(cfg.Limits),
		throttle: ratelimit.NewThrottle(cfg.Limits.MinBetween),
		history:  deps.History,
		cfg:      cfg,
		now:      clock,
	}
	s.arbiter.OnExpire(func(w *claim.Window) {
		broadcast.Send(map[string]interface{}{
			"type": "spawn_expired",
			"data": windowPayload(w),
		})
	})
	return s
}

// Catalog returns a copy of the current character catalog.
func (s *Service) Catalog() []types.CharacterDefinition {
	return s.pool.All()
}

// drawFor picks an unclaimed, unheld character in scopeID. Scope lock held.
func (s *Service) drawFor(state *types.ScopeState, scopeID string) (types.CharacterDefinition, error) {
	held := s.arbiter.Held(scopeID)
	return s.pool.Draw(func(key string) bool {
		if _, ok := state.Claims[key]; ok {
			return true
		}
		_, ok := held[key]
		return ok
	})
}

// Roll draws a character for userID and opens a requester-only window.
// The roll is counted only when the draw succeeds.
func (s *Service) Roll(ctx context.Context, scopeID, userID string) (*claim.Window, error) {
	now := s.now()
	if err := s.throttle.Allow(scopeID, userID, now); err != nil {
		return nil, err
	}

	var window *claim.Window
	err := s.registry.Update(ctx, scopeID, func(state *types.ScopeState) error {
		rolls := state.Rolls[userID]
		if err := s.limiter.CheckAndRecordRoll(&rolls, now); err != nil {
			return err
		}

		def, err := s.drawFor(state, scopeID)
		if err != nil {
			return err
		}

		w, err := s.arbiter.Open(scopeID, def, s.cfg.RollClaimWindow, claim.Eligibility{
			Kind:        claim.RequesterOnly,
			RequesterID: userID,
		})
		if err != nil {
			return err
		}

		state.Rolls[userID] = rolls
		window = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Character rolled",
		zap.String("scope_id", scopeID),
		zap.String("user_id", userID),
		zap.String("spawn_id", window.ID),
		zap.String("character", window.Character.Name))
	broadcastOpened(window)
	return window, nil
}

// Spawn draws a character and opens a window anyone in scopeID may claim.
func (s *Service) Spawn(ctx context.Context, scopeID string) (*claim.Window, error) {
	var window *claim.Window
	err := s.registry.View(ctx, scopeID, func(state *types.ScopeState) error {
		def, err := s.drawFor(state, scopeID)
		if err != nil {
			return err
		}
		w, err := s.arbiter.Open(scopeID, def, s.cfg.SpawnClaimWindow, claim.Eligibility{Kind: claim.Anyone})
		if err != nil {
			return err
		}
		window = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Character spawned",
		zap.String("scope_id", scopeID),
		zap.String("spawn_id", window.ID),
		zap.String("character", window.Character.Name))
	broadcastOpened(window)
	return window, nil
}

// ClaimResult describes a successful claim.
type ClaimResult struct {
	Window *claim.Window
	Owned  types.OwnedCharacter
}

// Claim attempts to claim spawnID for userID. Requester-only windows also
// consume the user's hourly claim quota; broadcast spawns never do.
func (s *Service) Claim(ctx context.Context, scopeID, spawnID, userID string) (ClaimResult, error) {
	var result ClaimResult
	err := s.registry.Update(ctx, scopeID, func(state *types.ScopeState) error {
		now := s.now()
		rolls := state.Rolls[userID]
		quota := func() bool { return s.limiter.CheckClaimEligible(rolls, now) }

		w, err := s.arbiter.Attempt(state, scopeID, spawnID, userID, quota)
		if err != nil {
			return err
		}

		result.Window = w
		result.Owned = collection.Add(state, userID, w.Character, now)
		if w.Eligibility.Kind == claim.RequesterOnly {
			s.limiter.RecordClaim(&rolls, now)
			state.Rolls[userID] = rolls
		}
		return nil
	})
	if err != nil {
		return ClaimResult{}, err
	}

	w := result.Window
	logger.Info("Character claimed",
		zap.String("scope_id", scopeID),
		zap.String("user_id", userID),
		zap.String("spawn_id", w.ID),
		zap.String("character", w.Character.Name),
		zap.String("source", w.Eligibility.Source()))

	if s.history != nil {
		rec := ClaimRecord{
			ScopeID:   scopeID,
			SpawnID:   w.ID,
			Character: w.Character,
			UserID:    userID,
			Source:    w.Eligibility.Source(),
			ClaimedAt: result.Owned.AcquiredAt,
		}
		if err := s.history.RecordClaim(rec); err != nil {
			logger.Warn("Failed to record claim history", zap.String("scope_id", scopeID), zap.Error(err))
		}
	}

	payload := windowPayload(w)
	payload["claimant"] = userID
	broadcast.Send(map[string]interface{}{
		"type": "spawn_claimed",
		"data": payload,
	})
	return result, nil
}

// ClaimLatest claims the newest open window in scopeID that userID may claim.
func (s *Service) ClaimLatest(ctx context.Context, scopeID, userID string) (ClaimResult, error) {
	w, ok := s.arbiter.Claimable(scopeID, userID)
	if !ok {
		return ClaimResult{}, claim.ErrWindowClosed
	}
	return s.Claim(ctx, scopeID, w.ID, userID)
}

// PendingSpawns lists open windows in scopeID.
func (s *Service) PendingSpawns(scopeID string) []*claim.Window {
	return s.arbiter.Pending(scopeID)
}

// Sweep expires stale windows and prunes throttle entries.
func (s *Service) Sweep() int {
	expired := s.arbiter.Sweep(s.registry)
	s.throttle.Prune(s.now())
	return expired
}

// Scopes lists every known scope.
func (s *Service) Scopes(ctx context.Context) ([]string, error) {
	return s.registry.Scopes(ctx)
}

func broadcastOpened(w *claim.Window) {
	broadcast.Send(map[string]interface{}{
		"type": "spawn_opened",
		"data": windowPayload(w),
	})
}

func windowPayload(w *claim.Window) map[string]interface{} {
	return map[string]interface{}{
		"scope_id":   w.ScopeID,
		"spawn_id":   w.ID,
		"character":  w.Character.Name,
		"rarity":     w.Character.Rarity,
		"image":      w.Character.Image,
		"source":     w.Eligibility.Source(),
		"expires_at": w.ExpiresAt,
	}
}
