package gacha

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ichi0g0y/gacha-bot/internal/collection"
	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
	"github.com/ichi0g0y/gacha-bot/internal/types"
)

// ConfirmFunc asks the user to confirm removing owned. It runs without any
// lock held and may block until the user answers.
type ConfirmFunc func(ctx context.Context, owned types.OwnedCharacter) (bool, error)

// SelectFunc asks userID to pick one of their characters by name.
type SelectFunc func(ctx context.Context, userID string) (string, error)

// Collection returns userID's characters, rarest first. Reading never
// creates the scope.
func (s *Service) Collection(ctx context.Context, scopeID, userID string) ([]types.OwnedCharacter, error) {
	var items []types.OwnedCharacter
	err := s.registry.Peek(ctx, scopeID, func(state *types.ScopeState) error {
		items = collection.Sorted(state.Collections[userID])
		return nil
	})
	return items, err
}

// Leaderboard ranks the users of scopeID by collection size.
func (s *Service) Leaderboard(ctx context.Context, scopeID string) ([]collection.LeaderboardEntry, error) {
	var board []collection.LeaderboardEntry
	err := s.registry.Peek(ctx, scopeID, func(state *types.ScopeState) error {
		board = collection.Leaderboard(state, s.cfg.LeaderboardSize)
		return nil
	})
	return board, err
}

// Give moves one character from one user to another.
func (s *Service) Give(ctx context.Context, scopeID, from, to, name string) (types.OwnedCharacter, error) {
	var moved types.OwnedCharacter
	err := s.registry.Update(ctx, scopeID, func(state *types.ScopeState) error {
		var err error
		moved, err = collection.Transfer(state, from, to, name)
		return err
	})
	if err != nil {
		return types.OwnedCharacter{}, err
	}

	logger.Info("Character given",
		zap.String("scope_id", scopeID),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("character", moved.Name))
	return moved, nil
}

func (s *Service) lookupOwned(ctx context.Context, scopeID, userID, name string) (types.OwnedCharacter, error) {
	var owned types.OwnedCharacter
	err := s.registry.View(ctx, scopeID, func(state *types.ScopeState) error {
		idx := collection.Find(state, userID, name)
		if idx < 0 {
			return collection.ErrNotOwned
		}
		owned = state.Collections[userID][idx]
		return nil
	})
	return owned, err
}

// Remove deletes one character after confirm approves it. The confirmation
// runs outside the scope lock and ownership is re-checked at commit.
func (s *Service) Remove(ctx context.Context, scopeID, userID, name string, confirm ConfirmFunc) (types.OwnedCharacter, error) {
	owned, err := s.lookupOwned(ctx, scopeID, userID, name)
	if err != nil {
		return types.OwnedCharacter{}, err
	}

	if confirm != nil {
		ok, err := confirm(ctx, owned)
		if err != nil || !ok {
			return types.OwnedCharacter{}, ErrCancelled
		}
	}

	var (
		removed    types.OwnedCharacter
		reinserted bool
	)
	err = s.registry.Update(ctx, scopeID, func(state *types.ScopeState) error {
		var err error
		removed, reinserted, err = collection.Remove(state, s.pool, userID, name)
		return err
	})
	if err != nil {
		return types.OwnedCharacter{}, err
	}

	logger.Info("Character removed",
		zap.String("scope_id", scopeID),
		zap.String("user_id", userID),
		zap.String("character", removed.Name),
		zap.Bool("returned_to_catalog", reinserted))
	return removed, nil
}

// TradeResult is the outcome of a committed trade.
type TradeResult struct {
	ToB types.OwnedCharacter
	ToA types.OwnedCharacter
}

// Trade runs both selections concurrently outside the scope lock, then
// commits the swap atomically after re-validating both picks.
func (s *Service) Trade(ctx context.Context, scopeID, a, b string, selectFn SelectFunc) (TradeResult, error) {
	if a == b {
		return TradeResult{}, collection.ErrSelfTransfer
	}

	err := s.registry.View(ctx, scopeID, func(state *types.ScopeState) error {
		if len(state.Collections[a]) == 0 || len(state.Collections[b]) == 0 {
			return collection.ErrNotOwned
		}
		return nil
	})
	if err != nil {
		return TradeResult{}, err
	}

	picks := make([]string, 2)
	g, gctx := errgroup.WithContext(ctx)
	for i, userID := range []string{a, b} {
		g.Go(func() error {
			name, err := selectFn(gctx, userID)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, err)
			}
			if _, err := s.lookupOwned(gctx, scopeID, userID, name); err != nil {
				return err
			}
			picks[i] = strings.TrimSpace(name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return TradeResult{}, err
	}

	return s.CommitTrade(ctx, scopeID, a, b, picks[0], picks[1])
}

// CommitTrade swaps nameA (owned by a) for nameB (owned by b), or changes
// nothing when either is no longer owned.
func (s *Service) CommitTrade(ctx context.Context, scopeID, a, b, nameA, nameB string) (TradeResult, error) {
	var result TradeResult
	err := s.registry.Update(ctx, scopeID, func(state *types.ScopeState) error {
		var err error
		result.ToB, result.ToA, err = collection.Trade(state, a, b, nameA, nameB)
		return err
	})
	if err != nil {
		return TradeResult{}, err
	}

	logger.Info("Trade completed",
		zap.String("scope_id", scopeID),
		zap.String("user_a", a),
		zap.String("user_b", b),
		zap.String("a_gave", result.ToB.Name),
		zap.String("b_gave", result.ToA.Name))
	return result, nil
}

// SetSpawnChannel sets where broadcast spawns of scopeID are announced.
// An empty channel disables auto-spawn.
func (s *Service) SetSpawnChannel(ctx context.Context, scopeID, channel string) error {
	return s.registry.Update(ctx, scopeID, func(state *types.ScopeState) error {
		state.SpawnChannel = strings.TrimSpace(channel)
		return nil
	})
}

// SpawnChannel returns the configured spawn channel of scopeID.
func (s *Service) SpawnChannel(ctx context.Context, scopeID string) (string, error) {
	var channel string
	err := s.registry.View(ctx, scopeID, func(state *types.ScopeState) error {
		channel = state.SpawnChannel
		return nil
	})
	return channel, err
}
