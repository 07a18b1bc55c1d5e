package redisdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/scope"
	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
	"github.com/ichi0g0y/gacha-bot/internal/types"
)

const keyPrefix = "gacha"

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key; defaults to "gacha".
	Prefix string
}

// ScopeStore keeps one JSON document per scope plus a set of scope ids.
type ScopeStore struct {
	client *redis.Client
	prefix string
}

var _ scope.Store = (*ScopeStore)(nil)

// NewClient dials Redis and verifies the connection with PING.
func NewClient(opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

func NewScopeStore(client *redis.Client, prefix string) *ScopeStore {
	if prefix == "" {
		prefix = keyPrefix
	}
	return &ScopeStore{client: client, prefix: prefix}
}

// scopeKey returns the Redis key holding a scope's state document.
func (s *ScopeStore) scopeKey(scopeID string) string {
	return fmt.Sprintf("%s:scope:%s", s.prefix, scopeID)
}

// indexKey returns the Redis set listing known scope ids.
func (s *ScopeStore) indexKey() string {
	return fmt.Sprintf("%s:scopes", s.prefix)
}

func (s *ScopeStore) Load(ctx context.Context, scopeID string) (*types.ScopeState, error) {
	data, err := s.client.Get(ctx, s.scopeKey(scopeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		state := types.NewScopeState()
		if err := s.create(ctx, scopeID, state); err != nil {
			logger.Warn("Scope state not persisted yet, starting empty",
				zap.String("scope_id", scopeID),
				zap.Error(err))
			return state, nil
		}
		logger.Info("Created scope state", zap.String("scope_id", scopeID), zap.String("backend", "redis"))
		return state, nil
	}
	if err != nil {
		logger.Error("Failed to load scope state", zap.String("scope_id", scopeID), zap.Error(err))
		return nil, fmt.Errorf("loading scope state: %w", err)
	}

	state, err := scope.Unmarshal(data)
	if err != nil {
		logger.Warn("Malformed scope state, starting empty",
			zap.String("scope_id", scopeID),
			zap.Error(err))
		return types.NewScopeState(), nil
	}
	return state, nil
}

func (s *ScopeStore) Peek(ctx context.Context, scopeID string) (*types.ScopeState, bool, error) {
	data, err := s.client.Get(ctx, s.scopeKey(scopeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading scope state: %w", err)
	}
	state, err := scope.Unmarshal(data)
	if err != nil {
		return types.NewScopeState(), true, nil
	}
	return state, true, nil
}

func (s *ScopeStore) create(ctx context.Context, scopeID string, state *types.ScopeState) error {
	data, err := scope.Marshal(state)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.SetNX(ctx, s.scopeKey(scopeID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), scopeID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("creating scope state: %w", err)
	}
	return nil
}

func (s *ScopeStore) Save(ctx context.Context, scopeID string, state *types.ScopeState) error {
	data, err := scope.Marshal(state)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.scopeKey(scopeID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), scopeID)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("Failed to save scope state", zap.String("scope_id", scopeID), zap.Error(err))
		return fmt.Errorf("saving scope state: %w", err)
	}
	return nil
}

func (s *ScopeStore) ListScopes(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing scopes: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
