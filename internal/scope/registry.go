package scope

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
	"github.com/ichi0g0y/gacha-bot/internal/types"
)

// ErrPersistenceFailure wraps save errors reported to OnPersistenceFailure.
var ErrPersistenceFailure = errors.New("persistence failure")

type entry struct {
	mu     sync.Mutex
	state  *types.ScopeState
	loaded bool
}

// Registry はスコープごとの状態を遅延ロードし、スコープ単位のロックで直列化する。
// 変更は同じロックの下で保存されるため、保存順は変更順と一致する。
type Registry struct {
	store Store

	mu      sync.Mutex
	entries map[string]*entry

	failMu    sync.RWMutex
	onFailure func(scopeID string, err error)
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		store:   store,
		entries: make(map[string]*entry),
	}
}

// OnPersistenceFailure registers fn, called when a save fails.
func (r *Registry) OnPersistenceFailure(fn func(scopeID string, err error)) {
	r.failMu.Lock()
	r.onFailure = fn
	r.failMu.Unlock()
}

func (r *Registry) entry(scopeID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[scopeID]
	if !ok {
		e = &entry{}
		r.entries[scopeID] = e
	}
	return e
}

// LockScope acquires the scope lock without loading state.
func (r *Registry) LockScope(scopeID string) func() {
	e := r.entry(scopeID)
	e.mu.Lock()
	return e.mu.Unlock
}

func (r *Registry) ensureLoaded(ctx context.Context, scopeID string, e *entry) error {
	if e.loaded {
		return nil
	}
	state, err := r.store.Load(ctx, scopeID)
	if err != nil {
		logger.Error("Failed to load scope state", zap.String("scope_id", scopeID), zap.Error(err))
		return fmt.Errorf("failed to load scope %s: %w", scopeID, err)
	}
	state.Normalize()
	e.state = state
	e.loaded = true
	return nil
}

// Update runs fn on the scope state under the scope lock and saves the
// result when fn succeeds. fn must validate before mutating so that an
// error leaves the state unchanged. Save errors are logged and reported,
// never returned: the in-memory mutation stands.
func (r *Registry) Update(ctx context.Context, scopeID string, fn func(*types.ScopeState) error) error {
	e := r.entry(scopeID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := r.ensureLoaded(ctx, scopeID, e); err != nil {
		return err
	}
	if err := fn(e.state); err != nil {
		return err
	}

	if err := r.store.Save(ctx, scopeID, e.state); err != nil {
		logger.Error("Persistence failure, keeping in-memory state",
			zap.String("scope_id", scopeID),
			zap.Error(err))
		r.failMu.RLock()
		fn := r.onFailure
		r.failMu.RUnlock()
		if fn != nil {
			fn(scopeID, fmt.Errorf("%w: %v", ErrPersistenceFailure, err))
		}
	}
	return nil
}

// View runs fn on the scope state under the scope lock without saving.
func (r *Registry) View(ctx context.Context, scopeID string, fn func(*types.ScopeState) error) error {
	e := r.entry(scopeID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := r.ensureLoaded(ctx, scopeID, e); err != nil {
		return err
	}
	return fn(e.state)
}

// Peek runs fn on a read-only view of the scope state. Unlike View it never
// creates a record or a registry entry: an unknown scope is seen as empty.
// fn must not mutate the state.
func (r *Registry) Peek(ctx context.Context, scopeID string, fn func(*types.ScopeState) error) error {
	r.mu.Lock()
	e, ok := r.entries[scopeID]
	r.mu.Unlock()
	if ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.loaded {
			return fn(e.state)
		}
	}

	state, found, err := r.store.Peek(ctx, scopeID)
	if err != nil {
		logger.Error("Failed to peek scope state", zap.String("scope_id", scopeID), zap.Error(err))
		return fmt.Errorf("failed to read scope %s: %w", scopeID, err)
	}
	if !found || state == nil {
		state = types.NewScopeState()
	}
	state.Normalize()
	return fn(state)
}

// Scopes lists every known scope: loaded ones and those in the store.
func (r *Registry) Scopes(ctx context.Context) ([]string, error) {
	stored, err := r.store.ListScopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}

	seen := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		seen[id] = struct{}{}
	}
	r.mu.Lock()
	for id := range r.entries {
		seen[id] = struct{}{}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
