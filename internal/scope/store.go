package scope

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ichi0g0y/gacha-bot/internal/types"
)

// Store persists one ScopeState per scope id. Implementations create an
// empty record on first access and treat a malformed record as empty.
type Store interface {
	Load(ctx context.Context, scopeID string) (*types.ScopeState, error)
	Save(ctx context.Context, scopeID string, state *types.ScopeState) error
	// Peek reads a stored state without creating one. found is false when
	// the store has no record for scopeID.
	Peek(ctx context.Context, scopeID string) (state *types.ScopeState, found bool, err error)
	ListScopes(ctx context.Context) ([]string, error)
}

// Marshal encodes state as the persisted JSON document.
func Marshal(state *types.ScopeState) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scope state: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a persisted document. Empty input yields an empty state.
func Unmarshal(data []byte) (*types.ScopeState, error) {
	state := types.NewScopeState()
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, state); err != nil {
		return types.NewScopeState(), fmt.Errorf("failed to decode scope state: %w", err)
	}
	state.Normalize()
	return state, nil
}

// MemoryStore keeps encoded states in memory. Used by tests and as a
// fallback when no durable backend is configured.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int

	// FailSaves makes Save return an error (for failure-path tests).
	FailSaves bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, scopeID string) (*types.ScopeState, error) {
	m.mu.Lock()
	data, ok := m.data[scopeID]
	m.mu.Unlock()
	if !ok {
		return types.NewScopeState(), nil
	}
	state, err := Unmarshal(data)
	if err != nil {
		return types.NewScopeState(), nil
	}
	return state, nil
}

func (m *MemoryStore) Peek(_ context.Context, scopeID string) (*types.ScopeState, bool, error) {
	m.mu.Lock()
	data, ok := m.data[scopeID]
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	state, err := Unmarshal(data)
	if err != nil {
		return types.NewScopeState(), true, nil
	}
	return state, true, nil
}

func (m *MemoryStore) Save(_ context.Context, scopeID string, state *types.ScopeState) error {
	data, err := Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return fmt.Errorf("memory store: save disabled")
	}
	m.data[scopeID] = data
	m.saves++
	return nil
}

func (m *MemoryStore) ListScopes(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Saves returns the number of successful saves.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Raw returns the stored document for scopeID.
func (m *MemoryStore) Raw(scopeID string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[scopeID]
}

// PutRaw stores a raw document, bypassing encoding.
func (m *MemoryStore) PutRaw(scopeID string, data []byte) {
	m.mu.Lock()
	m.data[scopeID] = data
	m.mu.Unlock()
}
