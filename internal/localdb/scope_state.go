package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/scope"
	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
	"github.com/ichi0g0y/gacha-bot/internal/types"
)

// ScopeStore persists scope state rows in sqlite.
type ScopeStore struct {
	db *sql.DB
}

var _ scope.Store = (*ScopeStore)(nil)

func NewScopeStore(db *sql.DB) *ScopeStore {
	return &ScopeStore{db: db}
}

// Load returns the state of scopeID. A missing row is created empty; a
// malformed payload is logged and treated as empty.
func (s *ScopeStore) Load(ctx context.Context, scopeID string) (*types.ScopeState, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM scope_state WHERE scope_id = ?`, scopeID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		state := types.NewScopeState()
		if err := s.insertEmpty(ctx, scopeID, state); err != nil {
			// 次回の Save で作成し直す
			logger.Warn("Scope state not persisted yet, starting empty",
				zap.String("scope_id", scopeID),
				zap.Error(err))
			return state, nil
		}
		logger.Info("Created scope state", zap.String("scope_id", scopeID))
		return state, nil
	}
	if err != nil {
		logger.Error("Failed to load scope state", zap.String("scope_id", scopeID), zap.Error(err))
		return nil, fmt.Errorf("failed to load scope state: %w", err)
	}

	state, err := scope.Unmarshal([]byte(payload))
	if err != nil {
		logger.Warn("Malformed scope state, starting empty",
			zap.String("scope_id", scopeID),
			zap.Error(err))
		return types.NewScopeState(), nil
	}
	return state, nil
}

// Peek reads scopeID without creating a row.
func (s *ScopeStore) Peek(ctx context.Context, scopeID string) (*types.ScopeState, bool, error) {
	if s.db == nil {
		return nil, false, fmt.Errorf("database not initialized")
	}

	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM scope_state WHERE scope_id = ?`, scopeID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		logger.Error("Failed to read scope state", zap.String("scope_id", scopeID), zap.Error(err))
		return nil, false, fmt.Errorf("failed to read scope state: %w", err)
	}

	state, err := scope.Unmarshal([]byte(payload))
	if err != nil {
		return types.NewScopeState(), true, nil
	}
	return state, true, nil
}

func (s *ScopeStore) insertEmpty(ctx context.Context, scopeID string, state *types.ScopeState) error {
	data, err := scope.Marshal(state)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO scope_state (scope_id, payload, updated_at)
		VALUES (?, ?, ?)
	`, scopeID, string(data), time.Now()); err != nil {
		logger.Error("Failed to create scope state", zap.String("scope_id", scopeID), zap.Error(err))
		return fmt.Errorf("failed to create scope state: %w", err)
	}
	return nil
}

// Save upserts the full state of scopeID.
func (s *ScopeStore) Save(ctx context.Context, scopeID string, state *types.ScopeState) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	data, err := scope.Marshal(state)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scope_state (scope_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(scope_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, scopeID, string(data), time.Now())
	if err != nil {
		logger.Error("Failed to save scope state", zap.String("scope_id", scopeID), zap.Error(err))
		return fmt.Errorf("failed to save scope state: %w", err)
	}

	checkpoint(s.db, "save_scope_state")
	return nil
}

// ListScopes returns every stored scope id.
func (s *ScopeStore) ListScopes(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT scope_id FROM scope_state ORDER BY scope_id`)
	if err != nil {
		logger.Error("Failed to list scopes", zap.Error(err))
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			logger.Error("Failed to scan scope id", zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scopes: %w", err)
	}
	return ids, nil
}

// putRawPayload writes payload verbatim. Tests use it to plant malformed rows.
func (s *ScopeStore) putRawPayload(scopeID, payload string) error {
	_, err := s.db.Exec(`
		INSERT INTO scope_state (scope_id, payload) VALUES (?, ?)
		ON CONFLICT(scope_id) DO UPDATE SET payload = excluded.payload
	`, scopeID, payload)
	return err
}
