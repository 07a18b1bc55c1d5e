package localdb

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
)

// ClaimHistory はクレーム成立の履歴を保持する。
type ClaimHistory struct {
	ID        int       `json:"id"`
	ScopeID   string    `json:"scope_id"`
	SpawnID   string    `json:"spawn_id"`
	Character string    `json:"character"`
	Rarity    string    `json:"rarity"`
	UserID    string    `json:"user_id"`
	Source    string    `json:"source"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// SetupClaimHistoryTable creates the claim_history table.
func SetupClaimHistoryTable(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS claim_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scope_id TEXT NOT NULL,
			spawn_id TEXT NOT NULL,
			character TEXT NOT NULL,
			rarity TEXT NOT NULL,
			user_id TEXT NOT NULL,
			source TEXT NOT NULL,
			claimed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		logger.Error("Failed to create claim_history table", zap.Error(err))
		return fmt.Errorf("failed to create claim_history table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_claim_history_scope ON claim_history(scope_id, claimed_at DESC)`); err != nil {
		logger.Warn("Failed to create claim_history index", zap.Error(err))
	}
	return nil
}

// SaveClaimHistory appends one claim record.
func SaveClaimHistory(history ClaimHistory) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	if history.ClaimedAt.IsZero() {
		history.ClaimedAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO claim_history (
			scope_id, spawn_id, character, rarity, user_id, source, claimed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		history.ScopeID,
		history.SpawnID,
		history.Character,
		history.Rarity,
		history.UserID,
		history.Source,
		history.ClaimedAt,
	)
	if err != nil {
		logger.Error("Failed to save claim history", zap.Error(err))
		return fmt.Errorf("failed to save claim history: %w", err)
	}

	return nil
}

// GetClaimHistory returns claims of scopeID, newest first.
func GetClaimHistory(scopeID string, limit int) ([]ClaimHistory, error) {
	db := GetDB()
	if db == nil {
		return []ClaimHistory{}, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT id, scope_id, spawn_id, character, rarity, user_id, source, claimed_at
		FROM claim_history
		WHERE scope_id = ?
		ORDER BY claimed_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = db.Query(query+" LIMIT ?", scopeID, limit)
	} else {
		rows, err = db.Query(query, scopeID)
	}
	if err != nil {
		logger.Error("Failed to get claim history", zap.Error(err))
		return []ClaimHistory{}, fmt.Errorf("failed to get claim history: %w", err)
	}
	defer rows.Close()

	history := []ClaimHistory{}
	for rows.Next() {
		var item ClaimHistory
		if err := rows.Scan(
			&item.ID,
			&item.ScopeID,
			&item.SpawnID,
			&item.Character,
			&item.Rarity,
			&item.UserID,
			&item.Source,
			&item.ClaimedAt,
		); err != nil {
			logger.Error("Failed to scan claim history", zap.Error(err))
			continue
		}
		history = append(history, item)
	}

	if err := rows.Err(); err != nil {
		logger.Error("Error iterating claim history", zap.Error(err))
		return []ClaimHistory{}, fmt.Errorf("failed to iterate claim history: %w", err)
	}

	return history, nil
}

// DeleteClaimHistory removes every record of scopeID.
func DeleteClaimHistory(scopeID string) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	if _, err := db.Exec(`DELETE FROM claim_history WHERE scope_id = ?`, scopeID); err != nil {
		logger.Error("Failed to delete claim history", zap.Error(err), zap.String("scope_id", scopeID))
		return fmt.Errorf("failed to delete claim history: %w", err)
	}
	return nil
}
