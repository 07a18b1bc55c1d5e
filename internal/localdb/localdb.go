package localdb

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
)

var DBClient *sql.DB

func SetupDB(dbPath string) (*sql.DB, error) {
	if DBClient != nil {
		return DBClient, nil
	}

	// WALモードとBusy Timeoutを設定（Race Condition対策）
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// SQLiteは単一ライターなので接続プールを1に制限
	db.SetMaxOpenConns(1)

	// スコープ（ギルド/チャンネル）ごとの状態をJSONで保持
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS scope_state (
		scope_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		logger.Error("Failed to create scope_state table", zap.Error(err))
		_ = db.Close()
		return nil, fmt.Errorf("failed to create scope_state table: %w", err)
	}

	if err := SetupClaimHistoryTable(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	DBClient = db
	return db, nil
}

// GetDB は現在のデータベース接続を返します
func GetDB() *sql.DB {
	return DBClient
}

// Close closes the shared connection.
func Close() error {
	if DBClient == nil {
		return nil
	}
	err := DBClient.Close()
	DBClient = nil
	return err
}

func checkpoint(db *sql.DB, op string) {
	// WALチェックポイントを実行して変更をメインDBに反映
	if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		logger.Warn("Failed to checkpoint WAL", zap.String("op", op), zap.Error(err))
	}
}
