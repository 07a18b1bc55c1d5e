package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const defaultDataDir = "data"

var dataDir = defaultDataDir

// SetDataDir は保存先ディレクトリを差し替える（DATA_DIR）。
func SetDataDir(dir string) {
	if dir == "" {
		dir = defaultDataDir
	}
	dataDir = dir
}

// GetDataDir returns the directory holding the bot's persistent files.
func GetDataDir() string {
	return dataDir
}

// GetDBPath returns the sqlite database path inside the data directory.
func GetDBPath() string {
	return filepath.Join(dataDir, "gacha.db")
}

// EnsureDataDirs creates the data directory when missing.
func EnsureDataDirs() error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", dataDir, err)
	}
	return nil
}
