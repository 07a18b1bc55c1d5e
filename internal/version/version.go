package version

import "fmt"

// ldflags で上書きされるビルド情報
var (
	Version = "dev"
	Commit  = "unknown"
	// BuildTime format: YYYYMMDD.HHMM
	BuildTime = "unknown"
)

// String returns the version line printed at startup and served on /api/version.
func String() string {
	if Commit == "unknown" {
		return "gacha-bot " + Version
	}
	return fmt.Sprintf("gacha-bot %s (commit: %s, built: %s)", Version, Commit, BuildTime)
}
