package env

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
)

// ExitConfigurationMissing is the process exit status used when required
// configuration is absent.
const ExitConfigurationMissing = 2

// ErrConfigurationMissing は必須設定（BOT_TOKEN）が無い場合のエラー。
var ErrConfigurationMissing = errors.New("configuration missing")

// Config holds every runtime setting of the bot.
type Config struct {
	BotToken    string   `env:"BOT_TOKEN"`
	BotNick     string   `env:"BOT_NICK" envDefault:"gachabot"`
	Channels    []string `env:"BOT_CHANNELS" envSeparator:","`
	DataDir     string   `env:"DATA_DIR" envDefault:"data"`
	CatalogPath string   `env:"CATALOG_PATH"`
	ServerPort  int      `env:"SERVER_PORT" envDefault:"8080"`
	DebugMode   bool     `env:"DEBUG_MODE" envDefault:"false"`

	StoreBackend  string `env:"STORE_BACKEND" envDefault:"sqlite"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	RollCooldown     time.Duration `env:"ROLL_COOLDOWN" envDefault:"8s"`
	RollQuota        int           `env:"ROLL_QUOTA" envDefault:"10"`
	ClaimQuota       int           `env:"CLAIM_QUOTA" envDefault:"1"`
	QuotaWindow      time.Duration `env:"QUOTA_WINDOW" envDefault:"1h"`
	RollClaimWindow  time.Duration `env:"ROLL_CLAIM_WINDOW" envDefault:"60s"`
	SpawnClaimWindow time.Duration `env:"SPAWN_CLAIM_WINDOW" envDefault:"5m"`
	SpawnMinInterval time.Duration `env:"SPAWN_MIN_INTERVAL" envDefault:"1m"`
	SpawnMaxInterval time.Duration `env:"SPAWN_MAX_INTERVAL" envDefault:"5m"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	ConfirmTimeout   time.Duration `env:"CONFIRM_TIMEOUT" envDefault:"30s"`
	SelectTimeout    time.Duration `env:"SELECT_TIMEOUT" envDefault:"60s"`
}

// Value はロード済みの設定。LoadEnv 後に参照する。
var Value Config

// LoadEnv reads .env (when present) and the process environment into Value.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to load .env file", zap.Error(err))
	}

	cfg, err := Parse()
	if err != nil {
		return err
	}
	Value = cfg
	return nil
}

// Parse builds a Config from the current environment without touching Value.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.BotToken = strings.TrimSpace(cfg.BotToken)
	if cfg.BotToken == "" {
		return Config{}, fmt.Errorf("%w: BOT_TOKEN is not set", ErrConfigurationMissing)
	}

	channels := cfg.Channels[:0]
	for _, ch := range cfg.Channels {
		ch = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
		if ch != "" {
			channels = append(channels, ch)
		}
	}
	cfg.Channels = channels

	if cfg.SpawnMaxInterval < cfg.SpawnMinInterval {
		cfg.SpawnMaxInterval = cfg.SpawnMinInterval
	}
	return cfg, nil
}

// MustLoadEnv loads configuration and terminates the process when it is
// unusable. Missing required values exit with ExitConfigurationMissing.
func MustLoadEnv() {
	err := LoadEnv()
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
	if errors.Is(err, ErrConfigurationMissing) {
		os.Exit(ExitConfigurationMissing)
	}
	os.Exit(1)
}
