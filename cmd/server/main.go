package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/catalog"
	"github.com/ichi0g0y/gacha-bot/internal/chatbot"
	"github.com/ichi0g0y/gacha-bot/internal/claim"
	"github.com/ichi0g0y/gacha-bot/internal/env"
	"github.com/ichi0g0y/gacha-bot/internal/gacha"
	"github.com/ichi0g0y/gacha-bot/internal/localdb"
	"github.com/ichi0g0y/gacha-bot/internal/ratelimit"
	"github.com/ichi0g0y/gacha-bot/internal/scope"
	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
	"github.com/ichi0g0y/gacha-bot/internal/shared/paths"
	"github.com/ichi0g0y/gacha-bot/internal/spawner"
	"github.com/ichi0g0y/gacha-bot/internal/version"
	"github.com/ichi0g0y/gacha-bot/internal/webserver"
)

func main() {
	logger.Init(false)
	defer logger.Sync()

	// BOT_TOKEN が無ければ終了コード2で終了
	env.MustLoadEnv()
	if env.Value.DebugMode {
		logger.Init(true)
		logger.Info("Debug mode enabled")
	}

	logger.Info("Starting gacha bot", zap.String("version", version.String()))

	paths.SetDataDir(env.Value.DataDir)
	if err := paths.EnsureDataDirs(); err != nil {
		logger.Fatal("Failed to ensure data directories", zap.Error(err))
	}

	// claim_history は保存先に関わらず SQLite に記録する
	db, err := localdb.SetupDB(paths.GetDBPath())
	if err != nil {
		logger.Fatal("Failed to setup database", zap.Error(err))
	}
	defer localdb.Close()

	store, closeStore, err := openStore(db)
	if err != nil {
		logger.Fatal("Failed to open scope store", zap.String("backend", env.Value.StoreBackend), zap.Error(err))
	}
	defer closeStore()

	pool, err := catalog.Load(env.Value.CatalogPath)
	if err != nil {
		logger.Fatal("Failed to load character catalog", zap.Error(err))
	}
	logger.Info("Character catalog loaded", zap.Int("characters", pool.Len()))

	registry := scope.NewRegistry(store)
	registry.OnPersistenceFailure(func(scopeID string, err error) {
		logger.Warn("Scope state kept in memory only", zap.String("scope_id", scopeID), zap.Error(err))
	})

	svc := gacha.NewService(gacha.Deps{
		Registry: registry,
		Pool:     pool,
		Arbiter:  claim.NewArbiter(nil),
		History:  gacha.HistoryFunc(recordHistory),
	}, gacha.Config{
		Limits: ratelimit.Limits{
			Window:     env.Value.QuotaWindow,
			MaxRolls:   env.Value.RollQuota,
			MaxClaims:  env.Value.ClaimQuota,
			MinBetween: env.Value.RollCooldown,
		},
		RollClaimWindow:  env.Value.RollClaimWindow,
		SpawnClaimWindow: env.Value.SpawnClaimWindow,
	})

	if err := webserver.StartWebServer(env.Value.ServerPort, svc); err != nil {
		logger.Fatal("Failed to start web server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := chatbot.NewTwitchClient(env.Value.BotNick, env.Value.BotToken)
	bot := chatbot.NewBot(svc, client, chatbot.Options{
		ConfirmTimeout: env.Value.ConfirmTimeout,
		SelectTimeout:  env.Value.SelectTimeout,
	})
	gateway := chatbot.NewGateway(client, bot, env.Value.Channels)

	sweeper := spawner.NewSweeper(env.Value.SweepInterval, svc.Sweep)
	sweeper.Start(ctx)

	scheduler := spawner.NewScheduler(svc, bot, env.Value.SpawnMinInterval, env.Value.SpawnMaxInterval)
	go scheduler.Run(ctx)

	logger.Info("Bot started",
		zap.Strings("channels", env.Value.Channels),
		zap.Int("port", env.Value.ServerPort),
		zap.String("liveness", fmt.Sprintf("http://localhost:%d/", env.Value.ServerPort)))

	if err := gateway.Run(ctx); err != nil {
		logger.Error("Chat gateway stopped", zap.Error(err))
		stop()
	}

	logger.Info("Shutting down...")

	sweeper.Stop()
	scheduler.Wait()
	webserver.Shutdown()

	logger.Info("Shutdown complete")
}

func recordHistory(rec gacha.ClaimRecord) error {
	return localdb.SaveClaimHistory(localdb.ClaimHistory{
		ScopeID:   rec.ScopeID,
		SpawnID:   rec.SpawnID,
		Character: rec.Character.Name,
		Rarity:    string(rec.Character.Rarity),
		UserID:    rec.UserID,
		Source:    rec.Source,
		ClaimedAt: rec.ClaimedAt,
	})
}
