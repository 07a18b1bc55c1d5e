package main

import (
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/env"
	"github.com/ichi0g0y/gacha-bot/internal/localdb"
	"github.com/ichi0g0y/gacha-bot/internal/redisdb"
	"github.com/ichi0g0y/gacha-bot/internal/scope"
	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
)

// openStore picks the scope state backend from STORE_BACKEND.
func openStore(db *sql.DB) (scope.Store, func(), error) {
	switch strings.ToLower(env.Value.StoreBackend) {
	case "", "sqlite":
		logger.Info("Using SQLite scope store", zap.String("path", env.Value.DataDir))
		return localdb.NewScopeStore(db), func() {}, nil
	case "redis":
		client, err := redisdb.NewClient(redisdb.Options{
			Addr:     env.Value.RedisAddr,
			Password: env.Value.RedisPassword,
			DB:       env.Value.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using Redis scope store", zap.String("addr", env.Value.RedisAddr))
		return redisdb.NewScopeStore(client, ""), func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close redis client", zap.Error(err))
			}
		}, nil
	case "memory":
		logger.Warn("Using in-memory scope store, state is lost on restart")
		return scope.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", env.Value.StoreBackend)
}
