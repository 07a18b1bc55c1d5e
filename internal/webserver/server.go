package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/broadcast"
	"github.com/ichi0g0y/gacha-bot/internal/claim"
	"github.com/ichi0g0y/gacha-bot/internal/collection"
	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
	"github.com/ichi0g0y/gacha-bot/internal/types"
)

// Reader is the read-only view of the gacha service served over HTTP.
type Reader interface {
	Leaderboard(ctx context.Context, scopeID string) ([]collection.LeaderboardEntry, error)
	Collection(ctx context.Context, scopeID, userID string) ([]types.OwnedCharacter, error)
	PendingSpawns(scopeID string) []*claim.Window
	Catalog() []types.CharacterDefinition
}

var (
	httpServer *http.Server
	hub        *eventHub
)

// APIResponse は全APIの共通レスポンス形式
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// NewRouter builds the HTTP routes around reader and the event hub h.
func NewRouter(reader Reader, h *eventHub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	api := &apiHandler{reader: reader, hub: h}

	// 生存確認（Bot is running!）
	r.Get("/", handleRoot)
	r.Get("/healthz", api.handleHealth)
	r.Get("/api/version", handleVersion)
	r.Get("/api/catalog", api.handleCatalog)

	r.Route("/api/scopes/{scopeID}", func(r chi.Router) {
		r.Get("/leaderboard", api.handleLeaderboard)
		r.Get("/users/{userID}/collection", api.handleCollection)
		r.Get("/spawns", api.handleSpawns)
		r.Get("/history", handleHistory)
	})

	if h != nil {
		r.Get("/ws", h.handleWS)
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// StartWebServer serves the liveness endpoint and read API on port and
// registers the WebSocket hub as the event broadcaster.
func StartWebServer(port int, reader Reader) error {
	hub = newEventHub()
	go hub.run()
	broadcast.SetBroadcaster(hub)

	httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewRouter(reader, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Web server listening", zap.Int("port", port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Web server stopped unexpectedly", zap.Error(err))
			errCh <- err
		}
	}()

	// 起動直後のポート競合などを検出
	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start web server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Shutdown stops the HTTP server and the WebSocket hub.
func Shutdown() {
	broadcast.SetBroadcaster(nil)
	if hub != nil {
		close(hub.stop)
		hub = nil
	}
	if httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown web server gracefully", zap.Error(err))
	} else {
		logger.Info("Web server shutdown complete")
	}
	httpServer = nil
}

func writeJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
