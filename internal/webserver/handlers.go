package webserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/localdb"
	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
	"github.com/ichi0g0y/gacha-bot/internal/version"
)

type apiHandler struct {
	reader Reader
	hub    *eventHub
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Bot is running!"))
}

func (a *apiHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	if a.hub != nil {
		data["ws_clients"] = a.hub.clientCount()
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{
		"version": version.Version,
		"commit":  version.Commit,
		"build":   version.String(),
	}})
}

func (a *apiHandler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	scopeID := chi.URLParam(r, "scopeID")
	board, err := a.reader.Leaderboard(r.Context(), scopeID)
	if err != nil {
		logger.Error("Failed to build leaderboard", zap.String("scope_id", scopeID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, APIResponse{Error: "failed to load leaderboard"})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: board})
}

func (a *apiHandler) handleCollection(w http.ResponseWriter, r *http.Request) {
	scopeID := chi.URLParam(r, "scopeID")
	userID := chi.URLParam(r, "userID")
	items, err := a.reader.Collection(r.Context(), scopeID, userID)
	if err != nil {
		logger.Error("Failed to load collection",
			zap.String("scope_id", scopeID),
			zap.String("user_id", userID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, APIResponse{Error: "failed to load collection"})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: items})
}

func (a *apiHandler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: a.reader.Catalog()})
}

type spawnView struct {
	SpawnID     string    `json:"spawn_id"`
	Character   string    `json:"character"`
	Rarity      string    `json:"rarity"`
	Image       string    `json:"image"`
	Source      string    `json:"source"`
	RequesterID string    `json:"requester_id,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (a *apiHandler) handleSpawns(w http.ResponseWriter, r *http.Request) {
	scopeID := chi.URLParam(r, "scopeID")
	pending := a.reader.PendingSpawns(scopeID)

	views := make([]spawnView, 0, len(pending))
	for _, win := range pending {
		views = append(views, spawnView{
			SpawnID:     win.ID,
			Character:   win.Character.Name,
			Rarity:      string(win.Character.Rarity),
			Image:       win.Character.Image,
			Source:      win.Eligibility.Source(),
			RequesterID: win.Eligibility.RequesterID,
			OpenedAt:    win.OpenedAt,
			ExpiresAt:   win.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: views})
}

func handleHistory(w http.ResponseWriter, r *http.Request) {
	scopeID := chi.URLParam(r, "scopeID")
	limit := queryLimit(r, 50, 500)

	history, err := localdb.GetClaimHistory(scopeID, limit)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, APIResponse{Error: "claim history unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: history})
}
