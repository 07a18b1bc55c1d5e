package localdb

import (
	"context"
	"testing"
	"time"

	"github.com/ichi0g0y/gacha-bot/internal/types"
)

func TestScopeStore_FirstAccessCreatesRow(t *testing.T) {
	db := setupTestDB(t)
	store := NewScopeStore(db)
	ctx := context.Background()

	state, err := store.Load(ctx, "guild-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(state.Collections) != 0 || len(state.Claims) != 0 {
		t.Fatalf("new scope should be empty: %+v", state)
	}

	ids, err := store.ListScopes(ctx)
	if err != nil {
		t.Fatalf("ListScopes failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "guild-1" {
		t.Fatalf("unexpected scopes: got=%v want=[guild-1]", ids)
	}
}

func TestScopeStore_SaveAndReload(t *testing.T) {
	db := setupTestDB(t)
	store := NewScopeStore(db)
	ctx := context.Background()

	acquired := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	state := types.NewScopeState()
	state.Collections["alice"] = []types.OwnedCharacter{
		{Name: "Dogpool", Rarity: types.RarityLegendary, Weight: 0.02, AcquiredAt: acquired},
	}
	state.Claims["dogpool"] = "alice"
	state.Rolls["alice"] = types.RollWindow{StartedAt: acquired, Rolls: 3, Claims: 1}
	state.SpawnChannel = "general"

	if err := store.Save(ctx, "guild-1", state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	state.SpawnChannel = "spawns"
	if err := store.Save(ctx, "guild-1", state); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	reloaded, err := store.Load(ctx, "guild-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := reloaded.Collections["alice"]; len(got) != 1 || got[0].Name != "Dogpool" {
		t.Fatalf("unexpected collection: %+v", got)
	}
	if !reloaded.Collections["alice"][0].AcquiredAt.Equal(acquired) {
		t.Fatalf("unexpected AcquiredAt: got=%v want=%v", reloaded.Collections["alice"][0].AcquiredAt, acquired)
	}
	if reloaded.Claims["dogpool"] != "alice" {
		t.Fatalf("unexpected claim owner: got=%q want=%q", reloaded.Claims["dogpool"], "alice")
	}
	if reloaded.Rolls["alice"].Rolls != 3 {
		t.Fatalf("unexpected roll count: got=%d want=3", reloaded.Rolls["alice"].Rolls)
	}
	if reloaded.SpawnChannel != "spawns" {
		t.Fatalf("unexpected spawn channel: got=%q want=%q", reloaded.SpawnChannel, "spawns")
	}
}

func TestScopeStore_MalformedPayload(t *testing.T) {
	db := setupTestDB(t)
	store := NewScopeStore(db)

	if err := store.putRawPayload("guild-1", "{broken"); err != nil {
		t.Fatalf("putRawPayload failed: %v", err)
	}

	state, err := store.Load(context.Background(), "guild-1")
	if err != nil {
		t.Fatalf("malformed payload should not fail Load: %v", err)
	}
	if len(state.Collections) != 0 {
		t.Fatalf("malformed payload should load empty: %+v", state)
	}
	if state.Claims == nil {
		t.Fatalf("maps should be initialized")
	}
}

func TestScopeStore_CreateFailureStartsEmpty(t *testing.T) {
	db := setupTestDB(t)
	store := NewScopeStore(db)
	ctx := context.Background()

	if _, err := db.Exec(`
		CREATE TRIGGER reject_scope_insert BEFORE INSERT ON scope_state
		BEGIN
			SELECT RAISE(ABORT, 'disk full');
		END
	`); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}

	state, err := store.Load(ctx, "guild-1")
	if err != nil {
		t.Fatalf("failed initial write must not fail Load: %v", err)
	}
	if state == nil || state.Claims == nil || state.Collections == nil {
		t.Fatalf("Load should return a usable empty state: %+v", state)
	}

	if _, err := db.Exec(`DROP TRIGGER reject_scope_insert`); err != nil {
		t.Fatalf("failed to drop trigger: %v", err)
	}
	state.Claims["dogpool"] = "alice"
	if err := store.Save(ctx, "guild-1", state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	reloaded, err := store.Load(ctx, "guild-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.Claims["dogpool"] != "alice" {
		t.Fatalf("unexpected owner: got=%q want=%q", reloaded.Claims["dogpool"], "alice")
	}
}

func TestScopeStore_PeekDoesNotCreate(t *testing.T) {
	db := setupTestDB(t)
	store := NewScopeStore(db)
	ctx := context.Background()

	if _, found, err := store.Peek(ctx, "junk"); err != nil || found {
		t.Fatalf("Peek on a missing scope: found=%v err=%v", found, err)
	}
	ids, err := store.ListScopes(ctx)
	if err != nil {
		t.Fatalf("ListScopes failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("Peek must not create rows: got=%v", ids)
	}

	if _, err := store.Load(ctx, "guild-1"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	state, found, err := store.Peek(ctx, "guild-1")
	if err != nil || !found || state == nil {
		t.Fatalf("Peek on an existing scope: found=%v err=%v", found, err)
	}
}
