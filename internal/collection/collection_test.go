package collection

import (
	"errors"
	"testing"
	"time"

	"github.com/ichi0g0y/gacha-bot/internal/catalog"
	"github.com/ichi0g0y/gacha-bot/internal/types"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func def(name string, rarity types.Rarity) types.CharacterDefinition {
	return types.CharacterDefinition{Name: name, Rarity: rarity, Weight: 0.1}
}

func claimFor(state *types.ScopeState, userID string, d types.CharacterDefinition) {
	Add(state, userID, d, now)
	state.Claims[d.Key()] = userID
}

func TestRemove_ReleasesClaimAndReinserts(t *testing.T) {
	pool, err := catalog.NewPool([]types.CharacterDefinition{def("Colossus", types.RarityRare)})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	state := types.NewScopeState()
	custom := def("Dogpool", types.RarityLegendary)
	claimFor(state, "alice", custom)

	removed, reinserted, err := Remove(state, pool, "alice", "DOGPOOL")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if removed.Name != "Dogpool" {
		t.Fatalf("unexpected removed: got=%q want=%q", removed.Name, "Dogpool")
	}
	got, ok := pool.Lookup("dogpool")
	if !reinserted || !ok {
		t.Fatalf("character absent from catalog should be reinserted")
	}
	if got.Rarity != custom.Rarity || got.Image != custom.Image {
		t.Fatalf("unexpected reinserted definition: got=%+v want=%+v", got, custom)
	}
	if state.IsClaimed("Dogpool") {
		t.Fatalf("claim should be released")
	}
	if len(state.Collections["alice"]) != 0 {
		t.Fatalf("collection should be empty: %+v", state.Collections["alice"])
	}

	// 再度引けることを確認
	drawn, err := pool.Draw(func(key string) bool { return key == "colossus" })
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if drawn.Name != "Dogpool" {
		t.Fatalf("released character should be drawable: got=%q", drawn.Name)
	}
}

func TestRemove_CatalogAlreadyHasName(t *testing.T) {
	pool, _ := catalog.NewPool([]types.CharacterDefinition{def("Colossus", types.RarityRare)})
	state := types.NewScopeState()
	claimFor(state, "alice", def("Colossus", types.RarityRare))

	_, reinserted, err := Remove(state, pool, "alice", "colossus")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if reinserted {
		t.Fatalf("present character must not be duplicated")
	}
	if pool.Len() != 1 {
		t.Fatalf("unexpected pool size: got=%d want=1", pool.Len())
	}
}

func TestRemove_NotOwned(t *testing.T) {
	state := types.NewScopeState()
	claimFor(state, "alice", def("Colossus", types.RarityRare))

	if _, _, err := Remove(state, nil, "bob", "Colossus"); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrNotOwned)
	}
	if !state.IsClaimed("Colossus") {
		t.Fatalf("failed remove must not release the claim")
	}
}

func TestTransfer(t *testing.T) {
	state := types.NewScopeState()
	claimFor(state, "alice", def("Colossus", types.RarityRare))

	if _, err := Transfer(state, "alice", "alice", "Colossus"); !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrSelfTransfer)
	}
	if _, err := Transfer(state, "alice", "bob", "Nobody"); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrNotOwned)
	}

	moved, err := Transfer(state, "alice", "bob", "colossus")
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if moved.Name != "Colossus" {
		t.Fatalf("unexpected moved: got=%q", moved.Name)
	}
	if Find(state, "bob", "Colossus") != 0 || Find(state, "alice", "Colossus") != -1 {
		t.Fatalf("character should now belong to bob")
	}
	if state.Claims["colossus"] != "bob" {
		t.Fatalf("claim should follow the character: got=%q want=%q", state.Claims["colossus"], "bob")
	}
}

func TestTrade(t *testing.T) {
	state := types.NewScopeState()
	claimFor(state, "alice", def("Colossus", types.RarityRare))
	claimFor(state, "bob", def("Dogpool", types.RarityLegendary))

	toB, toA, err := Trade(state, "alice", "bob", "colossus", "dogpool")
	if err != nil {
		t.Fatalf("Trade failed: %v", err)
	}
	if toB.Name != "Colossus" || toA.Name != "Dogpool" {
		t.Fatalf("unexpected trade result: toB=%q toA=%q", toB.Name, toA.Name)
	}
	if Find(state, "alice", "Dogpool") < 0 || Find(state, "bob", "Colossus") < 0 {
		t.Fatalf("characters were not swapped")
	}
	if state.Claims["dogpool"] != "alice" || state.Claims["colossus"] != "bob" {
		t.Fatalf("claims not retargeted: %+v", state.Claims)
	}
}

func TestTrade_AbortsWhenSelectionGone(t *testing.T) {
	state := types.NewScopeState()
	claimFor(state, "alice", def("Colossus", types.RarityRare))
	claimFor(state, "bob", def("Dogpool", types.RarityLegendary))

	// alice が選択後に別ユーザーへ渡してしまったケース
	if _, err := Transfer(state, "alice", "carol", "Colossus"); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	if _, _, err := Trade(state, "alice", "bob", "Colossus", "Dogpool"); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrNotOwned)
	}
	if Find(state, "bob", "Dogpool") != 0 {
		t.Fatalf("bob must keep Dogpool after aborted trade")
	}
	if Find(state, "carol", "Colossus") != 0 {
		t.Fatalf("carol must keep Colossus after aborted trade")
	}
	if _, _, err := Trade(state, "bob", "bob", "Dogpool", "Dogpool"); !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrSelfTransfer)
	}
}

func TestSorted(t *testing.T) {
	items := []types.OwnedCharacter{
		{Name: "c1", Rarity: types.RarityCommon},
		{Name: "l1", Rarity: types.RarityLegendary},
		{Name: "r1", Rarity: types.RarityRare},
		{Name: "c2", Rarity: types.RarityCommon},
		{Name: "e1", Rarity: types.RarityEpic},
	}

	got := Sorted(items)
	want := []string{"l1", "e1", "r1", "c1", "c2"}
	for i, name := range want {
		if got[i].Name != name {
			t.Fatalf("unexpected order at %d: got=%q want=%q", i, got[i].Name, name)
		}
	}
	if items[0].Name != "c1" {
		t.Fatalf("Sorted must not modify its input")
	}
}

func TestLeaderboard(t *testing.T) {
	state := types.NewScopeState()
	Add(state, "alice", def("a", types.RarityCommon), now)
	Add(state, "bob", def("b1", types.RarityLegendary), now)
	Add(state, "bob", def("b2", types.RarityCommon), now)
	Add(state, "carol", def("c", types.RarityRare), now)

	board := Leaderboard(state, 2)
	if len(board) != 2 {
		t.Fatalf("unexpected size: got=%d want=2", len(board))
	}
	if board[0].UserID != "bob" || board[0].Total != 2 {
		t.Fatalf("unexpected leader: %+v", board[0])
	}
	if board[0].ByRarity[types.RarityLegendary] != 1 || board[0].ByRarity[types.RarityCommon] != 1 {
		t.Fatalf("unexpected rarity breakdown: %+v", board[0].ByRarity)
	}
	if board[1].UserID != "alice" {
		t.Fatalf("ties should break on user id: got=%q want=%q", board[1].UserID, "alice")
	}
}
