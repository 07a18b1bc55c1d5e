// Package collection implements the per-user collection operations of a
// scope. Every function expects the caller to hold the scope lock and
// validates before mutating, so a returned error leaves state untouched.
package collection

import (
	"errors"
	"sort"
	"time"

	"github.com/ichi0g0y/gacha-bot/internal/types"
)

var (
	ErrNotOwned     = errors.New("character not owned")
	ErrSelfTransfer = errors.New("cannot transfer to yourself")
)

// Catalog receives characters released back into the draw pool.
type Catalog interface {
	AddIfAbsent(def types.CharacterDefinition) (bool, error)
}

// Add appends a snapshot of def to userID's collection. Duplicates are allowed.
func Add(state *types.ScopeState, userID string, def types.CharacterDefinition, now time.Time) types.OwnedCharacter {
	owned := types.Snapshot(def, now)
	state.Collections[userID] = append(state.Collections[userID], owned)
	return owned
}

// Find returns the index of the first case-insensitive match of name in
// userID's collection, or -1.
func Find(state *types.ScopeState, userID, name string) int {
	key := types.NameKey(name)
	for i, c := range state.Collections[userID] {
		if types.NameKey(c.Name) == key {
			return i
		}
	}
	return -1
}

func owns(state *types.ScopeState, userID, key string) bool {
	for _, c := range state.Collections[userID] {
		if types.NameKey(c.Name) == key {
			return true
		}
	}
	return false
}

func removeAt(state *types.ScopeState, userID string, idx int) types.OwnedCharacter {
	items := state.Collections[userID]
	removed := items[idx]
	items = append(items[:idx:idx], items[idx+1:]...)
	if len(items) == 0 {
		delete(state.Collections, userID)
	} else {
		state.Collections[userID] = items
	}
	return removed
}

// Remove drops the first match of name from userID's collection, releases
// the claim when userID no longer holds a copy, and returns the character to
// the catalog when the catalog lacks it. reinserted reports the latter.
func Remove(state *types.ScopeState, catalog Catalog, userID, name string) (removed types.OwnedCharacter, reinserted bool, err error) {
	idx := Find(state, userID, name)
	if idx < 0 {
		return types.OwnedCharacter{}, false, ErrNotOwned
	}

	removed = removeAt(state, userID, idx)
	key := types.NameKey(removed.Name)
	if owner, ok := state.Claims[key]; ok && owner == userID && !owns(state, userID, key) {
		delete(state.Claims, key)
	}

	if catalog != nil {
		reinserted, err = catalog.AddIfAbsent(removed.Definition())
		if err != nil {
			// 状態は既に更新済み。カタログへの戻しだけ失敗した扱い
			return removed, false, nil
		}
	}
	return removed, reinserted, nil
}

// retarget moves the claim on key from one user to another when from held it
// and no longer owns a copy.
func retarget(state *types.ScopeState, key, from, to string) {
	if owner, ok := state.Claims[key]; ok && owner == from && !owns(state, from, key) {
		state.Claims[key] = to
	}
}

// Transfer moves the first match of name from one user to another.
func Transfer(state *types.ScopeState, from, to, name string) (types.OwnedCharacter, error) {
	if from == to {
		return types.OwnedCharacter{}, ErrSelfTransfer
	}
	idx := Find(state, from, name)
	if idx < 0 {
		return types.OwnedCharacter{}, ErrNotOwned
	}

	moved := removeAt(state, from, idx)
	state.Collections[to] = append(state.Collections[to], moved)
	retarget(state, types.NameKey(moved.Name), from, to)
	return moved, nil
}

// Trade swaps nameA (owned by a) with nameB (owned by b). Both are
// re-validated here; if either is gone nothing changes.
func Trade(state *types.ScopeState, a, b, nameA, nameB string) (toB, toA types.OwnedCharacter, err error) {
	if a == b {
		return types.OwnedCharacter{}, types.OwnedCharacter{}, ErrSelfTransfer
	}
	idxA := Find(state, a, nameA)
	idxB := Find(state, b, nameB)
	if idxA < 0 || idxB < 0 {
		return types.OwnedCharacter{}, types.OwnedCharacter{}, ErrNotOwned
	}

	toB = removeAt(state, a, idxA)
	toA = removeAt(state, b, idxB)
	state.Collections[b] = append(state.Collections[b], toB)
	state.Collections[a] = append(state.Collections[a], toA)

	retarget(state, types.NameKey(toB.Name), a, b)
	retarget(state, types.NameKey(toA.Name), b, a)
	return toB, toA, nil
}

// Sorted returns a copy of items ordered rarest first, then by acquisition.
func Sorted(items []types.OwnedCharacter) []types.OwnedCharacter {
	out := make([]types.OwnedCharacter, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rarity.Rank() > out[j].Rarity.Rank()
	})
	return out
}

// LeaderboardEntry is one row of the per-scope ranking.
type LeaderboardEntry struct {
	UserID   string               `json:"user_id"`
	Total    int                  `json:"total"`
	ByRarity map[types.Rarity]int `json:"by_rarity"`
}

// Leaderboard ranks users by collection size; ties break on user id.
func Leaderboard(state *types.ScopeState, limit int) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(state.Collections))
	for userID, items := range state.Collections {
		if len(items) == 0 {
			continue
		}
		byRarity := make(map[types.Rarity]int, len(types.Rarities))
		for _, r := range types.Rarities {
			byRarity[r] = 0
		}
		for _, c := range items {
			byRarity[c.Rarity]++
		}
		entries = append(entries, LeaderboardEntry{UserID: userID, Total: len(items), ByRarity: byRarity})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Total != entries[j].Total {
			return entries[i].Total > entries[j].Total
		}
		return entries[i].UserID < entries[j].UserID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
