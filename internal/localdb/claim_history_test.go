package localdb

import (
	"testing"
	"time"
)

func TestClaimHistoryCRUD(t *testing.T) {
	setupTestDB(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	records := []ClaimHistory{
		{ScopeID: "guild-1", SpawnID: "s1", Character: "Skrull 1", Rarity: "Common", UserID: "alice", Source: "spawn", ClaimedAt: base},
		{ScopeID: "guild-1", SpawnID: "s2", Character: "Dogpool", Rarity: "Legendary", UserID: "bob", Source: "roll", ClaimedAt: base.Add(time.Minute)},
		{ScopeID: "guild-2", SpawnID: "s3", Character: "Colossus", Rarity: "Rare", UserID: "carol", Source: "spawn", ClaimedAt: base},
	}
	for _, r := range records {
		if err := SaveClaimHistory(r); err != nil {
			t.Fatalf("SaveClaimHistory failed: %v", err)
		}
	}

	history, err := GetClaimHistory("guild-1", 10)
	if err != nil {
		t.Fatalf("GetClaimHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("unexpected history length: got=%d want=2", len(history))
	}
	if history[0].Character != "Dogpool" {
		t.Fatalf("history should be newest first: got=%q want=%q", history[0].Character, "Dogpool")
	}

	limited, err := GetClaimHistory("guild-1", 1)
	if err != nil {
		t.Fatalf("GetClaimHistory with limit failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("unexpected limited length: got=%d want=1", len(limited))
	}

	if err := DeleteClaimHistory("guild-1"); err != nil {
		t.Fatalf("DeleteClaimHistory failed: %v", err)
	}
	history, err = GetClaimHistory("guild-1", 0)
	if err != nil {
		t.Fatalf("GetClaimHistory after delete failed: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("history should be empty: got=%d", len(history))
	}

	other, _ := GetClaimHistory("guild-2", 0)
	if len(other) != 1 {
		t.Fatalf("other scope must be untouched: got=%d want=1", len(other))
	}
}
