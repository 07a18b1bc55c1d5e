package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ichi0g0y/gacha-bot/internal/types"
)

func TestLoad_Embedded(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.Len() == 0 {
		t.Fatalf("embedded catalog should not be empty")
	}
	for _, def := range p.All() {
		if def.Rarity.Rank() < 0 {
			t.Fatalf("unexpected rarity %q for %s", def.Rarity, def.Name)
		}
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "characters.yaml")
	doc := `characters:
  - name: Dogpool
    image: https://example.com/dogpool.png
    rarity: legendary
    weight: 0.02
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def, ok := p.Lookup("dogpool")
	if !ok {
		t.Fatalf("Dogpool should be loaded")
	}
	if def.Rarity != types.RarityLegendary {
		t.Fatalf("unexpected rarity: got=%q want=%q", def.Rarity, types.RarityLegendary)
	}
}

func TestParse_RejectsUnknownRarity(t *testing.T) {
	_, err := Parse([]byte("characters:\n  - name: X\n    rarity: Mythic\n    weight: 1\n"))
	if err == nil {
		t.Fatalf("expected error for unknown rarity")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
