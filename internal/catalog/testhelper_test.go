package catalog

import (
	"fmt"

	"github.com/ichi0g0y/gacha-bot/internal/types"
)

// GenerateCharacters は n 件のテスト用キャラクター定義を生成する。
func GenerateCharacters(n int) []types.CharacterDefinition {
	defs := make([]types.CharacterDefinition, 0, n)
	for i := 0; i < n; i++ {
		rarity := types.Rarities[i%len(types.Rarities)]
		defs = append(defs, types.CharacterDefinition{
			Name:   fmt.Sprintf("character-%d", i),
			Rarity: rarity,
			Weight: float64(len(types.Rarities)-rarity.Rank()) * 0.05,
		})
	}
	return defs
}

func mustPool(defs []types.CharacterDefinition) *Pool {
	p, err := NewPool(defs)
	if err != nil {
		panic(err)
	}
	return p
}
