package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
	"github.com/ichi0g0y/gacha-bot/internal/types"
)

//go:embed characters.yaml
var defaultCatalog []byte

type catalogFile struct {
	Characters []struct {
		Name   string  `yaml:"name"`
		Image  string  `yaml:"image"`
		Rarity string  `yaml:"rarity"`
		Weight float64 `yaml:"weight"`
	} `yaml:"characters"`
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) ([]types.CharacterDefinition, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	defs := make([]types.CharacterDefinition, 0, len(file.Characters))
	for i, c := range file.Characters {
		rarity, err := types.ParseRarity(c.Rarity)
		if err != nil {
			return nil, fmt.Errorf("character #%d (%s): %w", i, c.Name, err)
		}
		defs = append(defs, types.CharacterDefinition{
			Name:   c.Name,
			Image:  c.Image,
			Rarity: rarity,
			Weight: c.Weight,
		})
	}
	return defs, nil
}

// Load builds a pool from path, or from the embedded catalog when path is empty.
func Load(path string) (*Pool, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			logger.Error("Failed to read catalog file", zap.String("path", path), zap.Error(err))
			return nil, fmt.Errorf("failed to read catalog file: %w", err)
		}
		data = b
	}

	defs, err := Parse(data)
	if err != nil {
		return nil, err
	}
	pool, err := NewPool(defs)
	if err != nil {
		return nil, err
	}

	logger.Info("Character catalog loaded",
		zap.String("path", path),
		zap.Int("characters", pool.Len()))
	return pool, nil
}
