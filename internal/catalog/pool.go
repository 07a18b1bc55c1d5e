package catalog

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ichi0g0y/gacha-bot/internal/types"
)

var (
	ErrNoUnclaimedCharacters = errors.New("no unclaimed characters")
	ErrInvalidCharacter      = errors.New("invalid character definition")
	errInvalidWeightTotal    = errors.New("invalid total weight")
)

// weightedEntry は累積重み抽選に使用するエントリ。
type weightedEntry struct {
	CumulativeSum float64
	Definition    types.CharacterDefinition
}

// Pool is the shared, mutable character catalog.
type Pool struct {
	mu      sync.RWMutex
	entries []types.CharacterDefinition
}

// NewPool builds a pool from defs. Invalid entries are rejected.
func NewPool(defs []types.CharacterDefinition) (*Pool, error) {
	p := &Pool{entries: make([]types.CharacterDefinition, 0, len(defs))}
	for i, def := range defs {
		if err := p.Add(def); err != nil {
			return nil, fmt.Errorf("character #%d: %w", i, err)
		}
	}
	return p, nil
}

// 0..1 の一様乱数。テストで差し替える。
var drawRandomFloat = secureRandomFloat

// Draw picks one definition at random, proportionally to weight, among
// entries whose name key is not excluded.
func (p *Pool) Draw(exclude func(key string) bool) (types.CharacterDefinition, error) {
	p.mu.RLock()
	weighted, total := buildWeighted(p.entries, exclude)
	p.mu.RUnlock()

	if len(weighted) == 0 || total <= 0 {
		return types.CharacterDefinition{}, ErrNoUnclaimedCharacters
	}

	r, err := drawRandomFloat()
	if err != nil {
		return types.CharacterDefinition{}, fmt.Errorf("failed to pick random weight: %w", err)
	}

	target := r * total
	idx := sort.Search(len(weighted), func(i int) bool {
		return weighted[i].CumulativeSum > target
	})
	if idx >= len(weighted) {
		// r*total が丸めで total に達した場合は末尾を採用
		idx = len(weighted) - 1
	}

	return weighted[idx].Definition, nil
}

func buildWeighted(entries []types.CharacterDefinition, exclude func(string) bool) ([]weightedEntry, float64) {
	weighted := make([]weightedEntry, 0, len(entries))
	total := 0.0
	for _, def := range entries {
		if def.Weight <= 0 {
			continue
		}
		if exclude != nil && exclude(def.Key()) {
			continue
		}
		total += def.Weight
		weighted = append(weighted, weightedEntry{CumulativeSum: total, Definition: def})
	}
	return weighted, total
}

// Add appends def to the catalog.
func (p *Pool) Add(def types.CharacterDefinition) error {
	if err := validate(def); err != nil {
		return err
	}
	p.mu.Lock()
	p.entries = append(p.entries, def)
	p.mu.Unlock()
	return nil
}

// AddIfAbsent appends def unless a definition with the same name exists.
// It reports whether the catalog changed.
func (p *Pool) AddIfAbsent(def types.CharacterDefinition) (bool, error) {
	if err := validate(def); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexLocked(def.Key()) >= 0 {
		return false, nil
	}
	p.entries = append(p.entries, def)
	return true, nil
}

// Lookup returns the first definition named name.
func (p *Pool) Lookup(name string) (types.CharacterDefinition, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	idx := p.indexLocked(types.NameKey(name))
	if idx < 0 {
		return types.CharacterDefinition{}, false
	}
	return p.entries[idx], true
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// All returns a copy of the catalog.
func (p *Pool) All() []types.CharacterDefinition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.CharacterDefinition, len(p.entries))
	copy(out, p.entries)
	return out
}

func (p *Pool) indexLocked(key string) int {
	for i, def := range p.entries {
		if def.Key() == key {
			return i
		}
	}
	return -1
}

func validate(def types.CharacterDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidCharacter)
	}
	if def.Rarity.Rank() < 0 {
		return fmt.Errorf("%w: unknown rarity %q for %s", ErrInvalidCharacter, def.Rarity, def.Name)
	}
	if def.Weight <= 0 {
		return fmt.Errorf("%w: non-positive weight for %s", ErrInvalidCharacter, def.Name)
	}
	return nil
}

const randomFloatBits = 53

func secureRandomFloat() (float64, error) {
	n, err := crand.Int(crand.Reader, new(big.Int).Lsh(big.NewInt(1), randomFloatBits))
	if err != nil {
		return 0, err
	}
	if n.Sign() < 0 {
		return 0, errInvalidWeightTotal
	}
	return float64(n.Int64()) / float64(uint64(1)<<randomFloatBits), nil
}
