package types

import (
	"fmt"
	"strings"
	"time"
)

// Rarity はキャラクターのレア度。
type Rarity string

const (
	RarityCommon    Rarity = "Common"
	RarityRare      Rarity = "Rare"
	RarityEpic      Rarity = "Epic"
	RarityLegendary Rarity = "Legendary"
)

// Rarities lists every rarity from lowest to highest.
var Rarities = []Rarity{RarityCommon, RarityRare, RarityEpic, RarityLegendary}

// Rank returns the sort rank of the rarity; higher is rarer. Unknown is -1.
func (r Rarity) Rank() int {
	for i, known := range Rarities {
		if r == known {
			return i
		}
	}
	return -1
}

// ParseRarity accepts any casing of a known rarity.
func ParseRarity(s string) (Rarity, error) {
	for _, known := range Rarities {
		if strings.EqualFold(strings.TrimSpace(s), string(known)) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown rarity %q", s)
}

// NameKey normalizes a character name for case-insensitive identity.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CharacterDefinition はカタログ上のキャラクター定義。
type CharacterDefinition struct {
	Name   string  `json:"name" yaml:"name"`
	Image  string  `json:"image" yaml:"image"`
	Rarity Rarity  `json:"rarity" yaml:"rarity"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// Key returns the case-insensitive identity of the definition.
func (d CharacterDefinition) Key() string {
	return NameKey(d.Name)
}

// OwnedCharacter is a user's snapshot of a claimed definition.
type OwnedCharacter struct {
	Name       string    `json:"name"`
	Image      string    `json:"image"`
	Rarity     Rarity    `json:"rarity"`
	Weight     float64   `json:"weight"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Definition converts the snapshot back into a catalog entry.
func (o OwnedCharacter) Definition() CharacterDefinition {
	return CharacterDefinition{Name: o.Name, Image: o.Image, Rarity: o.Rarity, Weight: o.Weight}
}

// Snapshot captures def as owned at t.
func Snapshot(def CharacterDefinition, t time.Time) OwnedCharacter {
	return OwnedCharacter{
		Name:       def.Name,
		Image:      def.Image,
		Rarity:     def.Rarity,
		Weight:     def.Weight,
		AcquiredAt: t,
	}
}

// RollWindow はユーザーごとの1時間のロール/クレーム枠。
type RollWindow struct {
	StartedAt time.Time `json:"started_at"`
	Rolls     int       `json:"rolls"`
	Claims    int       `json:"claims"`
}

// ScopeState is everything persisted for one independent scope (guild/channel).
type ScopeState struct {
	// Collections maps user id to owned characters in acquisition order.
	Collections map[string][]OwnedCharacter `json:"user_collection"`
	// Claims maps name key to the owning user id.
	Claims       map[string]string     `json:"claimed_characters"`
	Rolls        map[string]RollWindow `json:"roll_windows"`
	SpawnChannel string                `json:"spawn_channel,omitempty"`
}

// NewScopeState returns an empty, fully initialized state.
func NewScopeState() *ScopeState {
	s := &ScopeState{}
	s.Normalize()
	return s
}

// Normalize fills nil maps after decoding.
func (s *ScopeState) Normalize() {
	if s.Collections == nil {
		s.Collections = make(map[string][]OwnedCharacter)
	}
	if s.Claims == nil {
		s.Claims = make(map[string]string)
	}
	if s.Rolls == nil {
		s.Rolls = make(map[string]RollWindow)
	}
}

// IsClaimed reports whether name is registered in the claim registry.
func (s *ScopeState) IsClaimed(name string) bool {
	_, ok := s.Claims[NameKey(name)]
	return ok
}
