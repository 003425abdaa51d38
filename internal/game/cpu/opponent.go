package cpu

import (
	"fmt"

	"github.com/regenlabs/regenmon/internal/game/battle"
)

// opponentNames is the fixed display-name pool for generated opponents.
var opponentNames = []string{
	"Darkveil", "Pyrax", "Glacius", "Noctis", "Ignis", "Frostbyte",
}

// GenerateOpponent builds a scripted opponent: a random registered type
// (the player's own type included), a random name from the fixed pool, and
// stats copied verbatim from the type's base stats.
//
// Precondition: reg must hold at least one type; src must be non-nil.
func GenerateOpponent(reg *battle.Registry, src battle.Source) (battle.CombatProfile, error) {
	keys := reg.Keys()
	if len(keys) == 0 {
		return battle.CombatProfile{}, fmt.Errorf("generating opponent: registry has no types")
	}
	key := keys[src.Intn(len(keys))]
	def, _ := reg.Type(key)

	return battle.CombatProfile{
		Name:    opponentNames[src.Intn(len(opponentNames))],
		TypeKey: key,
		Stats:   def.Stats,
	}, nil
}
