package battle_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regenlabs/regenmon/internal/game/battle"
)

func TestDefaultRegistry_BuiltinTypes(t *testing.T) {
	reg := battle.DefaultRegistry()
	require.Equal(t, []string{"agua", "fuego", "planta"}, reg.Keys())

	fuego, ok := reg.Type("fuego")
	require.True(t, ok)
	assert.Equal(t, battle.Stats{HP: 80, Atk: 90, Def: 60, Spd: 85}, fuego.Stats)

	agua, ok := reg.Type("agua")
	require.True(t, ok)
	assert.Equal(t, battle.Stats{HP: 90, Atk: 70, Def: 85, Spd: 70}, agua.Stats)

	planta, ok := reg.Type("planta")
	require.True(t, ok)
	assert.Equal(t, battle.Stats{HP: 85, Atk: 75, Def: 80, Spd: 75}, planta.Stats)
}

func TestDefaultRegistry_EveryTypeHasOneDefendMove(t *testing.T) {
	reg := battle.DefaultRegistry()
	for _, key := range reg.Keys() {
		moves := reg.Moves(key)
		require.NotEmpty(t, moves, "type %q has no moves", key)

		defends := 0
		attacks := 0
		for _, m := range moves {
			if m.IsDefend() {
				defends++
				assert.Greater(t, m.DefBoost, 1.0, "type %q move %q", key, m.ID)
			} else {
				attacks++
				assert.GreaterOrEqual(t, m.Power, 1, "type %q move %q", key, m.ID)
			}
		}
		assert.Equal(t, 1, defends, "type %q", key)
		assert.Equal(t, 3, attacks, "type %q", key)
	}
}

func TestRegistry_MovesForUnknownTypeIsNil(t *testing.T) {
	reg := battle.DefaultRegistry()
	assert.Nil(t, reg.Moves("sombra"))
}

func TestLoadTypeFromBytes_Valid(t *testing.T) {
	data := []byte(`
key: roca
name: Roca
stats: {hp: 100, atk: 60, def: 95, spd: 40}
moves:
  - {id: pedrada, name: Pedrada, emoji: "🪨", kind: attack, power: 50, accuracy: 90}
  - {id: muralla, name: Muralla, emoji: "🛡", kind: defend, accuracy: 100, def_boost: 2.0}
`)
	def, err := battle.LoadTypeFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, "roca", def.Key)
	assert.Equal(t, battle.Stats{HP: 100, Atk: 60, Def: 95, Spd: 40}, def.Stats)
	require.Len(t, def.Moves, 2)
	assert.Equal(t, battle.MoveAttack, def.Moves[0].Kind)
	assert.Equal(t, battle.MoveDefend, def.Moves[1].Kind)
}

func TestLoadTypeFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing key", `{name: X, stats: {hp: 1, atk: 1, def: 1, spd: 1}, moves: [{id: a, name: A, kind: attack, power: 1, accuracy: 100}]}`},
		{"zero stat", `{key: x, name: X, stats: {hp: 0, atk: 1, def: 1, spd: 1}, moves: [{id: a, name: A, kind: attack, power: 1, accuracy: 100}]}`},
		{"empty move set", `{key: x, name: X, stats: {hp: 1, atk: 1, def: 1, spd: 1}, moves: []}`},
		{"bad move kind", `{key: x, name: X, stats: {hp: 1, atk: 1, def: 1, spd: 1}, moves: [{id: a, name: A, kind: heal, power: 1, accuracy: 100}]}`},
		{"attack with def_boost", `{key: x, name: X, stats: {hp: 1, atk: 1, def: 1, spd: 1}, moves: [{id: a, name: A, kind: attack, power: 1, accuracy: 100, def_boost: 1.5}]}`},
		{"defend with boost <= 1", `{key: x, name: X, stats: {hp: 1, atk: 1, def: 1, spd: 1}, moves: [{id: a, name: A, kind: defend, accuracy: 100, def_boost: 1.0}]}`},
		{"accuracy out of range", `{key: x, name: X, stats: {hp: 1, atk: 1, def: 1, spd: 1}, moves: [{id: a, name: A, kind: attack, power: 1, accuracy: 101}]}`},
		{"duplicate move id", `{key: x, name: X, stats: {hp: 1, atk: 1, def: 1, spd: 1}, moves: [{id: a, name: A, kind: attack, power: 1, accuracy: 100}, {id: a, name: B, kind: attack, power: 2, accuracy: 100}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := battle.LoadTypeFromBytes([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadRegistry_FromDirectory(t *testing.T) {
	dir := t.TempDir()
	data := `
key: roca
name: Roca
stats: {hp: 100, atk: 60, def: 95, spd: 40}
moves:
  - {id: pedrada, name: Pedrada, emoji: "🪨", kind: attack, power: 50, accuracy: 90}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roca.yaml"), []byte(data), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	reg, err := battle.LoadRegistry(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"roca"}, reg.Keys())
}

func TestLoadRegistry_InvalidFileFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("key: ''"), 0o644))
	_, err := battle.LoadRegistry(dir)
	assert.Error(t, err)
}

func TestRegistry_RegisterDuplicateFails(t *testing.T) {
	reg := battle.NewRegistry()
	def := &battle.TypeDef{
		Key: "x", Name: "X",
		Stats: battle.Stats{HP: 1, Atk: 1, Def: 1, Spd: 1},
		Moves: []battle.Move{attackMove(10, 100)},
	}
	require.NoError(t, reg.Register(def))
	assert.Error(t, reg.Register(def))
}
