// Package battle implements the turn-based battle rules for Regenmon:
// move resolution, turn order, creature type data, and CPU move policies.
package battle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stats holds the four combat stats of a creature. HP is the maximum hit
// point pool; current HP during a battle is tracked by the controllers.
type Stats struct {
	HP  int `yaml:"hp"`
	Atk int `yaml:"atk"`
	Def int `yaml:"def"`
	Spd int `yaml:"spd"`
}

// CombatProfile is the immutable per-battle view of one creature.
type CombatProfile struct {
	Name    string
	TypeKey string
	Stats   Stats
}

// TypeDef defines one creature type loaded from YAML: base stats plus the
// fixed move set shared by every creature of that type.
type TypeDef struct {
	Key         string `yaml:"key"`
	Name        string `yaml:"name"`
	Emoji       string `yaml:"emoji"`
	Description string `yaml:"description"`
	Stats       Stats  `yaml:"stats"`
	Moves       []Move `yaml:"moves"`
}

// Validate checks that the type definition satisfies basic invariants.
//
// Precondition: t must not be nil.
// Postcondition: Returns nil iff Key and Name are non-empty, all stats are
// >= 1, the move set is non-empty, and every move validates; returns an error
// on the first violation otherwise.
func (t *TypeDef) Validate() error {
	if t.Key == "" {
		return fmt.Errorf("type def: key must not be empty")
	}
	if t.Name == "" {
		return fmt.Errorf("type def %q: name must not be empty", t.Key)
	}
	if t.Stats.HP < 1 || t.Stats.Atk < 1 || t.Stats.Def < 1 || t.Stats.Spd < 1 {
		return fmt.Errorf("type def %q: all stats must be >= 1, got %+v", t.Key, t.Stats)
	}
	if len(t.Moves) == 0 {
		return fmt.Errorf("type def %q: move set must not be empty", t.Key)
	}
	seen := make(map[string]bool, len(t.Moves))
	for i := range t.Moves {
		if err := t.Moves[i].Validate(); err != nil {
			return fmt.Errorf("type def %q: %w", t.Key, err)
		}
		if seen[t.Moves[i].ID] {
			return fmt.Errorf("type def %q: duplicate move id %q", t.Key, t.Moves[i].ID)
		}
		seen[t.Moves[i].ID] = true
	}
	return nil
}

// Registry holds the defined creature types keyed by type key.
//
// Invariant: every stored TypeDef has passed Validate.
type Registry struct {
	types map[string]*TypeDef
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*TypeDef)}
}

// Register adds a validated type definition to the registry.
//
// Postcondition: Returns an error if def fails validation or its key is
// already registered; otherwise the def is retrievable via Type.
func (r *Registry) Register(def *TypeDef) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, exists := r.types[def.Key]; exists {
		return fmt.Errorf("type %q already registered", def.Key)
	}
	r.types[def.Key] = def
	return nil
}

// Type returns the definition for the given type key.
//
// Postcondition: Returns (def, true) if found, or (nil, false) otherwise.
func (r *Registry) Type(key string) (*TypeDef, bool) {
	def, ok := r.types[key]
	return def, ok
}

// Keys returns all registered type keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.types))
	for k := range r.types {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Moves returns the move set for the given type key, or nil if the type is
// not registered. The returned slice must not be mutated.
func (r *Registry) Moves(key string) []Move {
	def, ok := r.types[key]
	if !ok {
		return nil
	}
	return def.Moves
}

// LoadTypeFromBytes parses a single creature type definition from raw YAML.
//
// Precondition: data must be valid YAML for a single TypeDef.
// Postcondition: Returns a validated *TypeDef, or an error.
func LoadTypeFromBytes(data []byte) (*TypeDef, error) {
	var def TypeDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing type YAML: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadRegistry reads all *.yaml files in dir and returns a Registry holding
// the parsed type definitions.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns a populated Registry or an error on the first parse
// or validate failure; on error, the partial result is discarded.
func LoadRegistry(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading types dir %q: %w", dir, err)
	}

	reg := NewRegistry()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}

		def, err := LoadTypeFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
		if err := reg.Register(def); err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
	}
	return reg, nil
}
