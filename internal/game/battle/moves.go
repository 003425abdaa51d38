package battle

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// MoveKind distinguishes attack moves from defend moves.
type MoveKind int

const (
	MoveAttack MoveKind = iota
	MoveDefend
)

// String returns a human-readable kind label.
func (k MoveKind) String() string {
	switch k {
	case MoveAttack:
		return "attack"
	case MoveDefend:
		return "defend"
	default:
		return "unknown"
	}
}

// UnmarshalYAML parses the kind from its string form ("attack" or "defend").
func (k *MoveKind) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	switch s {
	case "attack":
		*k = MoveAttack
	case "defend":
		*k = MoveDefend
	default:
		return fmt.Errorf("move kind must be \"attack\" or \"defend\", got %q", s)
	}
	return nil
}

// MarshalYAML renders the kind as its string form.
func (k MoveKind) MarshalYAML() (any, error) {
	return k.String(), nil
}

// Move is one entry in a creature type's fixed move set.
//
// Power and DefBoost are mutually exclusive: attack moves carry Power and no
// DefBoost; defend moves carry DefBoost and no Power.
type Move struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name"`
	Emoji string   `yaml:"emoji"`
	Kind  MoveKind `yaml:"kind"`
	// Power scales attack damage. Zero for defend moves.
	Power int `yaml:"power"`
	// Accuracy is the hit chance in percent, 1-100.
	Accuracy int `yaml:"accuracy"`
	// DefBoost is the defense multiplier granted by a defend move, applied to
	// the user's next single incoming attack. Zero for attack moves.
	DefBoost float64 `yaml:"def_boost"`
}

// Validate checks the move's invariants.
//
// Postcondition: Returns nil iff ID and Name are non-empty, Accuracy is in
// [1,100], and the kind-specific field (Power or DefBoost) is set correctly.
func (m *Move) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("move: id must not be empty")
	}
	if m.Name == "" {
		return fmt.Errorf("move %q: name must not be empty", m.ID)
	}
	if m.Accuracy < 1 || m.Accuracy > 100 {
		return fmt.Errorf("move %q: accuracy must be 1-100, got %d", m.ID, m.Accuracy)
	}
	switch m.Kind {
	case MoveAttack:
		if m.Power < 1 {
			return fmt.Errorf("move %q: attack power must be >= 1, got %d", m.ID, m.Power)
		}
		if m.DefBoost != 0 {
			return fmt.Errorf("move %q: attack moves must not set def_boost", m.ID)
		}
	case MoveDefend:
		if m.DefBoost <= 1 {
			return fmt.Errorf("move %q: def_boost must be > 1, got %v", m.ID, m.DefBoost)
		}
		if m.Power != 0 {
			return fmt.Errorf("move %q: defend moves must not set power", m.ID)
		}
	default:
		return fmt.Errorf("move %q: unknown kind %d", m.ID, m.Kind)
	}
	return nil
}

// IsAttack reports whether this is an attack move.
func (m Move) IsAttack() bool { return m.Kind == MoveAttack }

// IsDefend reports whether this is a defend move.
func (m Move) IsDefend() bool { return m.Kind == MoveDefend }
