package battle

import "math"

// Random-factor bounds for attack damage. The factor is drawn uniformly from
// [factorMin, factorMin+factorSpread).
const (
	factorMin    = 0.85
	factorSpread = 0.3
)

// MoveResult holds the outcome of resolving a single move.
type MoveResult struct {
	// Damage dealt to the defender. Zero for misses and defends; at least 1
	// for any attack that connects.
	Damage int
	// Missed is true when the accuracy roll failed. No other field is
	// meaningful when Missed is true.
	Missed bool
	// Defending is true for a successful defend move.
	Defending bool
	// DefBoost is the defense multiplier granted to the mover when Defending
	// is true. The caller stores it and applies it to the mover's next single
	// incoming attack only.
	DefBoost float64
}

// ResolveMove computes the outcome of one move. The attacker's and defender's
// stats are read-only; defenderBoost is the defender's currently active
// defense multiplier (1 when none).
//
// Accuracy: a uniform roll in [0,100) that exceeds the move's accuracy is a
// miss, with no further computation. A defend move that passes the roll
// always succeeds and grants its boost. An attack that passes deals
// round(power * atk/(def*boost) * f) damage for f uniform in [0.85, 1.15),
// never less than 1.
//
// Precondition: move must have passed Validate; defenderBoost >= 1; src must
// be non-nil.
// Postcondition: with a fixed src the result is exactly reproducible.
func ResolveMove(move Move, attacker, defender Stats, defenderBoost float64, src Source) MoveResult {
	roll := src.Float64() * 100
	if roll > float64(move.Accuracy) {
		return MoveResult{Missed: true}
	}

	switch move.Kind {
	case MoveDefend:
		return MoveResult{Defending: true, DefBoost: move.DefBoost}
	case MoveAttack:
		effectiveDef := float64(defender.Def) * defenderBoost
		ratio := float64(attacker.Atk) / effectiveDef
		factor := factorMin + src.Float64()*factorSpread
		damage := int(math.Round(float64(move.Power) * ratio * factor))
		if damage < 1 {
			damage = 1
		}
		return MoveResult{Damage: damage}
	default:
		panic("battle: ResolveMove called with unknown move kind")
	}
}

// Source is the subset of rng.Source used by the battle rules. Using a local
// interface keeps the rules package free of infrastructure imports.
type Source interface {
	Intn(n int) int
	Float64() float64
}
