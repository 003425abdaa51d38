package battle

// PolicyState is the view of a battle a move policy decides on: the mover's
// move set and hit point situation.
type PolicyState struct {
	Moves []Move
	HP    int
	MaxHP int
}

// Policy chooses the next move for a scripted combatant. Implementations
// allow difficulty tiers or alternate strategies to be swapped without
// touching the controller state machine.
type Policy interface {
	// ChooseMove picks one move from state.Moves.
	//
	// Precondition: state.Moves must be non-empty.
	ChooseMove(state PolicyState, src Source) Move
}

// defendThresholdRatio is the HP fraction below which the weighted policy
// considers defending; defendChance is the probability it does.
const (
	defendThresholdRatio = 0.3
	defendChance         = 0.4
)

// WeightedPolicy is the default CPU strategy: when hurt (HP below 30% of
// max) and a defend move is available, defend with 40% probability;
// otherwise pick uniformly among the attack moves.
type WeightedPolicy struct{}

// ChooseMove implements Policy.
func (WeightedPolicy) ChooseMove(state PolicyState, src Source) Move {
	if defend, ok := findDefend(state.Moves); ok {
		hurt := state.HP < int(float64(state.MaxHP)*defendThresholdRatio)
		if hurt && src.Float64() < defendChance {
			return defend
		}
	}
	attacks := filterAttacks(state.Moves)
	if len(attacks) == 0 {
		// Move sets normally always contain attacks; fall back to anything.
		return state.Moves[src.Intn(len(state.Moves))]
	}
	return attacks[src.Intn(len(attacks))]
}

// AggressivePolicy always picks the highest-power attack available. It never
// defends.
type AggressivePolicy struct{}

// ChooseMove implements Policy.
func (AggressivePolicy) ChooseMove(state PolicyState, src Source) Move {
	attacks := filterAttacks(state.Moves)
	if len(attacks) == 0 {
		return state.Moves[src.Intn(len(state.Moves))]
	}
	best := attacks[0]
	for _, m := range attacks[1:] {
		if m.Power > best.Power {
			best = m
		}
	}
	return best
}

func findDefend(moves []Move) (Move, bool) {
	for _, m := range moves {
		if m.IsDefend() {
			return m, true
		}
	}
	return Move{}, false
}

func filterAttacks(moves []Move) []Move {
	var attacks []Move
	for _, m := range moves {
		if m.IsAttack() {
			attacks = append(attacks, m)
		}
	}
	return attacks
}
