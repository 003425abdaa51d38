package battle

// FirstTurn decides which side acts first. Higher Spd wins; an exact tie is
// resolved by a fair coin flip drawn from src.
//
// Postcondition: Returns 1 iff side one acts first, 2 otherwise.
func FirstTurn(one, two Stats, src Source) int {
	if one.Spd != two.Spd {
		if one.Spd > two.Spd {
			return 1
		}
		return 2
	}
	if src.Intn(2) == 0 {
		return 1
	}
	return 2
}
